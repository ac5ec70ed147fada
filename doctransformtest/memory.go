// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package doctransformtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/elastic/go-doctransform"
)

// MemoryStore is a thread-safe doctransform.Store fake holding documents in
// memory, keyed by index name.
type MemoryStore struct {
	// ScanErr, if set, is returned by the cursor after ScanErrAfter
	// documents have been read.
	ScanErr      error
	ScanErrAfter int

	// BulkIndexErr, if set, is returned by BulkIndex after all documents
	// have been drained from the cursor and stored.
	BulkIndexErr error

	mu       sync.RWMutex
	indices  map[string][]doctransform.Document
	openScan int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[string][]doctransform.Document)}
}

// AddIndex creates index holding docs.
func (s *MemoryStore) AddIndex(index string, docs ...doctransform.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[index] = append([]doctransform.Document{}, docs...)
}

// HasIndex reports whether index exists.
func (s *MemoryStore) HasIndex(index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[index]
	return ok
}

// Documents returns the documents stored in index.
func (s *MemoryStore) Documents(index string) []doctransform.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]doctransform.Document{}, s.indices[index]...)
}

// OpenCursors returns the number of scan cursors not yet closed.
func (s *MemoryStore) OpenCursors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openScan
}

func (s *MemoryStore) Scan(ctx context.Context, index string, query doctransform.Query) (doctransform.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.indices[index]
	if !ok {
		return nil, &doctransform.ErrorResponse{
			Op:         "search",
			StatusCode: http.StatusNotFound,
			Type:       "index_not_found_exception",
			Reason:     fmt.Sprintf("no such index [%s]", index),
		}
	}
	s.openScan++
	return &memoryCursor{
		store:    s,
		docs:     append([]doctransform.Document{}, docs...),
		err:      s.ScanErr,
		errAfter: s.ScanErrAfter,
	}, nil
}

func (s *MemoryStore) CreateIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[index]; ok {
		return &doctransform.ErrorResponse{
			Op:         "create index",
			StatusCode: http.StatusBadRequest,
			Type:       "resource_already_exists_exception",
			Reason:     fmt.Sprintf("index [%s] already exists", index),
		}
	}
	s.indices[index] = []doctransform.Document{}
	return nil
}

func (s *MemoryStore) BulkIndex(ctx context.Context, index string, docs doctransform.Cursor) (doctransform.BulkIndexStat, error) {
	var stat doctransform.BulkIndexStat
	for {
		doc, err := docs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stat, err
		}
		s.mu.Lock()
		s.indices[index] = append(s.indices[index], doc)
		s.mu.Unlock()
		stat.Indexed++
	}
	stat.BulkRequests = 1
	return stat, s.BulkIndexErr
}

type memoryCursor struct {
	store    *MemoryStore
	docs     []doctransform.Document
	pos      int
	err      error
	errAfter int
	closed   bool
}

func (c *memoryCursor) Next(ctx context.Context) (doctransform.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.err != nil && c.pos >= c.errAfter {
		return nil, c.err
	}
	if c.closed || c.pos >= len(c.docs) {
		return nil, io.EOF
	}
	doc := c.docs[c.pos]
	c.pos++
	return doc, nil
}

func (c *memoryCursor) Close(context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.openScan--
	return nil
}
