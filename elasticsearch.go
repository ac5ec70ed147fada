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

package doctransform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.uber.org/zap"
)

// ElasticsearchStore is a Store backed by an Elasticsearch cluster.
//
// Documents are read with the scroll API and written with the _bulk API.
// It is only tested with v7 and v8 go-elasticsearch clients.
type ElasticsearchStore struct {
	client elastictransport.Interface
	config StoreConfig
}

// NewElasticsearchClient returns a go-elasticsearch client for cfg, with its
// HTTP transport instrumented so that requests made within an APM
// transaction are recorded as spans.
func NewElasticsearchClient(cfg elasticsearch.Config) (*elasticsearch.Client, error) {
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	cfg.Transport = apmelasticsearch.WrapRoundTripper(rt)
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// NewElasticsearchStore returns a new ElasticsearchStore using client.
func NewElasticsearchStore(client elastictransport.Interface, cfg StoreConfig) (*ElasticsearchStore, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	cfg = DefaultStoreConfig(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ElasticsearchStore{client: client, config: cfg}, nil
}

// Scan returns a Cursor that scrolls through all documents in index
// matching query, in index order. The cursor must be closed to release the
// scroll context.
func (s *ElasticsearchStore) Scan(ctx context.Context, index string, query Query) (Cursor, error) {
	c, err := openScroll(ctx, s.client, s.config.Logger, s.config, index, query)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateIndex creates index with default settings and dynamic mapping.
func (s *ElasticsearchStore) CreateIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesCreateRequest{Index: index}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to execute the create index request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return newErrorResponse("create index", res)
	}
	s.config.Logger.Debug("created index", zap.String("index", index))
	return nil
}

// BulkIndex indexes every document produced by docs into index. A request is
// flushed whenever the buffered body reaches FlushBytes, and once more after
// docs is exhausted.
//
// BulkIndex stops at the first bulk request containing rejected documents,
// returning a *BulkIndexError. Documents from earlier requests remain indexed.
func (s *ElasticsearchStore) BulkIndex(ctx context.Context, index string, docs Cursor) (BulkIndexStat, error) {
	var stat BulkIndexStat
	indexer, err := NewBulkIndexer(BulkIndexerConfig{
		Client:           s.client,
		CompressionLevel: s.config.CompressionLevel,
	})
	if err != nil {
		return stat, fmt.Errorf("error creating bulk indexer: %w", err)
	}

	flush := func() error {
		n := indexer.Items()
		resp, err := indexer.Flush(ctx)
		if flushed := indexer.BytesFlushed(); flushed > 0 {
			stat.BulkRequests++
			stat.BytesFlushed += int64(flushed)
		}
		if err != nil {
			s.config.Logger.Error("bulk indexing request failed", zap.Error(err))
			return fmt.Errorf("failed to flush %d document(s): %w", n, err)
		}
		stat.Indexed += resp.Indexed
		stat.Failed += int64(len(resp.FailedDocs))
		if len(resp.FailedDocs) > 0 {
			for _, info := range resp.FailedDocs {
				s.config.Logger.Error(fmt.Sprintf("failed to index document in '%s' (%s): %s",
					index, info.Error.Type, info.Error.Reason,
				), zap.Int("position", info.Position), zap.Int("status", info.Status))
			}
			return &BulkIndexError{Index: index, Failed: resp.FailedDocs}
		}
		s.config.Logger.Debug(
			"bulk request completed",
			zap.String("index", index),
			zap.Int64("docs_indexed", resp.Indexed),
			zap.Int("bytes", indexer.BytesFlushed()),
		)
		return nil
	}

	for {
		doc, err := docs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stat, err
		}
		body, err := jsonAPI.Marshal(doc)
		if err != nil {
			return stat, fmt.Errorf("failed to encode document: %w", err)
		}
		if err := indexer.Add(BulkIndexerItem{
			Index: index,
			Body:  bytes.NewReader(body),
		}); err != nil {
			return stat, err
		}
		if indexer.Len() >= s.config.FlushBytes {
			if err := flush(); err != nil {
				return stat, err
			}
		}
	}
	if err := flush(); err != nil {
		return stat, err
	}
	return stat, nil
}
