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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// spool is the intermediate file holding enriched documents between the
// export and import phases, one JSON object per line. It is private to a
// single Transform call.
type spool struct {
	file  *os.File
	w     *bufio.Writer
	lines int64
	bytes int64
}

func createSpool(dir string) (*spool, error) {
	f, err := os.CreateTemp(dir, "doctransform-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("failed to create intermediate file: %w", err)
	}
	return &spool{file: f, w: bufio.NewWriter(f)}, nil
}

// Name returns the path of the intermediate file.
func (s *spool) Name() string {
	return s.file.Name()
}

// Write appends doc as a single line.
func (s *spool) Write(doc Document) error {
	b, err := jsonAPI.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("failed to write intermediate file: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write intermediate file: %w", err)
	}
	s.lines++
	s.bytes += int64(len(b)) + 1
	return nil
}

// Reader flushes pending writes and returns a Cursor reading the file from
// the beginning.
func (s *spool) Reader() (Cursor, error) {
	if err := s.w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush intermediate file: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind intermediate file: %w", err)
	}
	return &spoolReader{name: s.file.Name(), r: bufio.NewReader(s.file)}, nil
}

// Remove closes and deletes the intermediate file.
func (s *spool) Remove() error {
	return errors.Join(s.file.Close(), os.Remove(s.file.Name()))
}

type spoolReader struct {
	name string
	r    *bufio.Reader
	line int
}

func (r *spoolReader) Next(ctx context.Context) (Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read intermediate file: %w", err)
		}
		r.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var doc Document
		if err := jsonAPI.Unmarshal(line, &doc); err != nil {
			return nil, fmt.Errorf("malformed document on line %d of %s: %w", r.line, r.name, err)
		}
		if doc == nil {
			return nil, fmt.Errorf("malformed document on line %d of %s: not a JSON object", r.line, r.name)
		}
		return doc, nil
	}
}

func (r *spoolReader) Close(context.Context) error {
	return nil
}
