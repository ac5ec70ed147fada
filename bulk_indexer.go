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
	"strings"
	"unsafe"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
)

// BulkIndexerConfig holds configuration for BulkIndexer.
type BulkIndexerConfig struct {
	// Client holds the Elasticsearch client.
	Client esapi.Transport

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int
}

// BulkIndexer fills a single bulk request buffer with "index" actions, and
// sends it to Elasticsearch when Flush is called. It is not safe for
// concurrent use.
type BulkIndexer struct {
	config       BulkIndexerConfig
	itemsAdded   int
	bytesFlushed int
	jsonw        fastjson.Writer
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
}

type BulkIndexerResponseStat struct {
	Indexed    int64
	FailedDocs []BulkIndexerResponseItem
}

// BulkIndexerResponseItem describes a document rejected by a bulk request.
type BulkIndexerResponseItem struct {
	// Position holds the index of the document within the request.
	Position int
	Status   int

	Error struct {
		Type   string
		Reason string
	}
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("doctransform.BulkIndexerResponseStat", decodeBulkResponse)
}

// decodeBulkResponse reads the "items" array of a bulk response and stops
// there. Each item is an object keyed by its action type.
func decodeBulkResponse(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	stat := (*BulkIndexerResponseStat)(ptr)
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		if field != "items" {
			iter.Skip()
			return true
		}
		var position int
		iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
			item := BulkIndexerResponseItem{Position: position}
			position++
			iter.ReadMapCB(func(iter *jsoniter.Iterator, _ string) bool {
				decodeBulkItem(iter, &item)
				return true
			})
			if item.Error.Type != "" || item.Status >= 300 {
				stat.FailedDocs = append(stat.FailedDocs, item)
			} else {
				stat.Indexed++
			}
			return true
		})
		return false
	})
}

func decodeBulkItem(iter *jsoniter.Iterator, item *BulkIndexerResponseItem) {
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		switch field {
		case "status":
			item.Status = iter.ReadInt()
		case "error":
			iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
				switch field {
				case "type":
					item.Error.Type = iter.ReadString()
				case "reason":
					// Drop the preview of the rejected value.
					item.Error.Reason, _, _ = strings.Cut(iter.ReadString(), ". Preview")
				default:
					iter.Skip()
				}
				return true
			})
		default:
			iter.Skip()
		}
		return true
	})
}

// NewBulkIndexer returns a bulk indexer that issues bulk requests to Elasticsearch.
func NewBulkIndexer(cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is nil")
	}
	if err := validateCompressionLevel(cfg.CompressionLevel); err != nil {
		return nil, err
	}

	b := &BulkIndexer{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b, nil
}

func validateCompressionLevel(level int) error {
	if level < gzip.DefaultCompression || level > gzip.BestCompression {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			level,
		)
	}
	return nil
}

func (b *BulkIndexer) resetBuf() {
	b.itemsAdded = 0
	b.buf.Reset()
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// Items returns the number of buffered items.
func (b *BulkIndexer) Items() int {
	return b.itemsAdded
}

// Len returns the number of buffered bytes. With compression enabled this
// excludes data still held by the gzip writer.
func (b *BulkIndexer) Len() int {
	return b.buf.Len()
}

// BytesFlushed returns the number of bytes sent by the last successful Flush.
func (b *BulkIndexer) BytesFlushed() int {
	return b.bytesFlushed
}

type BulkIndexerItem struct {
	Index string
	Body  io.WriterTo
}

// Add encodes an item in the buffer.
func (b *BulkIndexer) Add(item BulkIndexerItem) error {
	if err := b.writeMeta(item.Index); err != nil {
		return fmt.Errorf("failed to write bulk indexer action: %w", err)
	}
	if _, err := item.Body.WriteTo(b.writer); err != nil {
		return fmt.Errorf("failed to write bulk indexer item: %w", err)
	}
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.itemsAdded++
	return nil
}

func (b *BulkIndexer) writeMeta(index string) error {
	b.jsonw.RawString(`{"index":{`)
	if index != "" {
		b.jsonw.RawString(`"_index":`)
		b.jsonw.String(index)
	}
	b.jsonw.RawString("}}\n")
	_, err := b.writer.Write(b.jsonw.Bytes())
	b.jsonw.Reset()
	return err
}

// Flush executes a bulk request if there are any items buffered, and clears out the buffer.
func (b *BulkIndexer) Flush(ctx context.Context) (BulkIndexerResponseStat, error) {
	b.bytesFlushed = 0
	if b.itemsAdded == 0 {
		return BulkIndexerResponseStat{}, nil
	}

	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return BulkIndexerResponseStat{}, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:       &b.buf,
		Header:     make(http.Header),
		FilterPath: []string{"items.*.status", "items.*.error.type", "items.*.error.reason"},
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		b.resetBuf()
		return BulkIndexerResponseStat{}, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()
	b.resetBuf()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	b.bytesFlushed = bytesFlushed
	var resp BulkIndexerResponseStat
	if res.IsError() {
		return resp, newErrorResponse("bulk", res)
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("error decoding bulk response: %w", err)
	}
	return resp, nil
}
