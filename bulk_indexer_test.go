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

package doctransform_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-doctransform"
	"github.com/elastic/go-doctransform/doctransformtest"
)

func TestBulkIndexer(t *testing.T) {
	for _, tc := range []struct {
		Name             string
		CompressionLevel int
	}{
		{Name: "no_compression", CompressionLevel: gzip.NoCompression},
		{Name: "default_compression", CompressionLevel: gzip.DefaultCompression},
		{Name: "most_compression", CompressionLevel: gzip.BestCompression},
		{Name: "speed_compression", CompressionLevel: gzip.BestSpeed},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			var received []doctransformtest.BulkItem
			var contentEncoding string
			client := doctransformtest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
				contentEncoding = r.Header.Get("Content-Encoding")
				items, result := doctransformtest.DecodeBulkRequest(r)
				received = append(received, items...)
				json.NewEncoder(w).Encode(result)
			})
			indexer, err := doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{
				Client:           client,
				CompressionLevel: tc.CompressionLevel,
			})
			require.NoError(t, err)

			const N = 100
			for i := 0; i < N; i++ {
				require.NoError(t, indexer.Add(doctransform.BulkIndexerItem{
					Index: "testidx",
					Body:  newJSONReader(map[string]any{"i": i}),
				}))
			}
			assert.Equal(t, N, indexer.Items())

			stat, err := indexer.Flush(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(N), stat.Indexed)
			assert.Empty(t, stat.FailedDocs)
			assert.Greater(t, indexer.BytesFlushed(), 0)

			// nothing is in the buffer after a flush
			assert.Equal(t, 0, indexer.Items())
			assert.Equal(t, 0, indexer.Len())

			require.Len(t, received, N)
			for i, item := range received {
				assert.Equal(t, "index", item.Action)
				assert.Equal(t, "testidx", item.Index)
				assert.JSONEq(t, `{"i":`+strconv.Itoa(i)+`}`, string(item.Source))
			}
			if tc.CompressionLevel == gzip.NoCompression {
				assert.Empty(t, contentEncoding)
			} else {
				assert.Equal(t, "gzip", contentEncoding)
			}
		})
	}
}

func TestBulkIndexerFlushEmpty(t *testing.T) {
	client := doctransformtest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected bulk request")
	})
	indexer, err := doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	stat, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doctransform.BulkIndexerResponseStat{}, stat)
	assert.Equal(t, 0, indexer.BytesFlushed())
}

func TestBulkIndexerFailedDocuments(t *testing.T) {
	client := doctransformtest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, result := doctransformtest.DecodeBulkRequest(r)
		result.HasErrors = true
		for action, item := range result.Items[1] {
			item.Status = http.StatusBadRequest
			item.Error.Type = "mapper_parsing_exception"
			item.Error.Reason = "failed to parse field [x] of type [long]. Preview of field's value: 'abc'"
			result.Items[1][action] = item
		}
		json.NewEncoder(w).Encode(result)
	})
	indexer, err := doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, indexer.Add(doctransform.BulkIndexerItem{
			Index: "testidx",
			Body:  newJSONReader(map[string]any{"x": "abc"}),
		}))
	}
	stat, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.Indexed)
	require.Len(t, stat.FailedDocs, 1)
	failed := stat.FailedDocs[0]
	assert.Equal(t, 1, failed.Position)
	assert.Equal(t, http.StatusBadRequest, failed.Status)
	assert.Equal(t, "mapper_parsing_exception", failed.Error.Type)
	assert.Equal(t, "failed to parse field [x] of type [long]", failed.Error.Reason)
}

func TestBulkIndexerRequestError(t *testing.T) {
	client := doctransformtest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"es_rejected_execution_exception","reason":"rejected execution"},"status":429}`))
	})
	indexer, err := doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	require.NoError(t, indexer.Add(doctransform.BulkIndexerItem{
		Index: "testidx",
		Body:  newJSONReader(map[string]any{"a": "b"}),
	}))
	_, err = indexer.Flush(context.Background())
	var errResp *doctransform.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, http.StatusTooManyRequests, errResp.StatusCode)
	assert.Equal(t, "es_rejected_execution_exception", errResp.Type)
	assert.Equal(t, 0, indexer.Items())
}

func TestNewBulkIndexerInvalidConfig(t *testing.T) {
	_, err := doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{})
	assert.EqualError(t, err, "client is nil")

	client := doctransformtest.NewMockElasticsearchClient(t, func(http.ResponseWriter, *http.Request) {})
	_, err = doctransform.NewBulkIndexer(doctransform.BulkIndexerConfig{Client: client, CompressionLevel: 10})
	assert.EqualError(t, err, "expected CompressionLevel in range [-1,9], got 10")
}

func newJSONReader(v any) *bytes.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bytes.NewReader(data)
}
