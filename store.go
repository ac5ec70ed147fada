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

import "context"

// MatchAllQuery selects every document in an index.
var MatchAllQuery = Query{"match_all": map[string]any{}}

// Query holds an Elasticsearch query DSL object, as found under the "query"
// key of a search request body.
type Query map[string]any

// Cursor is a lazy, finite and non-restartable sequence of documents,
// consumed in a single forward pass.
type Cursor interface {
	// Next returns the next document in the sequence. It returns io.EOF
	// once the sequence is exhausted.
	Next(ctx context.Context) (Document, error)

	// Close releases any resources held by the cursor. It is safe to call
	// Close before the sequence is exhausted.
	Close(ctx context.Context) error
}

// Store is the search engine the Transformer reads from and writes to.
type Store interface {
	// Scan returns a Cursor over every document in index matching query.
	// Documents are fetched page by page as the cursor advances.
	Scan(ctx context.Context, index string, query Query) (Cursor, error)

	// CreateIndex creates index with no explicit mapping. It fails if the
	// index already exists.
	CreateIndex(ctx context.Context, index string) error

	// BulkIndex drains docs into index using bulk requests, returning once
	// docs returns io.EOF and all buffered documents have been flushed.
	BulkIndex(ctx context.Context, index string, docs Cursor) (BulkIndexStat, error)
}

// BulkIndexStat summarises the outcome of a BulkIndex call.
type BulkIndexStat struct {
	// Indexed holds the number of documents successfully indexed.
	Indexed int64

	// Failed holds the number of documents rejected by Elasticsearch.
	Failed int64

	// BulkRequests holds the number of _bulk requests issued.
	BulkRequests int64

	// BytesFlushed holds the number of request body bytes sent, after
	// compression.
	BytesFlushed int64
}
