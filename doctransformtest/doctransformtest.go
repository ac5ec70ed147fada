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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// BulkItem is a single action decoded from a bulk request body.
type BulkItem struct {
	// Action holds the action type, e.g. "index" or "create".
	Action string

	// Index holds the target index named in the action metadata.
	Index string

	// Source holds the raw document line following the action.
	Source []byte
}

// DecodeBulkRequest decodes the body of a _bulk request, returning the items
// it contains and a response reporting every item as created.
func DecodeBulkRequest(r *http.Request) ([]BulkItem, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var items []BulkItem
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		action := make(map[string]struct {
			Index string `json:"_index"`
		})
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var item BulkItem
		for actionType, meta := range action {
			item.Action = actionType
			item.Index = meta.Index
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		item.Source = append([]byte{}, scanner.Bytes()...)
		if !json.Valid(item.Source) {
			panic(fmt.Errorf("invalid JSON: %s", item.Source))
		}
		items = append(items, item)

		resp := esutil.BulkIndexerResponseItem{Index: item.Index, Status: http.StatusCreated}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{item.Action: resp})
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	return items, result
}

// NewMockElasticsearchClient returns a client for a test server which serves
// _bulk requests with bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, bulkHandler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig returns the client configuration used by
// NewMockElasticsearchClient.
func NewMockElasticsearchClientConfig(t testing.TB, bulkHandler http.HandlerFunc) elasticsearch.Config {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return newClientConfig(srv.URL)
}

// HandleBulk registers bulkHandler for _bulk requests on mux.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("POST /_bulk", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		bulkHandler.ServeHTTP(w, r)
	})
}

// NewUnreachableClient returns a client whose only node refuses connections.
func NewUnreachableClient(t testing.TB) *elasticsearch.Client {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, err := elasticsearch.NewClient(newClientConfig(url))
	require.NoError(t, err)
	return client
}

func newClientConfig(url string) elasticsearch.Config {
	config := elasticsearch.Config{}
	config.Addresses = []string{url}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)
	return config
}

func readAll(r io.Reader) []byte {
	b, err := io.ReadAll(r)
	if err != nil {
		panic(err)
	}
	return b
}
