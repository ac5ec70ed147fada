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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elastic/go-elasticsearch/v8"
)

// Cluster is an in-memory fake of the Elasticsearch APIs used by
// doctransform: index creation, search with scroll, clear scroll and bulk.
type Cluster struct {
	// Client holds a client connected to the cluster.
	Client *elasticsearch.Client

	// URL holds the address of the cluster.
	URL string

	mu           sync.Mutex
	indices      map[string][]json.RawMessage
	scrolls      map[string]*scrollState
	nextScrollID int
	failShards   map[string]bool
	omitSource   map[string]bool
	reject       func(index string, source []byte) bool
	bulkRequests int
	searches     int
}

type scrollState struct {
	index string
	docs  []json.RawMessage
	size  int
	pos   int
}

// NewCluster starts a fake cluster, which is stopped when t completes.
func NewCluster(t testing.TB) *Cluster {
	c := &Cluster{
		indices:    make(map[string][]json.RawMessage),
		scrolls:    make(map[string]*scrollState),
		failShards: make(map[string]bool),
		omitSource: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /{index}", c.handleCreateIndex)
	mux.HandleFunc("/{index}/_search", c.handleSearch)
	mux.HandleFunc("/_search/scroll", c.handleScroll)
	HandleBulk(mux, c.handleBulk)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(newClientConfig(srv.URL))
	require.NoError(t, err)
	c.Client = client
	c.URL = srv.URL
	return c
}

// AddIndex creates index holding the JSON encoding of each document.
func (c *Cluster) AddIndex(index string, docs ...any) {
	sources := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			panic(err)
		}
		sources = append(sources, b)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[index] = sources
}

// HasIndex reports whether index exists.
func (c *Cluster) HasIndex(index string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.indices[index]
	return ok
}

// Documents returns the documents stored in index, in insertion order.
func (c *Cluster) Documents(index string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs := make([]map[string]any, 0, len(c.indices[index]))
	for _, src := range c.indices[index] {
		var doc map[string]any
		if err := json.Unmarshal(src, &doc); err != nil {
			panic(err)
		}
		docs = append(docs, doc)
	}
	return docs
}

// OpenScrolls returns the number of scroll contexts not yet cleared.
func (c *Cluster) OpenScrolls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scrolls)
}

// BulkRequests returns the number of bulk requests served.
func (c *Cluster) BulkRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bulkRequests
}

// Searches returns the number of search and scroll requests served.
func (c *Cluster) Searches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches
}

// FailShards makes search and scroll responses for index report a failed
// shard.
func (c *Cluster) FailShards(index string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failShards[index] = true
}

// OmitSource makes search and scroll hits for index carry no _source, as for
// an index mapped with _source disabled.
func (c *Cluster) OmitSource(index string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.omitSource[index] = true
}

// RejectDocuments makes bulk requests reject every document for which f
// returns true, with a mapper_parsing_exception.
func (c *Cluster) RejectDocuments(f func(index string, source []byte) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = f
}

func (c *Cluster) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	index := r.PathValue("index")
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indices[index]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception",
			fmt.Sprintf("index [%s/fake-uuid] already exists", index),
		)
		return
	}
	c.indices[index] = []json.RawMessage{}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged":        true,
		"shards_acknowledged": true,
		"index":               index,
	})
}

func (c *Cluster) handleSearch(w http.ResponseWriter, r *http.Request) {
	index := r.PathValue("index")
	readAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches++
	docs, ok := c.indices[index]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception",
			fmt.Sprintf("no such index [%s]", index),
		)
		return
	}
	size := 10
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", err.Error())
			return
		}
		size = n
	}
	state := &scrollState{
		index: index,
		docs:  append([]json.RawMessage(nil), docs...),
		size:  size,
	}
	var id string
	if r.URL.Query().Get("scroll") != "" {
		c.nextScrollID++
		id = fmt.Sprintf("scroll-%d", c.nextScrollID)
		c.scrolls[id] = state
	}
	c.writePage(w, id, state)
}

func (c *Cluster) handleScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID json.RawMessage `json:"scroll_id"`
	}
	if b := readAll(r.Body); len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &body); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
	}
	var ids []string
	if len(body.ScrollID) > 0 {
		if err := json.Unmarshal(body.ScrollID, &ids); err != nil {
			var id string
			if err := json.Unmarshal(body.ScrollID, &id); err != nil {
				writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
				return
			}
			ids = []string{id}
		}
	}
	if id := r.URL.Query().Get("scroll_id"); id != "" {
		ids = append(ids, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Method == http.MethodDelete {
		var freed int
		for _, id := range ids {
			if _, ok := c.scrolls[id]; ok {
				delete(c.scrolls, id)
				freed++
			}
		}
		status := http.StatusOK
		if freed == 0 && len(ids) > 0 {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"succeeded": true, "num_freed": freed})
		return
	}

	c.searches++
	if len(ids) != 1 {
		writeError(w, http.StatusBadRequest, "action_request_validation_exception", "scrollId is missing")
		return
	}
	state, ok := c.scrolls[ids[0]]
	if !ok {
		writeError(w, http.StatusNotFound, "search_context_missing_exception",
			fmt.Sprintf("No search context found for id [%s]", ids[0]),
		)
		return
	}
	c.writePage(w, ids[0], state)
}

// writePage writes the next page of state. c.mu must be held.
func (c *Cluster) writePage(w http.ResponseWriter, scrollID string, state *scrollState) {
	end := state.pos + state.size
	if end > len(state.docs) {
		end = len(state.docs)
	}
	hits := make([]map[string]any, 0, end-state.pos)
	for i := state.pos; i < end; i++ {
		hit := map[string]any{
			"_index": state.index,
			"_id":    strconv.Itoa(i),
			"_score": nil,
		}
		if !c.omitSource[state.index] {
			hit["_source"] = state.docs[i]
		}
		hits = append(hits, hit)
	}
	state.pos = end

	shards := map[string]int{"total": 1, "successful": 1, "skipped": 0, "failed": 0}
	if c.failShards[state.index] {
		shards = map[string]int{"total": 2, "successful": 1, "skipped": 0, "failed": 1}
	}
	resp := map[string]any{
		"took":      1,
		"timed_out": false,
		"_shards":   shards,
		"hits": map[string]any{
			"total": map[string]any{"value": len(state.docs), "relation": "eq"},
			"hits":  hits,
		},
	}
	if scrollID != "" {
		resp["_scroll_id"] = scrollID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Cluster) handleBulk(w http.ResponseWriter, r *http.Request) {
	items, result := DecodeBulkRequest(r)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulkRequests++
	for i, item := range items {
		if c.reject != nil && c.reject(item.Index, item.Source) {
			result.HasErrors = true
			for action, resp := range result.Items[i] {
				resp.Status = http.StatusBadRequest
				resp.Error.Type = "mapper_parsing_exception"
				resp.Error.Reason = "failed to parse. Preview of field's value: 'x'"
				result.Items[i][action] = resp
			}
			continue
		}
		c.indices[item.Index] = append(c.indices[item.Index], item.Source)
	}
	writeJSON(w, http.StatusOK, result)
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"root_cause": []map[string]any{{"type": errType, "reason": reason}},
			"type":       errType,
			"reason":     reason,
		},
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
