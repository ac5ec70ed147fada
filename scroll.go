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
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// searchPage holds the parts of a search or scroll response the scroll
// cursor needs.
type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Shards   struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Skipped    int `json:"skipped"`
		Failed     int `json:"failed"`
	} `json:"_shards"`
	Hits struct {
		Hits []struct {
			ID     string    `json:"_id"`
			Source *Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// scrollCursor walks an index using the scroll API. Only one page of hits is
// held in memory at a time.
type scrollCursor struct {
	client    esapi.Transport
	logger    *zap.Logger
	index     string
	keepAlive time.Duration

	scrollID string
	hits     []Document
	pos      int
	done     bool
	closed   bool
}

// openScroll issues the initial search request, so that a missing index is
// reported before any document is consumed.
func openScroll(ctx context.Context, client esapi.Transport, logger *zap.Logger, cfg StoreConfig, index string, query Query) (*scrollCursor, error) {
	body, err := jsonAPI.Marshal(map[string]any{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}
	size := cfg.ScrollSize
	req := esapi.SearchRequest{
		Index:  []string{index},
		Body:   bytes.NewReader(body),
		Scroll: cfg.ScrollKeepAlive,
		Size:   &size,
		Sort:   []string{"_doc"},
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute the search request: %w", err)
	}
	c := &scrollCursor{
		client:    client,
		logger:    logger,
		index:     index,
		keepAlive: cfg.ScrollKeepAlive,
	}
	if err := c.readPage("search", res); err != nil {
		// A scroll context may have been opened even though the page
		// could not be used.
		c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *scrollCursor) Next(ctx context.Context) (Document, error) {
	for c.pos >= len(c.hits) {
		if c.done || c.closed {
			return nil, io.EOF
		}
		if err := c.fetch(ctx); err != nil {
			return nil, err
		}
	}
	doc := c.hits[c.pos]
	c.hits[c.pos] = nil
	c.pos++
	return doc, nil
}

func (c *scrollCursor) fetch(ctx context.Context) error {
	body, err := jsonAPI.Marshal(map[string]string{"scroll_id": c.scrollID})
	if err != nil {
		return fmt.Errorf("failed to encode scroll request: %w", err)
	}
	req := esapi.ScrollRequest{
		Body:   bytes.NewReader(body),
		Scroll: c.keepAlive,
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to execute the scroll request: %w", err)
	}
	return c.readPage("scroll", res)
}

func (c *scrollCursor) readPage(op string, res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		return newErrorResponse(op, res)
	}
	var page searchPage
	if err := jsonAPI.NewDecoder(res.Body).Decode(&page); err != nil {
		return fmt.Errorf("error decoding %s response: %w", op, err)
	}
	if page.ScrollID != "" {
		c.scrollID = page.ScrollID
	}
	if page.Shards.Successful+page.Shards.Skipped < page.Shards.Total {
		return fmt.Errorf(
			"%s of '%s' succeeded on %d of %d shards (%d failed)",
			op, c.index, page.Shards.Successful, page.Shards.Total, page.Shards.Failed,
		)
	}
	c.hits = c.hits[:0]
	c.pos = 0
	for _, hit := range page.Hits.Hits {
		if hit.Source == nil {
			return fmt.Errorf("%s of '%s' returned document '%s' without _source", op, c.index, hit.ID)
		}
		c.hits = append(c.hits, *hit.Source)
	}
	if len(c.hits) == 0 {
		c.done = true
	}
	c.logger.Debug("read scroll page",
		zap.String("index", c.index),
		zap.Int("documents", len(c.hits)),
	)
	return nil
}

// Close clears the scroll context. A scroll context that has already expired
// is not an error.
func (c *scrollCursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.hits = nil
	if c.scrollID == "" {
		return nil
	}
	body, err := jsonAPI.Marshal(map[string][]string{"scroll_id": {c.scrollID}})
	if err != nil {
		return fmt.Errorf("failed to encode clear scroll request: %w", err)
	}
	res, err := esapi.ClearScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to execute the clear scroll request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return newErrorResponse("clear scroll", res)
	}
	return nil
}
