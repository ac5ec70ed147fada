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
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	errMissingSource      = errors.New("missing source index name")
	errMissingDestination = errors.New("missing destination index name")
	errSameIndex          = errors.New("source and destination index must differ")
)

const (
	indexNotFoundType      = "index_not_found_exception"
	indexAlreadyExistsType = "resource_already_exists_exception"
)

// ErrorResponse is returned when Elasticsearch responds to a request with an
// error status.
type ErrorResponse struct {
	// Op names the request that failed, e.g. "search" or "create index".
	Op string

	StatusCode int
	Type       string
	Reason     string
}

func (e *ErrorResponse) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s failed: [%d %s]", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s failed: [%d] %s: %s", e.Op, e.StatusCode, e.Type, e.Reason)
}

// IsIndexNotFound reports whether err was caused by a request referencing an
// index that does not exist.
func IsIndexNotFound(err error) bool {
	var e *ErrorResponse
	return errors.As(err, &e) && e.Type == indexNotFoundType
}

// IsIndexAlreadyExists reports whether err was caused by creating an index
// that already exists.
func IsIndexAlreadyExists(err error) bool {
	var e *ErrorResponse
	return errors.As(err, &e) && e.Type == indexAlreadyExistsType
}

// newErrorResponse decodes the error body of res. The body is left unread
// if it is not a JSON error object; StatusCode is always populated.
func newErrorResponse(op string, res *esapi.Response) *ErrorResponse {
	e := &ErrorResponse{Op: op, StatusCode: res.StatusCode}
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if res.Body != nil && jsonAPI.NewDecoder(res.Body).Decode(&body) == nil {
		e.Type = body.Error.Type
		e.Reason = body.Error.Reason
	}
	return e
}

// BulkIndexError is returned when one or more documents in a bulk request
// were rejected.
type BulkIndexError struct {
	Index  string
	Failed []BulkIndexerResponseItem
}

func (e *BulkIndexError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to index %d document(s) into '%s'", len(e.Failed), e.Index)
	if len(e.Failed) > 0 {
		first := e.Failed[0]
		fmt.Fprintf(&sb, ": [%d] %s: %s", first.Status, first.Error.Type, first.Error.Reason)
	}
	return sb.String()
}
