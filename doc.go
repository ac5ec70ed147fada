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

// Package doctransform provides a batch transformer that copies every
// document of an Elasticsearch index into a new index, adding a field
// holding the total character length of the document's field names and
// values.
//
// Documents are scrolled out of the source index into an intermediate
// newline-delimited JSON file, and bulk indexed from that file into the
// destination index once it has been created. The package is not intended
// for incremental or resumable copies: a failed transform must be rerun
// into a fresh destination index.
package doctransform
