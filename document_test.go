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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-doctransform"
)

func TestCalculate(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Doc      doctransform.Document
		Expected int
	}{
		{Name: "empty", Doc: doctransform.Document{}, Expected: 0},
		{Name: "string_and_int", Doc: doctransform.Document{"a": "bb", "c": 3}, Expected: 5},
		{Name: "json_number", Doc: doctransform.Document{"a": "bb", "c": json.Number("3")}, Expected: 5},
		{Name: "negative_zero", Doc: doctransform.Document{"z": json.Number("-0")}, Expected: 1 + len("0")},
		{Name: "float", Doc: doctransform.Document{"f": 1.5}, Expected: 1 + len("1.5")},
		{Name: "float_whole", Doc: doctransform.Document{"f": 2.0}, Expected: 1 + len("2.0")},
		{Name: "float_literal_trailing_zero", Doc: doctransform.Document{"f": json.Number("1.50")}, Expected: 1 + len("1.5")},
		{Name: "float_literal_whole", Doc: doctransform.Document{"f": json.Number("1.0")}, Expected: 1 + len("1.0")},
		{Name: "float_literal_exponent", Doc: doctransform.Document{"f": json.Number("1e2")}, Expected: 1 + len("100.0")},
		{Name: "float_literal_small", Doc: doctransform.Document{"f": json.Number("1E-5")}, Expected: 1 + len("1e-05")},
		{Name: "float_literal_fixed_small", Doc: doctransform.Document{"f": json.Number("0.0001")}, Expected: 1 + len("0.0001")},
		{Name: "float_literal_large", Doc: doctransform.Document{"f": json.Number("1e16")}, Expected: 1 + len("1e+16")},
		{Name: "float_literal_fixed_large", Doc: doctransform.Document{"f": json.Number("1e15")}, Expected: 1 + len("1000000000000000.0")},
		{Name: "float_literal_overflow", Doc: doctransform.Document{"f": json.Number("1e400")}, Expected: 1 + len("inf")},
		{Name: "bool", Doc: doctransform.Document{"ok": true, "no": false}, Expected: 2 + 4 + 2 + 5},
		{Name: "null", Doc: doctransform.Document{"n": nil}, Expected: 1 + 4},
		{Name: "nested_object", Doc: doctransform.Document{"x": map[string]any{"y": 1}}, Expected: 1 + len(`{'y': 1}`)},
		{Name: "nested_document", Doc: doctransform.Document{"x": doctransform.Document{"y": "z"}}, Expected: 1 + len(`{'y': 'z'}`)},
		{Name: "empty_object", Doc: doctransform.Document{"x": map[string]any{}}, Expected: 1 + len(`{}`)},
		{Name: "array", Doc: doctransform.Document{"l": []any{"a", "b"}}, Expected: 1 + len(`['a', 'b']`)},
		{Name: "array_mixed", Doc: doctransform.Document{"l": []any{1, "a", json.Number("2.50")}}, Expected: 1 + len(`[1, 'a', 2.5]`)},
		{Name: "empty_array", Doc: doctransform.Document{"l": []any{}}, Expected: 1 + len(`[]`)},
		{Name: "nested_literals", Doc: doctransform.Document{"l": []any{true, false, nil}}, Expected: 1 + len(`[True, False, None]`)},
		{Name: "nested_single_quote", Doc: doctransform.Document{"l": []any{"it's"}}, Expected: 1 + len(`["it's"]`)},
		{Name: "nested_both_quotes", Doc: doctransform.Document{"l": []any{`a'b"c`}}, Expected: 1 + len(`['a\'b"c']`)},
		{Name: "nested_double_quote", Doc: doctransform.Document{"l": []any{`say "hi"`}}, Expected: 1 + len(`['say "hi"']`)},
		{Name: "nested_backslash", Doc: doctransform.Document{"l": []any{`a\b`}}, Expected: 1 + len(`['a\\b']`)},
		{Name: "nested_newline", Doc: doctransform.Document{"l": []any{"a\nb"}}, Expected: 1 + len(`['a\nb']`)},
		{Name: "nested_control", Doc: doctransform.Document{"l": []any{"\x00"}}, Expected: 1 + len(`['\x00']`)},
		{Name: "nested_multibyte", Doc: doctransform.Document{"l": []any{"ü€"}}, Expected: 1 + len("['']") + 2},
		{Name: "other_go_types", Doc: doctransform.Document{"m": map[string]string{"k": "v"}}, Expected: 1 + len(`{'k': 'v'}`)},
		{Name: "multibyte", Doc: doctransform.Document{"é": "ü€"}, Expected: 3},
		{Name: "html_characters", Doc: doctransform.Document{"h": "<b>&"}, Expected: 5},
		{Name: "top_level_string_unquoted", Doc: doctransform.Document{"s": "it's"}, Expected: 1 + 4},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, doctransform.Calculate(tc.Doc))
		})
	}
}

func TestCalculateFieldOrder(t *testing.T) {
	decode := func(s string) doctransform.Document {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var doc doctransform.Document
		require.NoError(t, dec.Decode(&doc))
		return doc
	}
	a := decode(`{"a":"bb","c":3,"d":{"z":1,"y":[true,null]}}`)
	b := decode(`{"d":{"y":[true,null],"z":1},"c":3,"a":"bb"}`)
	assert.Equal(t, doctransform.Calculate(a), doctransform.Calculate(b))
	assert.Equal(t, 1+2+1+1+1+len(`{'y': [True, None], 'z': 1}`), doctransform.Calculate(a))
}

func TestEnrich(t *testing.T) {
	doc := doctransform.Document{"a": "bb", "c": 3}
	enriched := doctransform.Enrich(doc)
	assert.Equal(t, doctransform.Document{"a": "bb", "c": 3, "calculated": 5}, enriched)
	// The source document is left untouched.
	assert.Equal(t, doctransform.Document{"a": "bb", "c": 3}, doc)
}

func TestEnrichReplacesCalculated(t *testing.T) {
	doc := doctransform.Document{"calculated": 1}
	enriched := doctransform.Enrich(doc)
	assert.Equal(t, doctransform.Document{"calculated": len("calculated") + 1}, enriched)
}
