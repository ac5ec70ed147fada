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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

// CalculatedField is the name of the field added to every transformed document.
const CalculatedField = "calculated"

// jsonAPI is shared by document encoding and decoding. Map keys are sorted so
// that encoded documents are stable, HTML characters are left unescaped, and
// numbers decode to json.Number so integers and floats stay distinguishable.
var jsonAPI = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Document is a single source record: a mapping of field name to value.
//
// Values are those produced by decoding JSON: string, json.Number, bool, nil,
// map[string]any and []any.
type Document map[string]any

// Calculate returns the sum, over all fields of doc, of the character length
// of the field name plus the character length of the value's string form.
//
// A string value is counted as is. Other values are counted on their display
// form: integers as written, floats in their shortest round-trip form with a
// trailing ".0" or an exponent, booleans and null as True, False and None.
// Objects and arrays are displayed as {'k': v, ...} and [v, ...] with quoted
// strings, and counted once as a whole. The result does not depend on the
// order in which fields are visited.
func Calculate(doc Document) int {
	var n int
	for k, v := range doc {
		n += utf8.RuneCountInString(k)
		n += utf8.RuneCountInString(stringForm(v))
	}
	return n
}

// Enrich returns a shallow copy of doc with CalculatedField set to
// Calculate(doc). doc itself is not modified.
//
// If doc already holds a CalculatedField it takes part in the calculation and
// is then replaced by the new value.
func Enrich(doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[CalculatedField] = Calculate(doc)
	return out
}

func stringForm(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var b strings.Builder
	writeDisplay(&b, v)
	return b.String()
}

// writeDisplay writes the display form of v. Strings nested in objects and
// arrays are quoted.
func writeDisplay(b *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		b.WriteString("None")
	case string:
		writeQuoted(b, v)
	case bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case json.Number:
		b.WriteString(numberForm(v))
	case int:
		b.WriteString(strconv.Itoa(v))
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case float64:
		b.WriteString(floatForm(v))
	case Document:
		writeObject(b, v)
	case map[string]any:
		writeObject(b, v)
	case []any:
		b.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			writeDisplay(b, elem)
		}
		b.WriteByte(']')
	default:
		// Normalise other Go values through their JSON encoding.
		data, err := jsonAPI.Marshal(v)
		if err != nil {
			b.WriteString(fmt.Sprint(v))
			return
		}
		var decoded any
		if err := jsonAPI.Unmarshal(data, &decoded); err != nil {
			b.WriteString(fmt.Sprint(v))
			return
		}
		writeDisplay(b, decoded)
	}
}

func writeObject(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeQuoted(b, k)
		b.WriteString(": ")
		writeDisplay(b, m[k])
	}
	b.WriteByte('}')
}

// writeQuoted writes s in single quotes, or in double quotes if s contains a
// single quote and no double quote. Backslashes, the enclosing quote and
// non-printable characters are escaped.
func writeQuoted(b *strings.Builder, s string) {
	quote := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == ' ' || unicode.IsPrint(r):
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(b, `\u%04x`, r)
		default:
			fmt.Fprintf(b, `\U%08x`, r)
		}
	}
	b.WriteByte(quote)
}

// numberForm returns the display form of a JSON number literal. Literals
// with a fraction or exponent are floats; the rest are integers.
func numberForm(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if strings.TrimLeft(s, "-0") == "" && s != "" {
			return "0"
		}
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !math.IsInf(f, 0) {
		return s
	}
	return floatForm(f)
}

// floatForm returns the shortest representation of f that round-trips.
// Fixed notation is used for decimal exponents from -4 to 15, always with a
// fractional part; scientific notation with at least two exponent digits
// otherwise.
func floatForm(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil || exp < -4 || exp > 15 {
		return sci
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}
