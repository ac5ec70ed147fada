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
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool(t *testing.T) {
	dir := t.TempDir()
	sp, err := createSpool(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(sp.Name()))

	docs := []Document{
		{"a": "bb", "c": json.Number("3")},
		{"x": map[string]any{"y": json.Number("1")}},
		{"h": "<b>"},
	}
	for _, doc := range docs {
		require.NoError(t, sp.Write(Enrich(doc)))
	}
	assert.Equal(t, int64(len(docs)), sp.lines)

	r, err := sp.Reader()
	require.NoError(t, err)
	var got []Document
	for {
		doc, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, doc)
	}
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, []Document{
		{"a": "bb", "c": json.Number("3"), "calculated": json.Number("5")},
		{"x": map[string]any{"y": json.Number("1")}, "calculated": json.Number("9")},
		{"h": "<b>", "calculated": json.Number("4")},
	}, got)

	info, err := os.Stat(sp.Name())
	require.NoError(t, err)
	assert.Equal(t, sp.bytes, info.Size())

	require.NoError(t, sp.Remove())
	_, err = os.Stat(sp.Name())
	assert.True(t, os.IsNotExist(err))
}

func TestSpoolReaderMalformed(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Content  string
		Expected string
	}{
		{Name: "invalid_json", Content: "{\"a\":1}\n{\"a\":\n", Expected: "malformed document on line 2"},
		{Name: "not_an_object", Content: "[1,2]\n", Expected: "malformed document on line 1"},
		{Name: "null", Content: "\n\nnull\n", Expected: "malformed document on line 3"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			sp, err := createSpool(t.TempDir())
			require.NoError(t, err)
			defer sp.Remove()
			_, err = sp.w.WriteString(tc.Content)
			require.NoError(t, err)

			r, err := sp.Reader()
			require.NoError(t, err)
			var lastErr error
			for {
				_, err := r.Next(context.Background())
				if err != nil {
					lastErr = err
					break
				}
			}
			require.Error(t, lastErr)
			assert.NotEqual(t, io.EOF, lastErr)
			assert.Contains(t, lastErr.Error(), tc.Expected)
		})
	}
}

func TestSpoolReaderBlankLinesAndNoTrailingNewline(t *testing.T) {
	sp, err := createSpool(t.TempDir())
	require.NoError(t, err)
	defer sp.Remove()
	_, err = sp.w.WriteString("\n{\"a\":1}\n\n  \n{\"b\":2}")
	require.NoError(t, err)

	r, err := sp.Reader()
	require.NoError(t, err)
	doc, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Document{"a": json.Number("1")}, doc)
	doc, err = r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Document{"b": json.Number("2")}, doc)
	_, err = r.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestSpoolReaderContextCanceled(t *testing.T) {
	sp, err := createSpool(t.TempDir())
	require.NoError(t, err)
	defer sp.Remove()
	require.NoError(t, sp.Write(Document{"a": "b"}))

	r, err := sp.Reader()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
