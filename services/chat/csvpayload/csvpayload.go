// Copyright 2023 AI Redefined Inc. <dev+cogment@ai-r.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package csvpayload

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	MaxRowsToSend  = 50
	MaxCharsToSend = 40000
	MaxColsToShow  = 80
)

const (
	payloadPrefix     = "CSV parsed (summary + sample):\n"
	truncatedSuffix   = "\n...[TRUNCATED]"
	rowsOmittedNote   = "Sample rows omitted due to size limits."
	summaryOnlyNote   = "Payload trimmed to summary only due to size limits."
	utf8ByteOrderMark = "\uFEFF"
)

// orderedObject is a JSON object keeping the insertion order of its keys.
type orderedObject struct {
	keys   []string
	values map[string]interface{}
}

func newOrderedObject() *orderedObject {
	return &orderedObject{values: make(map[string]interface{})}
}

func (o *orderedObject) set(key string, value interface{}) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func marshalIndent(v interface{}) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

type summary struct {
	Filename         string         `json:"filename"`
	TotalRows        int            `json:"total_rows"`
	ColumnsShown     []string       `json:"columns_shown"`
	ColumnsTotal     int            `json:"columns_total"`
	ColumnsTruncated int            `json:"columns_truncated"`
	NonEmptyCounts   *orderedObject `json:"non_empty_counts"`
	SampleRowsSent   int            `json:"sample_rows_sent"`
	Note             string         `json:"note"`
}

type fullPayload struct {
	Summary *summary         `json:"csv_summary"`
	Rows    []*orderedObject `json:"csv_sample_rows"`
}

type rowsOmittedPayload struct {
	Summary *summary         `json:"csv_summary"`
	Rows    []*orderedObject `json:"csv_sample_rows"`
	Note    string           `json:"note"`
}

type summaryOnlyPayload struct {
	Summary *summary `json:"csv_summary"`
	Note    string   `json:"note"`
}

func newStripBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8ByteOrderMark)); err == nil && string(prefix) == utf8ByteOrderMark {
		_, _ = br.Discard(len(utf8ByteOrderMark))
	}
	return br
}

// summarize reads a CSV document and builds its summary along with the first sample rows.
func summarize(r io.Reader, filename string) (*summary, []*orderedObject, error) {
	reader := csv.NewReader(newStripBOMReader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	fieldnames, err := reader.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("unable to read the header of %q: %w", filename, err)
	}
	shown := fieldnames
	if len(shown) > MaxColsToShow {
		shown = shown[:MaxColsToShow]
	}
	if shown == nil {
		shown = []string{}
	}

	nonEmptyCounts := newOrderedObject()
	counts := make(map[string]int)
	for _, column := range shown {
		nonEmptyCounts.set(column, 0)
	}

	rows := []*orderedObject{}
	totalRows := 0
	for err == nil {
		var record []string
		record, err = reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("unable to read %q: %w", filename, err)
		}
		totalRows++

		// Later duplicated columns override earlier ones
		values := make(map[string]interface{}, len(fieldnames))
		for i, column := range fieldnames {
			if i < len(record) {
				values[column] = record[i]
			} else {
				values[column] = nil
			}
		}

		for _, column := range shown {
			if value, ok := values[column].(string); ok && strings.TrimSpace(value) != "" {
				counts[column]++
			}
		}

		if len(rows) < MaxRowsToSend {
			row := newOrderedObject()
			for _, column := range shown {
				row.set(column, values[column])
			}
			rows = append(rows, row)
		}
	}
	for column, count := range counts {
		nonEmptyCounts.set(column, count)
	}

	truncated := len(fieldnames) - len(shown)
	if truncated < 0 {
		truncated = 0
	}
	return &summary{
		Filename:         filename,
		TotalRows:        totalRows,
		ColumnsShown:     shown,
		ColumnsTotal:     len(fieldnames),
		ColumnsTruncated: truncated,
		NonEmptyCounts:   nonEmptyCounts,
		SampleRowsSent:   len(rows),
		Note:             fmt.Sprintf("Only first %d rows are included to limit size.", MaxRowsToSend),
	}, rows, nil
}

func tooLong(text string) bool {
	return utf8.RuneCountInString(text) > MaxCharsToSend
}

// ToAgentPayload turns a CSV document into a text payload sized for an agent prompt.
func ToAgentPayload(r io.Reader, filename string) (string, error) {
	summary, rows, err := summarize(r, filename)
	if err != nil {
		return "", err
	}

	text, err := marshalIndent(&fullPayload{Summary: summary, Rows: rows})
	if err != nil {
		return "", err
	}

	if tooLong(text) {
		text, err = marshalIndent(&rowsOmittedPayload{Summary: summary, Rows: []*orderedObject{}, Note: rowsOmittedNote})
		if err != nil {
			return "", err
		}
	}

	if tooLong(text) {
		text, err = marshalIndent(&summaryOnlyPayload{Summary: summary, Note: summaryOnlyNote})
		if err != nil {
			return "", err
		}
	}

	if tooLong(text) {
		text = string([]rune(text)[:MaxCharsToSend]) + truncatedSuffix
	}

	return payloadPrefix + text, nil
}

// IsCSV tells whether an uploaded file should be summarized as CSV.
func IsCSV(filename string, mime string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".csv") || strings.EqualFold(mime, "text/csv")
}
