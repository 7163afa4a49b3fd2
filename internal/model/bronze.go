package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the three cell value shapes that survive extraction.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
)

// Value is a single extracted cell value: a string, a number, or null.
// Formulas are never carried forward; extraction resolves them to their
// computed value or null.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// Null returns the null Value.
func Null() Value { return Value{Kind: ValueNull} }

// Str returns a string Value.
func Str(s string) Value { return Value{Kind: ValueString, Str: s} }

// Num returns a numeric Value.
func Num(f float64) Value { return Value{Kind: ValueNumber, Num: f} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// IsEmpty reports whether the value is null or a blank/placeholder string.
func (v Value) IsEmpty() bool {
	if v.Kind == ValueNull {
		return true
	}
	if v.Kind == ValueString {
		s := strings.TrimSpace(v.Str)
		return s == "" || strings.EqualFold(s, "nan")
	}
	return false
}

// Text renders the value for display and for prompt serialization.
func (v Value) Text() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON writes the value as a JSON string, number, or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON reads a JSON string, number, or null. Any other shape is an error.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*v = Null()
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = Str(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("model: cell value must be string, number, or null: %s", trimmed)
	}
	*v = Num(f)
	return nil
}

// Field is a single named column value within a record.
type Field struct {
	Key   string
	Value Value
}

// Record is an ordered set of column values for one source row. Column order
// is part of the record's identity and is preserved through serialization.
type Record struct {
	Fields []Field
}

// Get returns the value for key and whether the key exists.
func (r Record) Get(key string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value for key, appending the field if absent.
func (r *Record) Set(key string, v Value) {
	for i, f := range r.Fields {
		if f.Key == key {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: v})
}

// Keys returns the column names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		keys[i] = f.Key
	}
	return keys
}

// IsBlank reports whether every field is empty.
func (r Record) IsBlank() bool {
	for _, f := range r.Fields {
		if !f.Value.IsEmpty() {
			return false
		}
	}
	return true
}

// MarshalJSON writes the record as a JSON object with fields in order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("model: record must be a JSON object")
	}

	r.Fields = r.Fields[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("model: record key must be a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return err
		}
		r.Fields = append(r.Fields, Field{Key: key, Value: v})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Cell is a single cell in a recognized document table, positioned by a
// row/column span with header flags from the table structure engine.
type Cell struct {
	Text           string `json:"text"`
	Row            int    `json:"row"`
	Col            int    `json:"col"`
	RowSpan        int    `json:"row_span"`
	ColSpan        int    `json:"col_span"`
	IsColumnHeader bool   `json:"is_column_header"`
	IsRowHeader    bool   `json:"is_row_header"`
}

// Table is a cell grid recognized from a document page.
type Table struct {
	TableID string `json:"table_id"`
	Cells   []Cell `json:"cells"`
}

// RowCount returns the number of distinct rows spanned by the table's cells.
func (t Table) RowCount() int {
	max := 0
	for _, c := range t.Cells {
		end := c.Row + maxInt(c.RowSpan, 1)
		if end > max {
			max = end
		}
	}
	return max
}

// ColCount returns the number of distinct columns spanned by the table's cells.
func (t Table) ColCount() int {
	max := 0
	for _, c := range t.Cells {
		end := c.Col + maxInt(c.ColSpan, 1)
		if end > max {
			max = end
		}
	}
	return max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SourceType identifies which reader produced a bronze artifact.
type SourceType string

const (
	SourceTypeExcel SourceType = "excel"
	SourceTypePDF   SourceType = "pdf"
)

// Sheet is one tabular region extracted from a workbook. Name carries the
// worksheet name, suffixed with "::SECTION" when a single worksheet held
// multiple stacked tables.
type Sheet struct {
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// Bronze is the stage-1 artifact: raw extracted content plus provenance,
// exactly one of Sheets or Tables populated depending on the source type.
type Bronze struct {
	SourceFile string     `json:"source_file"`
	SourceType SourceType `json:"source_type"`
	Sheets     []Sheet    `json:"sheets,omitempty"`
	Tables     []Table    `json:"tables,omitempty"`
}

// RecordCount returns the number of extracted units (rows or tables).
func (b Bronze) RecordCount() int {
	if b.SourceType == SourceTypePDF {
		return len(b.Tables)
	}
	n := 0
	for _, s := range b.Sheets {
		n += len(s.Records)
	}
	return n
}
