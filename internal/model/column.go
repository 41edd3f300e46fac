package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// TableQuery is the serialized table description carried in the workflow's
// query key.
type TableQuery struct {
	TbName         string       `json:"tbName"`
	TbComment      string       `json:"tbComment,omitempty"`
	IsPublished    bool         `json:"isPublished,omitempty"`
	ColumnInfoList []ColumnInfo `json:"columnInfoList"`
}

// ColumnInfo is one column as it arrives in a TableQuery.
type ColumnInfo struct {
	ColumnName    string     `json:"columnName"`
	ColumnComment string     `json:"columnComment,omitempty"`
	ExampleData   SampleList `json:"exampleData,omitempty"`
}

// ColumnNames returns the names of all columns, skipping empty ones.
func (q TableQuery) ColumnNames() []string {
	names := make([]string, 0, len(q.ColumnInfoList))
	for _, c := range q.ColumnInfoList {
		if c.ColumnName != "" {
			names = append(names, c.ColumnName)
		}
	}
	return names
}

// Columns expands the table into one ColumnQuery per column, each carrying
// the full list of column names for co-occurrence checks.
func (q TableQuery) Columns() []ColumnQuery {
	names := q.ColumnNames()
	out := make([]ColumnQuery, 0, len(q.ColumnInfoList))
	for _, c := range q.ColumnInfoList {
		out = append(out, ColumnQuery{
			Name:         c.ColumnName,
			Comment:      c.ColumnComment,
			Samples:      []string(c.ExampleData),
			TableColumns: names,
		})
	}
	return out
}

// ParseTableQuery decodes a query value that may be a JSON string, raw bytes
// or an already-decoded tree.
func ParseTableQuery(v any) (TableQuery, error) {
	var q TableQuery
	var raw []byte
	switch t := v.(type) {
	case nil:
		return q, eris.New("query is empty")
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case TableQuery:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return q, eris.Wrap(err, "marshal query")
		}
		raw = b
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, eris.Wrap(err, "decode query")
	}
	return q, nil
}

// SampleList accepts sample values of any JSON scalar type and keeps their
// string form. Nulls are dropped.
type SampleList []string

// UnmarshalJSON implements json.Unmarshaler. Numbers keep their literal form
// so long numeric identifiers are not rendered in exponent notation.
func (s *SampleList) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case nil:
			continue
		case string:
			out = append(out, v)
		case json.Number:
			out = append(out, v.String())
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	*s = out
	return nil
}

// ColumnQuery is one column to classify.
type ColumnQuery struct {
	Name    string
	Comment string
	Samples []string

	// TableColumns holds every column name of the table, including Name.
	TableColumns []string
}
