// Package validate checks that a classification has every field the
// downstream consumers need.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// Required keys at table and column level.
var (
	TableKeys  = []string{"columnInfoList", "tbName", "tableClassifications", "tableLevel", "tableReasoning"}
	ColumnKeys = []string{"columnName", "columnClassifications", "columnLevel", "columnReasoning"}
)

// ErrEmpty is returned for a nil classification.
var ErrEmpty = eris.New("classification is empty")

// MissingFieldError names the first required key that is absent.
type MissingFieldError struct {
	Field string
	// Column is the index in columnInfoList, or -1 for a table-level key.
	Column int
}

func (e *MissingFieldError) Error() string {
	if e.Column < 0 {
		return fmt.Sprintf("missing required field %q", e.Field)
	}
	return fmt.Sprintf("columnInfoList[%d]: missing required field %q", e.Column, e.Field)
}

// TypeError reports a required key holding the wrong kind of value.
type TypeError struct {
	Field string
	Want  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field %q must be %s", e.Field, e.Want)
}

// Check reports nil when doc has every required key. doc is a decoded JSON
// tree or a JSON string; anything else, or a string that does not parse, is
// invalid.
func Check(doc any) error {
	if doc == nil {
		return ErrEmpty
	}
	if s, ok := doc.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return eris.Wrap(err, "classification is not valid JSON")
		}
		doc = parsed
	}

	top, ok := doc.(map[string]any)
	if !ok {
		return &TypeError{Field: "$", Want: "an object"}
	}
	for _, k := range TableKeys {
		if _, ok := top[k]; !ok {
			return &MissingFieldError{Field: k, Column: -1}
		}
	}

	cols, ok := top["columnInfoList"].([]any)
	if !ok {
		return &TypeError{Field: "columnInfoList", Want: "an array"}
	}
	for i, c := range cols {
		col, ok := c.(map[string]any)
		if !ok {
			return &TypeError{Field: fmt.Sprintf("columnInfoList[%d]", i), Want: "an object"}
		}
		for _, k := range ColumnKeys {
			if _, ok := col[k]; !ok {
				return &MissingFieldError{Field: k, Column: i}
			}
		}
	}
	return nil
}
