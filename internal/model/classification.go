package model

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
)

// ClassificationResult is the typed form of the LLM output, decoded only after
// the output has passed structural validation and category correction.
type ClassificationResult struct {
	TbName               string                 `json:"tbName"`
	TableClassifications CategoryList           `json:"tableClassifications"`
	TableLevel           Level                  `json:"tableLevel"`
	TableReasoning       string                 `json:"tableReasoning"`
	ColumnInfoList       []ColumnClassification `json:"columnInfoList"`
}

// ColumnClassification is the per-column part of a ClassificationResult.
type ColumnClassification struct {
	ColumnName            string       `json:"columnName"`
	ColumnClassifications CategoryList `json:"columnClassifications"`
	ColumnLevel           Level        `json:"columnLevel"`
	ColumnReasoning       string       `json:"columnReasoning"`
}

// CategoryList is always a list on the wire, but tolerates a bare string.
type CategoryList []string

// UnmarshalJSON implements json.Unmarshaler.
func (c *CategoryList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*c = CategoryList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return eris.Wrap(err, "category list")
	}
	*c = many
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c CategoryList) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(c))
}

var levelDigits = regexp.MustCompile(`\d+`)

// Level is a sensitivity level. Models sometimes answer "3", "L3" or "第3级"
// instead of a number; the first integer in a string is taken.
type Level int

// UnmarshalJSON implements json.Unmarshaler.
func (l *Level) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*l = Level(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "level")
	}
	digits := levelDigits.FindString(s)
	if digits == "" {
		return eris.Errorf("level: no number in %q", s)
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return eris.Wrapf(err, "level: parse %q", s)
	}
	*l = Level(v)
	return nil
}
