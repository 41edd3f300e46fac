package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() map[string]any {
	return map[string]any{
		"tbName":               "t_user",
		"tableClassifications": "用户相关数据",
		"tableLevel":           3,
		"tableReasoning":       "holds personal data",
		"columnInfoList": []any{
			map[string]any{
				"columnName":            "phone_number",
				"columnClassifications": []any{"用户基本资料"},
				"columnLevel":           2,
				"columnReasoning":       "mobile number",
			},
		},
	}
}

func TestCheck_Valid(t *testing.T) {
	assert.NoError(t, Check(validDoc()))

	doc := validDoc()
	doc["columnInfoList"] = []any{}
	assert.NoError(t, Check(doc), "an empty column list is allowed")
}

func TestCheck_ValidJSONString(t *testing.T) {
	s := `{"tbName":"t","tableClassifications":[],"tableLevel":1,"tableReasoning":"",
		"columnInfoList":[{"columnName":"a","columnClassifications":"x","columnLevel":"1","columnReasoning":""}]}`
	assert.NoError(t, Check(s))
}

func TestCheck_MissingTableKey(t *testing.T) {
	for _, key := range TableKeys {
		t.Run(key, func(t *testing.T) {
			doc := validDoc()
			delete(doc, key)

			err := Check(doc)
			var mf *MissingFieldError
			require.True(t, errors.As(err, &mf))
			assert.Equal(t, key, mf.Field)
			assert.Equal(t, -1, mf.Column)
		})
	}
}

func TestCheck_MissingColumnKey(t *testing.T) {
	for _, key := range ColumnKeys {
		t.Run(key, func(t *testing.T) {
			doc := validDoc()
			col := doc["columnInfoList"].([]any)[0].(map[string]any)
			delete(col, key)

			err := Check(doc)
			var mf *MissingFieldError
			require.True(t, errors.As(err, &mf))
			assert.Equal(t, key, mf.Field)
			assert.Equal(t, 0, mf.Column)
			assert.Contains(t, err.Error(), "columnInfoList[0]")
		})
	}
}

func TestCheck_Invalid(t *testing.T) {
	notArray := validDoc()
	notArray["columnInfoList"] = "nope"

	badElem := validDoc()
	badElem["columnInfoList"] = []any{"nope"}

	tests := []struct {
		name string
		doc  any
	}{
		{"nil", nil},
		{"unparsable string", "{not json"},
		{"array", []any{validDoc()}},
		{"scalar string", `"just a string"`},
		{"columnInfoList not array", notArray},
		{"column not object", badElem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Check(tt.doc))
		})
	}
	assert.ErrorIs(t, Check(nil), ErrEmpty)
}
