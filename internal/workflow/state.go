package workflow

import (
	"maps"
	"slices"
)

// Key names one slot of the shared workflow state.
type Key string

// State keys used by the classification graph.
const (
	KeyQuery             Key = "query"
	KeyCategory          Key = "category"
	KeySimilarityMatch   Key = "similarityMatchResult"
	KeyRetrievedDocs     Key = "retrievedDocs"
	KeyLLMResult         Key = "llmResult"
	KeyLLMError          Key = "llmError"
	KeyAttempts          Key = "attempts"
	KeyIsValid           Key = "isValid"
	KeyValidationError   Key = "validationError"
	KeyCorrectedResult   Key = "correctedResult"
	KeyIncorrectedResult Key = "incorrectedResult"
)

// Strategy says how an update to a key is merged into the state.
type Strategy int

const (
	// Replace overwrites the previous value. Two nodes of one step may not
	// both write a Replace key.
	Replace Strategy = iota
	// Append appends the written value, or each element of a written []any,
	// to a list.
	Append
)

// State is a snapshot of the workflow state. Nodes receive a copy and must
// treat it as read-only; changes are returned as an Update.
type State map[Key]any

// Update is the set of keys one node writes.
type Update map[Key]any

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// String returns the value at k if it is a string.
func (s State) String(k Key) string {
	v, _ := s[k].(string)
	return v
}

// Int returns the value at k as an int. JSON numbers decode as float64, so
// both are accepted.
func (s State) Int(k Key) int {
	switch v := s[k].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Has reports whether k is set to a non-nil value.
func (s State) Has(k Key) bool {
	return s[k] != nil
}

// sortedKeys returns the keys of u in lexical order.
func (u Update) sortedKeys() []Key {
	keys := slices.Collect(maps.Keys(u))
	slices.Sort(keys)
	return keys
}

func merge(s State, k Key, v any, strategy Strategy) {
	if strategy != Append {
		s[k] = v
		return
	}
	list, _ := s[k].([]any)
	list = slices.Clone(list)
	if many, ok := v.([]any); ok {
		list = append(list, many...)
	} else {
		list = append(list, v)
	}
	s[k] = list
}
