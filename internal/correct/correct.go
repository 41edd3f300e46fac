// Package correct snaps the category names in a classification onto the
// canonical category list.
package correct

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultCategories is used when the caller supplies no usable list.
var DefaultCategories = []string{
	"用户相关数据",
	"企业自身数据",
	"网络身份标识",
	"用户基本资料",
	"用户使用习惯和行为分析数据",
	"用户上网行为相关统计分析数据",
}

// ParseCategories reads a category list from a []string, a []any of strings,
// or a JSON array string. Anything else yields a copy of DefaultCategories.
func ParseCategories(v any) []string {
	var out []string
	switch t := v.(type) {
	case []string:
		out = t
	case []any:
		for _, it := range t {
			if it == nil {
				continue
			}
			out = append(out, fmt.Sprint(it))
		}
	case string:
		var list []any
		if err := json.Unmarshal([]byte(t), &list); err == nil {
			return ParseCategories(list)
		}
	}
	if len(out) == 0 {
		return slices.Clone(DefaultCategories)
	}
	return out
}

// Similarity counts the rune positions at which a and b hold the same rune.
func Similarity(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := min(len(ra), len(rb))
	matches := 0
	for i := 0; i < n; i++ {
		if ra[i] == rb[i] {
			matches++
		}
	}
	return matches
}

// MostSimilar returns the canonical entry most similar to name. Ties, and a
// name similar to nothing, resolve to the earliest entry.
func MostSimilar(name string, canonical []string) string {
	best := canonical[0]
	bestScore := 0
	for _, c := range canonical {
		if s := Similarity(name, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Correct replaces every non-canonical category in doc with its most similar
// canonical entry, wraps scalar categories into lists, and returns the result
// as JSON with sorted keys. doc is a decoded JSON tree or a JSON string.
func Correct(doc any, canonical []string) (string, error) {
	if len(canonical) == 0 {
		return "", eris.New("correct: empty canonical list")
	}
	if s, ok := doc.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return "", eris.Wrap(err, "correct: parse classification")
		}
		doc = parsed
	}
	top, ok := doc.(map[string]any)
	if !ok {
		return "", eris.Errorf("correct: classification is %T, not an object", doc)
	}
	// Work on a copy so a failure part-way leaves the caller's tree intact.
	top = cloneMap(top)

	allowed := make(map[string]struct{}, len(canonical))
	for _, c := range canonical {
		allowed[c] = struct{}{}
	}
	c := &corrector{canonical: canonical, allowed: allowed}

	if v, ok := top["tableClassifications"]; ok {
		fixed, err := c.fix("tableClassifications", v)
		if err != nil {
			return "", err
		}
		top["tableClassifications"] = fixed
	}

	if raw, ok := top["columnInfoList"]; ok {
		cols, ok := raw.([]any)
		if !ok {
			return "", eris.New("correct: columnInfoList is not an array")
		}
		out := make([]any, len(cols))
		for i, item := range cols {
			col, ok := item.(map[string]any)
			if !ok {
				return "", eris.Errorf("correct: columnInfoList[%d] is not an object", i)
			}
			col = cloneMap(col)
			if v, ok := col["columnClassifications"]; ok {
				fixed, err := c.fix(fmt.Sprintf("columnInfoList[%d]", i), v)
				if err != nil {
					return "", err
				}
				col["columnClassifications"] = fixed
			}
			out[i] = col
		}
		top["columnInfoList"] = out
	}

	if len(c.changes) > 0 {
		zap.L().Info("correct: categories corrected", zap.Strings("changes", c.changes))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(top); err != nil {
		return "", eris.Wrap(err, "correct: encode")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

type corrector struct {
	canonical []string
	allowed   map[string]struct{}
	changes   []string
}

// fix normalises one category value to a list of canonical names.
func (c *corrector) fix(where string, v any) ([]any, error) {
	switch t := v.(type) {
	case string:
		return []any{c.snap(where, t)}, nil
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, eris.Errorf("correct: %s holds a %T category", where, it)
			}
			out[i] = c.snap(where, s)
		}
		return out, nil
	default:
		return nil, eris.Errorf("correct: %s is %T, not a category", where, v)
	}
}

func (c *corrector) snap(where, name string) string {
	if _, ok := c.allowed[name]; ok {
		return name
	}
	fixed := MostSimilar(name, c.canonical)
	c.changes = append(c.changes, fmt.Sprintf("%s: %s -> %s", where, name, fixed))
	return fixed
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
