package model

// MatchMethod names the retrieval source that produced a best match.
type MatchMethod string

const (
	MatchExact   MatchMethod = "exact"
	MatchRegex   MatchMethod = "regex"
	MatchKeyword MatchMethod = "keyword"
	MatchVector  MatchMethod = "vector"
)

// Describe returns a short human label for the method.
func (m MatchMethod) Describe() string {
	switch m {
	case MatchExact:
		return "exact field name"
	case MatchRegex:
		return "sample regex validation"
	case MatchKeyword:
		return "keyword"
	case MatchVector:
		return "vector semantic search"
	default:
		return "unknown"
	}
}

// Document is one hit returned by the vector search capability.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score,omitempty"`
}

// ID returns the taxonomy record id stored in the document metadata.
func (d Document) ID() string {
	if d.Metadata == nil {
		return ""
	}
	id, _ := d.Metadata["id"].(string)
	return id
}

// EnhancedMatchResult is the fused retrieval outcome for one column.
type EnhancedMatchResult struct {
	ColumnName    string `json:"columnName"`
	ColumnComment string `json:"columnComment,omitempty"`

	BestMatch       *TaxonomyRecord `json:"bestMatch,omitempty"`
	MatchMethod     MatchMethod     `json:"matchMethod,omitempty"`
	DeterminedLevel *int            `json:"determinedLevel,omitempty"`

	KeywordMatches []*TaxonomyRecord `json:"-"`
	RegexMatches   []*TaxonomyRecord `json:"-"`
	VectorMatches  []Document        `json:"-"`
}

// Matched reports whether a best match was found.
func (r *EnhancedMatchResult) Matched() bool {
	return r != nil && r.BestMatch != nil
}
