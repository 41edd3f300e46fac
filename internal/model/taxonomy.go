package model

// TaxonomyRecord is one classification rule: a canonical field, where it sits
// in the category hierarchy, its sensitivity level and the signals used to
// detect it.
type TaxonomyRecord struct {
	ID        string        `json:"id" yaml:"id"`
	Field     FieldInfo     `json:"field" yaml:"field"`
	Taxonomy  TaxonomyPath  `json:"taxonomy" yaml:"taxonomy"`
	PIITags   []string      `json:"pii_tags,omitempty" yaml:"pii_tags,omitempty"`
	Level     *LevelInfo    `json:"level,omitempty" yaml:"level,omitempty"`
	Rules     []string      `json:"rules,omitempty" yaml:"rules,omitempty"`
	Detection Detection     `json:"detection" yaml:"detection"`
	Examples  []Example     `json:"examples,omitempty" yaml:"examples,omitempty"`
	Source    *RecordSource `json:"source,omitempty" yaml:"source,omitempty"`

	// Text is the free-text description indexed for semantic search.
	Text string `json:"text" yaml:"text"`
}

// FieldInfo names the canonical field and its equivalents.
type FieldInfo struct {
	Name     string   `json:"name" yaml:"name"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Synonyms []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// TaxonomyPath places a record in the category hierarchy.
type TaxonomyPath struct {
	Path           []string `json:"path" yaml:"path"`
	MacroCategory  string   `json:"macro_category,omitempty" yaml:"macro_category,omitempty"`
	TargetCategory string   `json:"target_category" yaml:"target_category"`
}

// LevelInfo holds the default sensitivity level and the ordered conditional
// overrides. Conditions are evaluated in order; the first that holds wins.
type LevelInfo struct {
	Default    *int        `json:"default" yaml:"default"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// DefaultLevel returns the default level, or 0 when absent.
func (l *LevelInfo) DefaultLevel() int {
	if l == nil || l.Default == nil {
		return 0
	}
	return *l.Default
}

// Condition overrides the default level when its predicate holds.
type Condition struct {
	When       Predicate `json:"when" yaml:"when"`
	Result     int       `json:"result" yaml:"result"`
	Rationale  string    `json:"rationale" yaml:"rationale"`
	Confidence float64   `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Predicate operators understood by the level resolver.
const (
	OperatorCoOccursWithAny = "co_occurs_with_any"
	OperatorPublished       = "published"
)

// Predicate describes when a Condition applies.
type Predicate struct {
	Operator string   `json:"operator" yaml:"operator"`
	Fields   []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Scope    string   `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Detection lists the signals that identify a field.
type Detection struct {
	Keywords        []string       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	RegexPatterns   []RegexPattern `json:"regex_patterns,omitempty" yaml:"regex_patterns,omitempty"`
	CommentPatterns []string       `json:"comment_patterns,omitempty" yaml:"comment_patterns,omitempty"`
}

// RegexPattern validates sample values for a field.
type RegexPattern struct {
	Regex  string  `json:"regex" yaml:"regex"`
	Desc   string  `json:"desc,omitempty" yaml:"desc,omitempty"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Example is a worked classification of a concrete column.
type Example struct {
	Scenario      string   `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	ColumnName    string   `json:"column_name,omitempty" yaml:"column_name,omitempty"`
	ColumnComment string   `json:"column_comment,omitempty" yaml:"column_comment,omitempty"`
	SampleData    []string `json:"sample_data,omitempty" yaml:"sample_data,omitempty"`
	Context       string   `json:"context,omitempty" yaml:"context,omitempty"`
	Result        int      `json:"result,omitempty" yaml:"result,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
}

// RecordSource cites the regulation or document a record was derived from.
type RecordSource struct {
	Doc         string `json:"doc,omitempty" yaml:"doc,omitempty"`
	Section     string `json:"section,omitempty" yaml:"section,omitempty"`
	LastUpdated string `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}
