// Package taxonomy loads sensitivity taxonomy records and indexes them for
// field-name, keyword and sample-pattern lookups.
package taxonomy

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// Normalize lower-cases s and folds full-width Latin characters to their
// half-width form so "ＭＯＢＩＬＥ" and "mobile" share an index key.
func Normalize(s string) string {
	return width.Fold.String(cases.Lower(language.Und).String(s))
}

// compiledRecord carries the patterns of a record compiled once at build time.
type compiledRecord struct {
	record   *model.TaxonomyRecord
	regexes  []*regexp.Regexp
	comments []*regexp.Regexp
}

// Index is an immutable snapshot of the loaded taxonomy. It is safe for
// concurrent readers.
type Index struct {
	records   []*compiledRecord
	compiled  map[*model.TaxonomyRecord]*compiledRecord
	byID      map[string]*model.TaxonomyRecord
	byField   map[string]*model.TaxonomyRecord
	byKeyword map[string][]*model.TaxonomyRecord
	keywords  []string

	// minKeywordLen ignores keywords shorter than this many runes during
	// lookups. Zero keeps every keyword.
	minKeywordLen int
}

// Option configures index construction.
type Option func(*Index)

// WithMinKeywordLen drops keywords shorter than n runes from keyword lookups.
// Short keywords substring-match many unrelated names.
func WithMinKeywordLen(n int) Option {
	return func(ix *Index) {
		ix.minKeywordLen = n
	}
}

// NewIndex builds the keyword, field-name and id indexes in a single pass.
// Records are expected to carry unique ids; later duplicates are skipped.
func NewIndex(records []model.TaxonomyRecord, opts ...Option) *Index {
	ix := &Index{
		records:   make([]*compiledRecord, 0, len(records)),
		compiled:  make(map[*model.TaxonomyRecord]*compiledRecord, len(records)),
		byID:      make(map[string]*model.TaxonomyRecord, len(records)),
		byField:   make(map[string]*model.TaxonomyRecord, len(records)*2),
		byKeyword: make(map[string][]*model.TaxonomyRecord),
	}
	for _, opt := range opts {
		opt(ix)
	}

	owned := append([]model.TaxonomyRecord(nil), records...)
	for i := range owned {
		rec := &owned[i]
		if rec.ID != "" {
			if _, dup := ix.byID[rec.ID]; dup {
				zap.L().Warn("taxonomy: duplicate record id skipped", zap.String("id", rec.ID))
				continue
			}
			ix.byID[rec.ID] = rec
		}

		cr := &compiledRecord{record: rec}
		for _, p := range rec.Detection.RegexPatterns {
			re, err := regexp.Compile(`^(?:` + p.Regex + `)$`)
			if err != nil {
				zap.L().Warn("taxonomy: invalid regex pattern skipped",
					zap.String("id", rec.ID),
					zap.String("regex", p.Regex),
					zap.Error(err),
				)
				continue
			}
			cr.regexes = append(cr.regexes, re)
		}
		for _, p := range rec.Detection.CommentPatterns {
			re, err := compileGlob(p)
			if err != nil {
				zap.L().Warn("taxonomy: invalid comment pattern skipped",
					zap.String("id", rec.ID),
					zap.String("pattern", p),
					zap.Error(err),
				)
				continue
			}
			cr.comments = append(cr.comments, re)
		}
		ix.records = append(ix.records, cr)
		ix.compiled[rec] = cr

		for _, kw := range rec.Detection.Keywords {
			key := Normalize(kw)
			if key == "" {
				continue
			}
			ix.byKeyword[key] = append(ix.byKeyword[key], rec)
		}

		if rec.Field.Name != "" {
			ix.byField[Normalize(rec.Field.Name)] = rec
			for _, alias := range rec.Field.Aliases {
				if alias == "" {
					continue
				}
				ix.byField[Normalize(alias)] = rec
			}
		}
	}

	ix.keywords = make([]string, 0, len(ix.byKeyword))
	for k := range ix.byKeyword {
		ix.keywords = append(ix.keywords, k)
	}
	sort.Strings(ix.keywords)

	return ix
}

// compileGlob turns a comment pattern where * matches any run of characters
// into an anchored regular expression.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile(`^(?s)` + strings.Join(parts, ".*") + `$`)
}

// LookupByFieldName returns the record whose name or alias equals name,
// ignoring case.
func (ix *Index) LookupByFieldName(name string) (*model.TaxonomyRecord, bool) {
	if ix == nil || name == "" {
		return nil, false
	}
	rec, ok := ix.byField[Normalize(name)]
	return rec, ok
}

// LookupByKeyword returns the records declaring a keyword that is contained in
// text or that contains text. Results are de-duplicated by identity; order is
// keyword order, then load order.
//
// Containment is bidirectional so partial tokens match in either direction.
// This favours recall over precision; see WithMinKeywordLen.
func (ix *Index) LookupByKeyword(text string) []*model.TaxonomyRecord {
	if ix == nil || text == "" {
		return nil
	}
	needle := Normalize(text)

	var out []*model.TaxonomyRecord
	seen := make(map[*model.TaxonomyRecord]struct{})
	for _, kw := range ix.keywords {
		if ix.minKeywordLen > 0 && len([]rune(kw)) < ix.minKeywordLen {
			continue
		}
		if !strings.Contains(needle, kw) && !strings.Contains(kw, needle) {
			continue
		}
		for _, rec := range ix.byKeyword[kw] {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// LookupByID returns the record with the given id.
func (ix *Index) LookupByID(id string) (*model.TaxonomyRecord, bool) {
	if ix == nil || id == "" {
		return nil, false
	}
	rec, ok := ix.byID[id]
	return rec, ok
}

// MatchSamples returns, in load order, every record with a regex pattern that
// fully matches at least one sample. Each record appears at most once.
func (ix *Index) MatchSamples(samples []string) []*model.TaxonomyRecord {
	if ix == nil || len(samples) == 0 {
		return nil
	}
	var out []*model.TaxonomyRecord
	for _, cr := range ix.records {
		if matchesAny(cr.regexes, samples) {
			out = append(out, cr.record)
		}
	}
	return out
}

func matchesAny(regexes []*regexp.Regexp, samples []string) bool {
	for _, re := range regexes {
		for _, s := range samples {
			if re.MatchString(s) {
				return true
			}
		}
	}
	return false
}

// commentMatches reports whether comment matches any comment pattern of rec.
func (ix *Index) commentMatches(rec *model.TaxonomyRecord, comment string) bool {
	cr, ok := ix.compiled[rec]
	if !ok {
		return false
	}
	for _, re := range cr.comments {
		if re.MatchString(comment) {
			return true
		}
	}
	return false
}

// Records returns the indexed records in load order.
func (ix *Index) Records() []*model.TaxonomyRecord {
	if ix == nil {
		return nil
	}
	out := make([]*model.TaxonomyRecord, len(ix.records))
	for i, cr := range ix.records {
		out[i] = cr.record
	}
	return out
}

// Keywords returns the sorted normalized keyword keys.
func (ix *Index) Keywords() []string {
	if ix == nil {
		return nil
	}
	return append([]string(nil), ix.keywords...)
}

// FieldNames returns the normalized field-name and alias keys, sorted.
func (ix *Index) FieldNames() []string {
	if ix == nil {
		return nil
	}
	out := make([]string, 0, len(ix.byField))
	for k := range ix.byField {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the index.
type Stats struct {
	Records       int `json:"records"`
	Keywords      int `json:"keywords"`
	FieldNames    int `json:"field_names"`
	RegexPatterns int `json:"regex_patterns"`
}

// Stats returns index counts.
func (ix *Index) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	st := Stats{
		Records:    len(ix.records),
		Keywords:   len(ix.byKeyword),
		FieldNames: len(ix.byField),
	}
	for _, cr := range ix.records {
		st.RegexPatterns += len(cr.regexes)
	}
	return st
}
