package retrieval

import (
	"fmt"
	"strings"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// maxRules caps the classification rules quoted per column.
const maxRules = 2

// FormatResults renders the evidence block handed to the reasoner: a summary
// line, then one section per column.
func FormatResults(results []*model.EnhancedMatchResult) string {
	if len(results) == 0 {
		return ""
	}

	var body strings.Builder
	matched := 0
	for _, r := range results {
		body.WriteString("Column: ")
		body.WriteString(r.ColumnName)
		if r.ColumnComment != "" {
			fmt.Fprintf(&body, " (%s)", r.ColumnComment)
		}
		body.WriteString("\n")

		if !r.Matched() {
			body.WriteString("- No taxonomy match (manual review suggested)\n\n")
			continue
		}
		matched++
		writeMatch(&body, r)
		body.WriteString("\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Retrieval summary: %d columns, %d matched, %d unmatched\n\n",
		len(results), matched, len(results)-matched)
	b.WriteString("=== Taxonomy evidence ===\n\n")
	b.WriteString(body.String())
	return b.String()
}

func writeMatch(b *strings.Builder, r *model.EnhancedMatchResult) {
	rec := r.BestMatch
	fmt.Fprintf(b, "- Match method: %s\n", r.MatchMethod.Describe())
	fmt.Fprintf(b, "- Definition: %s\n", rec.Field.Name)
	fmt.Fprintf(b, "- Taxonomy path: %s\n", strings.Join(rec.Taxonomy.Path, " > "))
	fmt.Fprintf(b, "- Target category: %s\n", rec.Taxonomy.TargetCategory)

	switch {
	case r.DeterminedLevel != nil:
		fmt.Fprintf(b, "- Level: %d", *r.DeterminedLevel)
		if *r.DeterminedLevel != rec.Level.DefaultLevel() {
			fmt.Fprintf(b, " (condition applied, default %d)", rec.Level.DefaultLevel())
		}
		b.WriteString("\n")
	case rec.Level != nil:
		fmt.Fprintf(b, "- Default level: %d\n", rec.Level.DefaultLevel())
	}

	if rec.Level != nil && len(rec.Level.Conditions) > 0 {
		b.WriteString("- Conditions:\n")
		for _, c := range rec.Level.Conditions {
			fmt.Fprintf(b, "  * %s\n", c.Rationale)
		}
	}

	if len(rec.Rules) > 0 {
		n := min(len(rec.Rules), maxRules)
		fmt.Fprintf(b, "- Rules: %s", strings.Join(rec.Rules[:n], "; "))
		if len(rec.Rules) > maxRules {
			b.WriteString("...")
		}
		b.WriteString("\n")
	}

	if len(rec.PIITags) > 0 {
		fmt.Fprintf(b, "- PII tags: %s\n", strings.Join(rec.PIITags, ", "))
	}
	fmt.Fprintf(b, "- Description: %s\n", rec.Text)
}
