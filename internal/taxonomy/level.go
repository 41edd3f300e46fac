package taxonomy

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// RunContext is the per-run information conditions are evaluated against.
type RunContext struct {
	TableColumns []string
	IsPublished  bool
}

// DetermineLevel resolves the level of rec under rc. Conditions are evaluated
// in order and the first that holds supplies the level; otherwise the default
// applies. The boolean is false when the record carries no level at all.
func DetermineLevel(rec *model.TaxonomyRecord, rc RunContext) (int, bool) {
	if rec == nil || rec.Level == nil || rec.Level.Default == nil {
		return 0, false
	}
	for _, c := range rec.Level.Conditions {
		if evaluate(c.When, rc) {
			zap.L().Debug("taxonomy: level condition matched",
				zap.String("id", rec.ID),
				zap.String("operator", c.When.Operator),
				zap.String("rationale", c.Rationale),
			)
			return c.Result, true
		}
	}
	return *rec.Level.Default, true
}

// evaluate reports whether p holds. Unknown operators never hold.
func evaluate(p model.Predicate, rc RunContext) bool {
	switch p.Operator {
	case model.OperatorCoOccursWithAny:
		for _, want := range p.Fields {
			w := strings.ToLower(want)
			if w == "" {
				continue
			}
			for _, col := range rc.TableColumns {
				if strings.Contains(strings.ToLower(col), w) {
					return true
				}
			}
		}
		return false
	case model.OperatorPublished:
		return rc.IsPublished
	default:
		return false
	}
}
