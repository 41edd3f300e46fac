package taxonomy

import (
	"sort"
	"strings"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// Scores awarded by RankByFieldName.
const (
	scoreNameEqual      = 100
	scoreAliasEqual     = 90
	scoreCommentPattern = 60
	scoreKeywordInName  = 50
	scoreCommentHasName = 40
)

// Scored pairs a record with its field-name score.
type Scored struct {
	Record *model.TaxonomyRecord
	Score  int
}

// RankByFieldName re-scores keyword candidates against the column's name and
// comment and returns them highest score first. Ties keep the candidates'
// original order.
func (ix *Index) RankByFieldName(candidates []*model.TaxonomyRecord, columnName, comment string) []Scored {
	out := make([]Scored, len(candidates))
	for i, rec := range candidates {
		out[i] = Scored{Record: rec, Score: ix.fieldScore(rec, columnName, comment)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func (ix *Index) fieldScore(rec *model.TaxonomyRecord, columnName, comment string) int {
	score := 0
	name := Normalize(columnName)

	if name != "" {
		if rec.Field.Name != "" && name == Normalize(rec.Field.Name) {
			score += scoreNameEqual
		}
		for _, alias := range rec.Field.Aliases {
			if alias != "" && name == Normalize(alias) {
				score += scoreAliasEqual
				break
			}
		}
		for _, kw := range rec.Detection.Keywords {
			if k := Normalize(kw); k != "" && strings.Contains(name, k) {
				score += scoreKeywordInName
				break
			}
		}
	}

	if comment != "" {
		if ix.commentMatches(rec, comment) {
			score += scoreCommentPattern
		}
		if rec.Field.Name != "" && strings.Contains(Normalize(comment), Normalize(rec.Field.Name)) {
			score += scoreCommentHasName
		}
	}
	return score
}
