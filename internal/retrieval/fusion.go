// Package retrieval fuses exact, keyword, regex and vector evidence into one
// best taxonomy match per column.
package retrieval

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/taxonomy"
)

// VectorSearcher is the semantic search capability.
type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]model.Document, error)
}

// IndexSource returns the taxonomy snapshot to search.
type IndexSource interface {
	Current() *taxonomy.Index
}

// Config tunes vector search and column fan-out.
type Config struct {
	TopK        int
	Threshold   float64
	Concurrency int
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{TopK: 3, Threshold: 0.7, Concurrency: 8}
}

// Fusion matches columns against the taxonomy.
type Fusion struct {
	index  IndexSource
	vector VectorSearcher
	cfg    Config
}

// New returns a Fusion. A nil vector searcher disables semantic search.
func New(index IndexSource, vector VectorSearcher, cfg Config) *Fusion {
	d := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	return &Fusion{index: index, vector: vector, cfg: cfg}
}

// Match finds the best taxonomy record for one column. An exact field-name
// hit returns immediately; otherwise regex evidence outranks keyword evidence,
// which outranks vector evidence. The error is non-nil only when the vector
// capability fails.
func (f *Fusion) Match(ctx context.Context, q model.ColumnQuery, rc taxonomy.RunContext) (*model.EnhancedMatchResult, error) {
	ix := f.index.Current()
	res := &model.EnhancedMatchResult{ColumnName: q.Name, ColumnComment: q.Comment}

	if rec, ok := ix.LookupByFieldName(q.Name); ok {
		f.resolve(res, rec, model.MatchExact, rc)
		return res, nil
	}

	res.KeywordMatches = keywordCandidates(ix, q)
	res.RegexMatches = ix.MatchSamples(q.Samples)

	if f.vector != nil {
		docs, err := f.vector.Search(ctx, vectorQuery(q), f.cfg.TopK, f.cfg.Threshold)
		if err != nil {
			return res, eris.Wrapf(err, "retrieval: vector search for column %s", q.Name)
		}
		res.VectorMatches = docs
	}

	switch {
	case len(res.RegexMatches) > 0:
		f.resolve(res, res.RegexMatches[0], model.MatchRegex, rc)
	case len(res.KeywordMatches) > 0:
		ranked := ix.RankByFieldName(res.KeywordMatches, q.Name, q.Comment)
		f.resolve(res, ranked[0].Record, model.MatchKeyword, rc)
	default:
		for _, d := range res.VectorMatches {
			if rec, ok := ix.LookupByID(d.ID()); ok {
				f.resolve(res, rec, model.MatchVector, rc)
				break
			}
		}
	}

	zap.L().Debug("retrieval: column matched",
		zap.String("column", q.Name),
		zap.String("method", string(res.MatchMethod)),
		zap.Int("keyword", len(res.KeywordMatches)),
		zap.Int("regex", len(res.RegexMatches)),
		zap.Int("vector", len(res.VectorMatches)),
	)
	return res, nil
}

func (f *Fusion) resolve(res *model.EnhancedMatchResult, rec *model.TaxonomyRecord, method model.MatchMethod, rc taxonomy.RunContext) {
	res.BestMatch = rec
	res.MatchMethod = method
	if lvl, ok := taxonomy.DetermineLevel(rec, rc); ok {
		res.DeterminedLevel = &lvl
	}
}

// keywordCandidates is the identity-deduplicated union of keyword hits on
// the column name and then the comment.
func keywordCandidates(ix *taxonomy.Index, q model.ColumnQuery) []*model.TaxonomyRecord {
	var out []*model.TaxonomyRecord
	seen := make(map[*model.TaxonomyRecord]struct{})
	for _, text := range []string{q.Name, q.Comment} {
		for _, rec := range ix.LookupByKeyword(text) {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

func vectorQuery(q model.ColumnQuery) string {
	var b strings.Builder
	b.WriteString("field: ")
	b.WriteString(q.Name)
	if q.Comment != "" {
		b.WriteString(", comment: ")
		b.WriteString(q.Comment)
	}
	return b.String()
}

// MatchTable matches every column of tq concurrently. Results keep column
// order. The first vector failure cancels the remaining columns.
func (f *Fusion) MatchTable(ctx context.Context, tq model.TableQuery) ([]*model.EnhancedMatchResult, error) {
	cols := tq.Columns()
	rc := taxonomy.RunContext{TableColumns: tq.ColumnNames(), IsPublished: tq.IsPublished}
	results := make([]*model.EnhancedMatchResult, len(cols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, col := range cols {
		g.Go(func() error {
			res, err := f.Match(gctx, col, rc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matched := 0
	for _, r := range results {
		if r.Matched() {
			matched++
		}
	}
	zap.L().Info("retrieval: table matched",
		zap.String("table", tq.TbName),
		zap.Int("columns", len(results)),
		zap.Int("matched", matched),
	)
	return results, nil
}
