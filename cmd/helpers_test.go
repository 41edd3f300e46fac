//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/reasoner"
	"github.com/sells-group/sensitivity-cli/internal/store"
	"github.com/sells-group/sensitivity-cli/internal/workflow"
)

const testQuery = `{"tbName":"t_user","columnInfoList":[{"columnName":"phone_number","columnComment":"手机号"}]}`

type stubTables struct{ err error }

func (s stubTables) MatchTable(_ context.Context, tq model.TableQuery) ([]*model.EnhancedMatchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*model.EnhancedMatchResult, 0, len(tq.ColumnInfoList))
	for _, c := range tq.ColumnInfoList {
		out = append(out, &model.EnhancedMatchResult{ColumnName: c.ColumnName})
	}
	return out, nil
}

type stubReasoner struct {
	mu    sync.Mutex
	doc   any
	err   error
	calls int
}

func (s *stubReasoner) Classify(_ context.Context, _ reasoner.Input) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.doc, s.err
}

func classification() map[string]any {
	return map[string]any{
		"tbName":               "t_user",
		"tableClassifications": []any{"用户基本资料"},
		"tableLevel":           3.0,
		"tableReasoning":       "holds phone numbers",
		"columnInfoList": []any{
			map[string]any{
				"columnName":            "phone_number",
				"columnClassifications": []any{"用户基本资料"},
				"columnLevel":           3.0,
				"columnReasoning":       "mobile number",
			},
		},
	}
}

func newTestClassifier(t *testing.T, tables workflow.TableMatcher, r workflow.Reasoner) *workflow.Classifier {
	t.Helper()
	c, err := workflow.NewClassifier(workflow.Deps{Retrieval: tables, Reasoner: r}, workflow.Options{MaxAttempts: 3})
	require.NoError(t, err)
	return c
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// failingStore fails every write.
type failingStore struct {
	store.Store
}

func (failingStore) CreateRun(context.Context, string, string) (*model.Run, error) {
	return nil, context.DeadlineExceeded
}
