package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/taxonomy"
)

type mockVector struct {
	mock.Mock
}

func (m *mockVector) Search(ctx context.Context, query string, topK int, threshold float64) ([]model.Document, error) {
	args := m.Called(ctx, query, topK, threshold)
	docs, _ := args.Get(0).([]model.Document)
	return docs, args.Error(1)
}

type staticIndex struct{ ix *taxonomy.Index }

func (s staticIndex) Current() *taxonomy.Index { return s.ix }

func intPtr(v int) *int { return &v }

func fixtureRecords() []model.TaxonomyRecord {
	return []model.TaxonomyRecord{
		{
			ID:       "pii-phone",
			Field:    model.FieldInfo{Name: "phone_number"},
			Taxonomy: model.TaxonomyPath{Path: []string{"用户相关数据", "用户基本资料"}, TargetCategory: "用户基本资料"},
			PIITags:  []string{"phone"},
			Level: &model.LevelInfo{Default: intPtr(2), Conditions: []model.Condition{
				{When: model.Predicate{Operator: model.OperatorCoOccursWithAny, Fields: []string{"id_card"}}, Result: 3, Rationale: "joined with identity number"},
			}},
			Rules:     []string{"r1", "r2", "r3"},
			Detection: model.Detection{Keywords: []string{"phone", "mobile"}},
			Text:      "Mobile phone number.",
		},
		{
			ID:       "pii-email",
			Field:    model.FieldInfo{Name: "email"},
			Taxonomy: model.TaxonomyPath{Path: []string{"用户相关数据", "网络身份标识"}, TargetCategory: "网络身份标识"},
			Level:    &model.LevelInfo{Default: intPtr(2)},
			Detection: model.Detection{
				Keywords:      []string{"mail"},
				RegexPatterns: []model.RegexPattern{{Regex: `[^@\s]+@[^@\s]+\.[a-z]+`}},
			},
			Text: "Email address.",
		},
		{
			ID:       "biz-revenue",
			Field:    model.FieldInfo{Name: "revenue"},
			Taxonomy: model.TaxonomyPath{Path: []string{"企业自身数据"}, TargetCategory: "企业自身数据"},
			Level:    &model.LevelInfo{Default: intPtr(1)},
			Text:     "Company revenue.",
		},
	}
}

func newFusion(v VectorSearcher) *Fusion {
	return New(staticIndex{taxonomy.NewIndex(fixtureRecords())}, v, Config{TopK: 3, Threshold: 0.7})
}

func TestMatch_ExactPhoneNumber(t *testing.T) {
	v := &mockVector{}
	f := newFusion(v)

	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "phone_number"}, taxonomy.RunContext{})
	require.NoError(t, err)

	assert.Equal(t, model.MatchExact, res.MatchMethod)
	require.NotNil(t, res.DeterminedLevel)
	assert.Equal(t, 2, *res.DeterminedLevel)
	assert.Equal(t, "pii-phone", res.BestMatch.ID)
	v.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMatch_ExactShortCircuitsOtherEvidence(t *testing.T) {
	f := newFusion(nil)

	// samples look like email but the name is an exact field match
	res, err := f.Match(context.Background(), model.ColumnQuery{
		Name:    "PHONE_NUMBER",
		Comment: "email",
		Samples: []string{"a@b.com"},
	}, taxonomy.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, model.MatchExact, res.MatchMethod)
	assert.Empty(t, res.RegexMatches)
}

func TestMatch_KeywordContactMobile(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, "field: contact, comment: customer mobile", 3, 0.7).Return([]model.Document{}, nil)
	f := newFusion(v)

	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "contact", Comment: "customer mobile"}, taxonomy.RunContext{})
	require.NoError(t, err)

	assert.Equal(t, model.MatchKeyword, res.MatchMethod)
	assert.Equal(t, "pii-phone", res.BestMatch.ID)
	require.NotNil(t, res.DeterminedLevel)
	assert.Equal(t, 2, *res.DeterminedLevel)
	v.AssertExpectations(t)
}

func TestMatch_RegexOutranksKeyword(t *testing.T) {
	f := newFusion(nil)

	res, err := f.Match(context.Background(), model.ColumnQuery{
		Name:    "contact_mobile",
		Samples: []string{"someone@example.com"},
	}, taxonomy.RunContext{})
	require.NoError(t, err)

	assert.Equal(t, model.MatchRegex, res.MatchMethod)
	assert.Equal(t, "pii-email", res.BestMatch.ID)
	require.Len(t, res.KeywordMatches, 1)
	assert.Equal(t, "pii-phone", res.KeywordMatches[0].ID)
}

func TestMatch_KeywordOutranksVector(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, "field: user_mail", 3, 0.7).
		Return([]model.Document{{Text: "Company revenue.", Metadata: map[string]any{"id": "biz-revenue"}}}, nil)
	f := newFusion(v)

	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "user_mail"}, taxonomy.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, model.MatchKeyword, res.MatchMethod)
	assert.Equal(t, "pii-email", res.BestMatch.ID)
	assert.Len(t, res.VectorMatches, 1)
}

func TestMatch_VectorFallback(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, "field: turnover, comment: yearly", 3, 0.7).
		Return([]model.Document{
			{Text: "unrelated", Metadata: map[string]any{"id": "not-indexed"}},
			{Text: "Company revenue.", Metadata: map[string]any{"id": "biz-revenue"}},
		}, nil)
	f := newFusion(v)

	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "turnover", Comment: "yearly"}, taxonomy.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, model.MatchVector, res.MatchMethod)
	assert.Equal(t, "biz-revenue", res.BestMatch.ID)
	assert.Equal(t, 1, *res.DeterminedLevel)
}

func TestMatch_NoMatch(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, mock.Anything, 3, 0.7).Return(nil, nil)
	f := newFusion(v)

	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "zzz"}, taxonomy.RunContext{})
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.Nil(t, res.DeterminedLevel)
	assert.Empty(t, res.MatchMethod)
}

func TestMatch_EmptyIndex(t *testing.T) {
	f := New(staticIndex{taxonomy.NewIndex(nil)}, nil, Config{})
	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "phone_number", Samples: []string{"1"}}, taxonomy.RunContext{})
	require.NoError(t, err)
	assert.False(t, res.Matched())
}

func TestMatch_VectorFailure(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("vector down"))
	f := newFusion(v)

	_, err := f.Match(context.Background(), model.ColumnQuery{Name: "zzz"}, taxonomy.RunContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector down")
}

func TestMatch_LevelUsesRunContext(t *testing.T) {
	f := newFusion(nil)
	res, err := f.Match(context.Background(), model.ColumnQuery{Name: "phone_number"},
		taxonomy.RunContext{TableColumns: []string{"phone_number", "id_card_no"}})
	require.NoError(t, err)
	assert.Equal(t, 3, *res.DeterminedLevel)
}

func TestMatchTable_KeepsColumnOrder(t *testing.T) {
	f := newFusion(nil)
	tq := model.TableQuery{
		TbName: "t_user",
		ColumnInfoList: []model.ColumnInfo{
			{ColumnName: "phone_number"},
			{ColumnName: "id_card"},
			{ColumnName: "email_addr", ExampleData: model.SampleList{"x@y.com"}},
			{ColumnName: "zzz"},
		},
	}

	results, err := f.MatchTable(context.Background(), tq)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "phone_number", results[0].ColumnName)
	// id_card co-occurs with phone_number in the table
	assert.Equal(t, 3, *results[0].DeterminedLevel)
	assert.False(t, results[1].Matched())
	assert.Equal(t, model.MatchRegex, results[2].MatchMethod)
	assert.False(t, results[3].Matched())
}

func TestMatchTable_VectorFailureFailsTable(t *testing.T) {
	v := &mockVector{}
	v.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	f := newFusion(v)

	_, err := f.MatchTable(context.Background(), model.TableQuery{
		ColumnInfoList: []model.ColumnInfo{{ColumnName: "a"}, {ColumnName: "b"}},
	})
	assert.Error(t, err)
}

func TestFormatResults(t *testing.T) {
	f := newFusion(nil)
	results, err := f.MatchTable(context.Background(), model.TableQuery{
		ColumnInfoList: []model.ColumnInfo{
			{ColumnName: "phone_number", ColumnComment: "手机号"},
			{ColumnName: "id_card"},
			{ColumnName: "zzz"},
		},
	})
	require.NoError(t, err)

	out := FormatResults(results)
	assert.True(t, strings.HasPrefix(out, "Retrieval summary: 3 columns, 1 matched, 2 unmatched\n"))
	assert.Contains(t, out, "Column: phone_number (手机号)")
	assert.Contains(t, out, "- Match method: exact field name")
	assert.Contains(t, out, "- Taxonomy path: 用户相关数据 > 用户基本资料")
	assert.Contains(t, out, "- Level: 3 (condition applied, default 2)")
	assert.Contains(t, out, "  * joined with identity number")
	assert.Contains(t, out, "- Rules: r1; r2...")
	assert.NotContains(t, out, "r3")
	assert.Contains(t, out, "- PII tags: phone")
	assert.Contains(t, out, "Column: zzz\n- No taxonomy match")

	assert.Empty(t, FormatResults(nil))
}
