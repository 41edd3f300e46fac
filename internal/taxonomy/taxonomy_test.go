package taxonomy

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

func intPtr(v int) *int { return &v }

func loadFixture(t *testing.T) *Index {
	t.Helper()
	records, err := LoadFile("testdata/taxonomy.ndjson")
	require.NoError(t, err)
	return NewIndex(records)
}

func TestLoadNDJSON_SkipsMalformedAndInvalid(t *testing.T) {
	records, err := LoadFile("testdata/taxonomy.ndjson")
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"pii-phone", "pii-email", "biz-revenue"}, ids)
}

func TestLoadYAML_MultiDocument(t *testing.T) {
	records, err := LoadFile("testdata/taxonomy.yaml")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pii-idcard", records[0].ID)
	assert.Equal(t, []string{"identity_no"}, records[0].Field.Aliases)
	assert.Equal(t, 4, records[0].Level.DefaultLevel())
	assert.Equal(t, "address", records[1].Field.Name)
}

func TestLoadYAML_SyntaxErrorStops(t *testing.T) {
	in := "id: a\nlevel:\n  default: 1\n---\nid: [unclosed\n"
	records, err := LoadYAML(strings.NewReader(in))
	require.Error(t, err)
	assert.Len(t, records, 1)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.ndjson")
	assert.Error(t, err)
}

func TestIndex_Completeness(t *testing.T) {
	ix := loadFixture(t)

	for _, rec := range ix.Records() {
		for _, kw := range rec.Detection.Keywords {
			found := false
			for _, got := range ix.LookupByKeyword(kw) {
				if got == rec {
					found = true
				}
			}
			assert.Truef(t, found, "keyword %q should find %s", kw, rec.ID)
		}

		got, ok := ix.LookupByFieldName(rec.Field.Name)
		require.Truef(t, ok, "field %q", rec.Field.Name)
		assert.Equal(t, rec.ID, got.ID)
		for _, alias := range rec.Field.Aliases {
			got, ok := ix.LookupByFieldName(alias)
			require.Truef(t, ok, "alias %q", alias)
			assert.Equal(t, rec.ID, got.ID)
		}
	}
}

func TestIndex_FieldNameCaseAndWidth(t *testing.T) {
	ix := loadFixture(t)

	got, ok := ix.LookupByFieldName("PHONE_NUMBER")
	require.True(t, ok)
	assert.Equal(t, "pii-phone", got.ID)

	got, ok = ix.LookupByFieldName("ＭＯＢＩＬＥ")
	require.True(t, ok)
	assert.Equal(t, "pii-phone", got.ID)

	_, ok = ix.LookupByFieldName("")
	assert.False(t, ok)
}

func TestIndex_KeywordBidirectional(t *testing.T) {
	ix := loadFixture(t)

	// keyword inside text
	got := ix.LookupByKeyword("customer mobile")
	require.Len(t, got, 1)
	assert.Equal(t, "pii-phone", got[0].ID)

	// text inside keyword
	got = ix.LookupByKeyword("reven")
	require.Len(t, got, 1)
	assert.Equal(t, "biz-revenue", got[0].ID)

	// phone and mobile both hit the same record once
	got = ix.LookupByKeyword("mobile phone")
	assert.Len(t, got, 1)

	assert.Empty(t, ix.LookupByKeyword("zzz"))
	assert.Empty(t, ix.LookupByKeyword(""))
}

func TestIndex_MinKeywordLen(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "a", Detection: model.Detection{Keywords: []string{"id"}}},
		{ID: "b", Detection: model.Detection{Keywords: []string{"idcard"}}},
	}
	ix := NewIndex(records, WithMinKeywordLen(3))

	got := ix.LookupByKeyword("user_idcard")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestIndex_DuplicateIDSkipped(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "x", Field: model.FieldInfo{Name: "first"}},
		{ID: "x", Field: model.FieldInfo{Name: "second"}},
	}
	ix := NewIndex(records)
	assert.Len(t, ix.Records(), 1)
	_, ok := ix.LookupByFieldName("second")
	assert.False(t, ok)
}

func TestIndex_FieldNameLastWriteWins(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "a", Field: model.FieldInfo{Name: "name"}},
		{ID: "b", Field: model.FieldInfo{Name: "full_name", Aliases: []string{"name"}}},
	}
	ix := NewIndex(records)
	got, ok := ix.LookupByFieldName("name")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestIndex_DoesNotAliasCallerSlice(t *testing.T) {
	records := []model.TaxonomyRecord{{ID: "a", Field: model.FieldInfo{Name: "email"}}}
	ix := NewIndex(records)
	records[0].Field.Name = "changed"

	got, ok := ix.LookupByFieldName("email")
	require.True(t, ok)
	assert.Equal(t, "email", got.Field.Name)
}

func TestIndex_MatchSamples(t *testing.T) {
	ix := loadFixture(t)

	got := ix.MatchSamples([]string{"hello", "13800138000"})
	require.Len(t, got, 1)
	assert.Equal(t, "pii-phone", got[0].ID)

	// full-string match only
	assert.Empty(t, ix.MatchSamples([]string{"tel:13800138000"}))

	got = ix.MatchSamples([]string{"a@b.com", "13900000000"})
	require.Len(t, got, 2)
	assert.Equal(t, "pii-phone", got[0].ID)
	assert.Equal(t, "pii-email", got[1].ID)

	assert.Empty(t, ix.MatchSamples(nil))
}

func TestIndex_InvalidRegexSkipped(t *testing.T) {
	ix := loadFixture(t)
	rec, ok := ix.LookupByID("biz-revenue")
	require.True(t, ok)
	assert.Equal(t, "revenue", rec.Field.Name)
	assert.Equal(t, 2, ix.Stats().RegexPatterns)
}

func TestIndex_Stats(t *testing.T) {
	ix := loadFixture(t)
	st := ix.Stats()
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, 7, st.Keywords)
	assert.Equal(t, 6, st.FieldNames)
	assert.Len(t, ix.Keywords(), 7)
	assert.Len(t, ix.FieldNames(), 6)

	var nilIndex *Index
	assert.Equal(t, Stats{}, nilIndex.Stats())
	assert.Nil(t, nilIndex.LookupByKeyword("phone"))
}

func TestDetermineLevel(t *testing.T) {
	rec := &model.TaxonomyRecord{
		ID: "r",
		Level: &model.LevelInfo{
			Default: intPtr(2),
			Conditions: []model.Condition{
				{When: model.Predicate{Operator: model.OperatorCoOccursWithAny, Fields: []string{"id_card"}}, Result: 4},
				{When: model.Predicate{Operator: model.OperatorPublished}, Result: 1},
			},
		},
	}

	tests := []struct {
		name string
		rc   RunContext
		want int
	}{
		{"default", RunContext{TableColumns: []string{"phone"}}, 2},
		{"co-occurs", RunContext{TableColumns: []string{"phone", "User_ID_Card"}}, 4},
		{"published", RunContext{IsPublished: true}, 1},
		{"first condition wins", RunContext{TableColumns: []string{"id_card"}, IsPublished: true}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetermineLevel(rec, tt.rc)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetermineLevel_OrderSensitive(t *testing.T) {
	conds := []model.Condition{
		{When: model.Predicate{Operator: model.OperatorPublished}, Result: 1},
		{When: model.Predicate{Operator: model.OperatorCoOccursWithAny, Fields: []string{"name"}}, Result: 3},
	}
	rc := RunContext{TableColumns: []string{"name"}, IsPublished: true}

	forward := &model.TaxonomyRecord{Level: &model.LevelInfo{Default: intPtr(2), Conditions: conds}}
	reversed := &model.TaxonomyRecord{Level: &model.LevelInfo{
		Default:    intPtr(2),
		Conditions: []model.Condition{conds[1], conds[0]},
	}}

	a, _ := DetermineLevel(forward, rc)
	b, _ := DetermineLevel(reversed, rc)
	assert.Equal(t, 1, a)
	assert.Equal(t, 3, b)
}

func TestDetermineLevel_UnknownOperatorAndMissingLevel(t *testing.T) {
	rec := &model.TaxonomyRecord{Level: &model.LevelInfo{
		Default:    intPtr(2),
		Conditions: []model.Condition{{When: model.Predicate{Operator: "matches_regex"}, Result: 5}},
	}}
	got, ok := DetermineLevel(rec, RunContext{IsPublished: true})
	require.True(t, ok)
	assert.Equal(t, 2, got)

	_, ok = DetermineLevel(&model.TaxonomyRecord{}, RunContext{})
	assert.False(t, ok)
	_, ok = DetermineLevel(nil, RunContext{})
	assert.False(t, ok)
}

func TestRankByFieldName(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "weak", Field: model.FieldInfo{Name: "contact_person"}, Detection: model.Detection{Keywords: []string{"contact"}}},
		{ID: "strong", Field: model.FieldInfo{Name: "mobile"}, Detection: model.Detection{
			Keywords:        []string{"contact"},
			CommentPatterns: []string{"*mobile*"},
		}},
	}
	ix := NewIndex(records)
	cands := ix.LookupByKeyword("contact")
	require.Len(t, cands, 2)
	assert.Equal(t, "weak", cands[0].ID)

	ranked := ix.RankByFieldName(cands, "contact", "customer mobile")
	require.Len(t, ranked, 2)
	assert.Equal(t, "strong", ranked[0].Record.ID)
	// keyword in name + comment glob + comment contains name
	assert.Equal(t, 50+60+40, ranked[0].Score)
	assert.Equal(t, 50, ranked[1].Score)
}

func TestRankByFieldName_StableTies(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "a", Detection: model.Detection{Keywords: []string{"x"}}},
		{ID: "b", Detection: model.Detection{Keywords: []string{"x"}}},
	}
	ix := NewIndex(records)
	ranked := ix.RankByFieldName(ix.LookupByKeyword("x"), "nomatch", "")
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Record.ID)
	assert.Equal(t, "b", ranked[1].Record.ID)
}

func TestRankByFieldName_ExactAndAlias(t *testing.T) {
	records := []model.TaxonomyRecord{
		{ID: "alias", Field: model.FieldInfo{Name: "telephone", Aliases: []string{"tel"}}},
		{ID: "exact", Field: model.FieldInfo{Name: "tel"}},
	}
	ix := NewIndex(records)
	ranked := ix.RankByFieldName(ix.Records(), "TEL", "")
	assert.Equal(t, "exact", ranked[0].Record.ID)
	assert.Equal(t, 100, ranked[0].Score)
	assert.Equal(t, 90, ranked[1].Score)
}

func TestHolder_LoadAndReload(t *testing.T) {
	h := NewHolder()
	require.NotNil(t, h.Current())
	assert.Equal(t, 0, h.Current().Stats().Records)

	old := h.Current()
	ix, err := h.ReloadFile("testdata/taxonomy.ndjson")
	require.NoError(t, err)
	assert.Same(t, ix, h.Current())
	assert.Equal(t, 0, old.Stats().Records)

	_, err = h.ReloadFile("testdata/missing.ndjson")
	require.Error(t, err)
	assert.Same(t, ix, h.Current())
}

func TestHolder_ConcurrentReaders(t *testing.T) {
	h := NewHolder()
	records, err := LoadFile("testdata/taxonomy.ndjson")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ix := h.Current()
				st := ix.Stats()
				// either the empty or the full snapshot, never partial
				if st.Records != 0 && st.Records != 3 {
					t.Errorf("partial index observed: %d records", st.Records)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		h.Load(records)
	}
	wg.Wait()
}
