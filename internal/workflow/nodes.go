package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/correct"
	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/reasoner"
	"github.com/sells-group/sensitivity-cli/internal/retrieval"
	"github.com/sells-group/sensitivity-cli/internal/validate"
)

// Node names of the classification graph.
const (
	NodeSimilarity = "similarityMatch"
	NodeRetrieval  = "retrieval"
	NodeClassify   = "classify"
	NodeValidate   = "validate"
	NodeCorrect    = "correct"
)

// Routes out of the validate node.
const (
	RouteValid   = "valid"
	RouteInvalid = "invalid"
)

// SimilarityMatcher is the external similarity capability.
type SimilarityMatcher interface {
	Match(ctx context.Context, query string) (map[string]any, error)
}

// TableMatcher is the retrieval capability.
type TableMatcher interface {
	MatchTable(ctx context.Context, tq model.TableQuery) ([]*model.EnhancedMatchResult, error)
}

// Reasoner is the classification capability.
type Reasoner interface {
	Classify(ctx context.Context, in reasoner.Input) (any, error)
}

// queryText returns the query as the string the similarity service expects.
func queryText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", eris.New("workflow: query is empty")
	case string:
		return t, nil
	}
	return encodeJSON(v)
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", eris.Wrap(err, "workflow: encode")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// SimilarityNode queries the similarity service. Failures never fail the run;
// they are written as {"error": message} so classification can go on
// without that evidence.
func SimilarityNode(m SimilarityMatcher) NodeFunc {
	return func(ctx context.Context, s State) (Update, error) {
		if m == nil {
			return Update{KeySimilarityMatch: map[string]any{}}, nil
		}
		q, err := queryText(s[KeyQuery])
		if err != nil {
			return Update{KeySimilarityMatch: map[string]any{"error": err.Error()}}, nil
		}
		res, err := m.Match(ctx, q)
		if err != nil {
			zap.L().Warn("workflow: similarity match failed", zap.Error(err))
			return Update{KeySimilarityMatch: map[string]any{"error": err.Error()}}, nil
		}
		return Update{KeySimilarityMatch: res}, nil
	}
}

// RetrievalNode fuses taxonomy evidence for every column of the query and
// writes the formatted evidence block.
func RetrievalNode(tm TableMatcher) NodeFunc {
	return func(ctx context.Context, s State) (Update, error) {
		tq, err := model.ParseTableQuery(s[KeyQuery])
		if err != nil {
			return nil, eris.Wrap(err, "workflow: retrieval")
		}
		results, err := tm.MatchTable(ctx, tq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, &UpstreamError{Stage: NodeRetrieval, Err: err}
		}
		return Update{KeyRetrievedDocs: retrieval.FormatResults(results)}, nil
	}
}

// ClassifyNode asks the reasoner for a classification. The reason the last
// attempt was rejected is passed along as feedback.
func ClassifyNode(r Reasoner) NodeFunc {
	return func(ctx context.Context, s State) (Update, error) {
		in := reasoner.Input{
			Query:           s[KeyQuery],
			Category:        s[KeyCategory],
			RetrievedDocs:   s[KeyRetrievedDocs],
			SimilarityMatch: s[KeySimilarityMatch],
			Feedback:        s.String(KeyValidationError),
		}
		doc, err := r.Classify(ctx, in)
		if err != nil {
			if isExtractionError(err) || ctx.Err() != nil {
				return nil, err
			}
			return nil, &UpstreamError{Stage: NodeClassify, Err: err}
		}
		return Update{
			KeyLLMResult: doc,
			KeyLLMError:  "",
			KeyAttempts:  s.Int(KeyAttempts) + 1,
		}, nil
	}
}

func isExtractionError(err error) bool {
	return errors.Is(err, reasoner.ErrNoJSONFound) || errors.Is(err, reasoner.ErrInvalidJSON)
}

// RecoverExtraction routes unusable completions into the invalid branch by
// clearing llmResult and recording the extraction error.
func RecoverExtraction(s State, err error) (Update, bool) {
	if !isExtractionError(err) {
		return nil, false
	}
	return Update{
		KeyLLMResult: nil,
		KeyLLMError:  err.Error(),
		KeyAttempts:  s.Int(KeyAttempts) + 1,
	}, true
}

// ValidateNode checks the structure of llmResult.
func ValidateNode() NodeFunc {
	return func(_ context.Context, s State) (Update, error) {
		reason := ""
		if !s.Has(KeyLLMResult) && s.String(KeyLLMError) != "" {
			reason = s.String(KeyLLMError)
		} else if err := validate.Check(s[KeyLLMResult]); err != nil {
			reason = err.Error()
		}

		if reason == "" {
			return Update{KeyIsValid: 1, KeyValidationError: ""}, nil
		}
		zap.L().Info("workflow: classification rejected",
			zap.Int("attempt", s.Int(KeyAttempts)),
			zap.String("reason", reason),
		)
		return Update{
			KeyIsValid:         0,
			KeyValidationError: reason,
		}, nil
	}
}

// RouteValidation sends valid results on to correction and everything else
// back to classification.
func RouteValidation(s State) string {
	if s.Int(KeyIsValid) == 1 {
		return RouteValid
	}
	return RouteInvalid
}

// CorrectNode snaps categories onto the canonical list. On failure the
// uncorrected result is kept as JSON instead.
func CorrectNode() NodeFunc {
	return func(_ context.Context, s State) (Update, error) {
		canonical := correct.ParseCategories(s[KeyCategory])
		out, err := correct.Correct(s[KeyLLMResult], canonical)
		if err == nil {
			return Update{KeyCorrectedResult: out}, nil
		}

		zap.L().Warn("workflow: correction failed, keeping raw result", zap.Error(err))
		raw, encErr := encodeJSON(s[KeyLLMResult])
		if encErr != nil {
			return nil, eris.Wrap(encErr, "workflow: encode uncorrected result")
		}
		return Update{KeyIncorrectedResult: raw}, nil
	}
}
