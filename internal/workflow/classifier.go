package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/correct"
	"github.com/sells-group/sensitivity-cli/internal/model"
)

// DefaultMaxAttempts is the classification budget per run.
const DefaultMaxAttempts = 3

// Deps are the capabilities the classification graph calls.
type Deps struct {
	Similarity SimilarityMatcher
	Retrieval  TableMatcher
	Reasoner   Reasoner
}

// Options tune the classification graph.
type Options struct {
	MaxAttempts int

	// RunTimeout bounds a whole run. Zero means no run deadline.
	RunTimeout time.Duration

	// Per-node call timeouts. Zero means none.
	SimilarityTimeout time.Duration
	RetrievalTimeout  time.Duration
	ClassifyTimeout   time.Duration
}

// Input is one classification request.
type Input struct {
	Query    any `json:"query"`
	Category any `json:"category,omitempty"`
}

// Result is the outcome of a classification run.
type Result struct {
	State     State
	Attempts  int
	Corrected *model.ClassificationResult
}

// Classifier runs the table classification graph:
//
//	start -> {similarityMatch, retrieval} -> classify -> validate
//	validate -(invalid)-> classify
//	validate -(valid)-> correct -> end
type Classifier struct {
	graph *Compiled
	opts  Options
}

// NewClassifier compiles the classification graph over deps.
func NewClassifier(deps Deps, opts Options) (*Classifier, error) {
	if deps.Retrieval == nil || deps.Reasoner == nil {
		return nil, eris.New("workflow: retrieval and reasoner are required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	g := NewGraph().
		AddNode(NodeSimilarity, SimilarityNode(deps.Similarity), WithTimeout(opts.SimilarityTimeout)).
		AddNode(NodeRetrieval, RetrievalNode(deps.Retrieval), WithTimeout(opts.RetrievalTimeout)).
		AddNode(NodeClassify, ClassifyNode(deps.Reasoner),
			WithTimeout(opts.ClassifyTimeout),
			WithRecover(RecoverExtraction),
		).
		AddNode(NodeValidate, ValidateNode()).
		AddNode(NodeCorrect, CorrectNode()).
		AddEdge(Start, NodeSimilarity).
		AddEdge(Start, NodeRetrieval).
		AddEdge(NodeSimilarity, NodeClassify).
		AddEdge(NodeRetrieval, NodeClassify).
		AddEdge(NodeClassify, NodeValidate).
		AddConditionalEdges(NodeValidate, RouteValidation, map[string]string{
			RouteValid:   NodeCorrect,
			RouteInvalid: NodeClassify,
		}).
		AddEdge(NodeCorrect, End).
		SetMaxVisits(NodeClassify, opts.MaxAttempts, ErrValidationExhausted)

	compiled, err := g.Compile()
	if err != nil {
		return nil, err
	}
	return &Classifier{graph: compiled, opts: opts}, nil
}

// Classify runs the graph for one table. The returned Result carries the
// final state even when err is non-nil.
func (c *Classifier) Classify(ctx context.Context, in Input, opts ...RunOption) (*Result, error) {
	initial := State{
		KeyQuery:    in.Query,
		KeyCategory: correct.ParseCategories(in.Category),
	}
	runOpts := append([]RunOption{WithRunTimeout(c.opts.RunTimeout)}, opts...)

	start := time.Now()
	final, err := c.graph.Run(ctx, initial, runOpts...)
	res := &Result{State: final, Attempts: final.Int(KeyAttempts)}

	log := zap.L().With(
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		log.Error("workflow: classification failed", zap.Error(err))
		return res, err
	}

	if raw := final.String(KeyCorrectedResult); raw != "" {
		var typed model.ClassificationResult
		if decErr := json.Unmarshal([]byte(raw), &typed); decErr != nil {
			log.Warn("workflow: corrected result does not decode", zap.Error(decErr))
		} else {
			res.Corrected = &typed
		}
	}
	log.Info("workflow: classification complete", zap.Bool("corrected", res.Corrected != nil))
	return res, nil
}
