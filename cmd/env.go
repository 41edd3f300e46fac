package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensitivity-cli/internal/reasoner"
	"github.com/sells-group/sensitivity-cli/internal/resilience"
	"github.com/sells-group/sensitivity-cli/internal/retrieval"
	"github.com/sells-group/sensitivity-cli/internal/store"
	"github.com/sells-group/sensitivity-cli/internal/taxonomy"
	"github.com/sells-group/sensitivity-cli/internal/workflow"
	anthropicpkg "github.com/sells-group/sensitivity-cli/pkg/anthropic"
	"github.com/sells-group/sensitivity-cli/pkg/similarity"
	"github.com/sells-group/sensitivity-cli/pkg/vectorsearch"
)

// classifyEnv holds the initialized store, taxonomy index and classifier
// needed by the classify and serve commands.
type classifyEnv struct {
	Store      store.Store
	Index      *taxonomy.Holder
	Fusion     *retrieval.Fusion
	Classifier *workflow.Classifier
}

// Close releases resources held by the environment.
func (e *classifyEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initClassifyEnv opens the store, loads the taxonomy and builds the
// classification graph. Callers should defer env.Close().
func initClassifyEnv(ctx context.Context) (*classifyEnv, error) {
	holder, fusion, err := initRetrieval()
	if err != nil {
		return nil, err
	}

	cl, err := initClassifier(fusion)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	return &classifyEnv{
		Store:      st,
		Index:      holder,
		Fusion:     fusion,
		Classifier: cl,
	}, nil
}

// initStore opens and migrates the run history database.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		Pool: store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initRetrieval loads the taxonomy and wires it with the optional vector
// search service.
func initRetrieval() (*taxonomy.Holder, *retrieval.Fusion, error) {
	holder := taxonomy.NewHolder(taxonomy.WithMinKeywordLen(cfg.Taxonomy.MinKeywordLen))
	if _, err := holder.ReloadFile(cfg.Taxonomy.Path); err != nil {
		return nil, nil, eris.Wrap(err, "load taxonomy")
	}

	var vector retrieval.VectorSearcher
	if cfg.Vector.BaseURL != "" {
		vector = vectorsearch.NewClient(cfg.Vector.BaseURL,
			vectorsearch.WithAPIKey(cfg.Vector.Key),
			vectorsearch.WithPolicy(retryPolicy()),
		)
	}

	fusion := retrieval.New(holder, vector, retrieval.Config{
		TopK:        cfg.Vector.TopK,
		Threshold:   cfg.Vector.Threshold,
		Concurrency: cfg.Taxonomy.Concurrency,
	})
	return holder, fusion, nil
}

// initClassifier builds the LLM client, the reasoner and the workflow graph.
func initClassifier(fusion *retrieval.Fusion) (*workflow.Classifier, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic key is required (SENSITIVITY_ANTHROPIC_KEY)")
	}

	var clientOpts []anthropicpkg.ClientOption
	if cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	completer := anthropicpkg.NewCompleter(
		anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...),
		anthropicpkg.CompleterConfig{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
			Burst:             cfg.Anthropic.Burst,
			CacheTTL:          cfg.Anthropic.CacheTTL,
			Policy:            retryPolicy(),
		},
	)

	reasonerOpts := []reasoner.Option{reasoner.WithTemperature(cfg.Anthropic.Temperature)}
	if cfg.Workflow.PromptPath != "" {
		tmpl, err := reasoner.LoadTemplate(cfg.Workflow.PromptPath)
		if err != nil {
			return nil, eris.Wrap(err, "load prompt template")
		}
		reasonerOpts = append(reasonerOpts, reasoner.WithTemplate(tmpl))
	}

	var sim workflow.SimilarityMatcher
	if cfg.Similarity.URL != "" {
		c, err := similarity.NewClient(similarity.Config{
			URL:                    cfg.Similarity.URL,
			Threshold:              cfg.Similarity.Threshold,
			TopN:                   cfg.Similarity.TopN,
			Timeout:                seconds(cfg.Similarity.TimeoutSecs),
			CAFile:                 cfg.Similarity.CAFile,
			InsecureSkipVerifyHost: cfg.Similarity.InsecureSkipVerifyHost,
			Breaker: resilience.NewBreakerConfig("similarity",
				cfg.Similarity.BreakerThreshold,
				cfg.Similarity.BreakerCoolDownSecs,
			),
		})
		if err != nil {
			return nil, eris.Wrap(err, "similarity client")
		}
		sim = c
	}

	return workflow.NewClassifier(
		workflow.Deps{
			Similarity: sim,
			Retrieval:  fusion,
			Reasoner:   reasoner.New(completer, reasonerOpts...),
		},
		workflow.Options{
			MaxAttempts:      cfg.Workflow.MaxAttempts,
			RunTimeout:       seconds(cfg.Workflow.RunTimeoutSecs),
			RetrievalTimeout: seconds(cfg.Workflow.RetrievalTimeoutSecs),
			ClassifyTimeout:  seconds(cfg.Workflow.ClassifyTimeoutSecs),
		},
	)
}

func retryPolicy() resilience.Policy {
	return resilience.NewPolicy(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.Jitter,
	)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
