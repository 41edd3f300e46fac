package anthropic

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sensitivity-cli/internal/resilience"
)

// CompleterConfig tunes the text-completion adapter.
type CompleterConfig struct {
	Model     string
	MaxTokens int64

	// RequestsPerSecond paces calls across all runs in the process. Zero
	// disables pacing.
	RequestsPerSecond float64
	Burst             int

	// CacheTTL enables prompt caching of the system prompt ("5m" or "1h").
	CacheTTL string

	Policy resilience.Policy
}

// Completer turns a Client into a single-shot text completion function.
type Completer struct {
	client  Client
	cfg     CompleterConfig
	limiter *rate.Limiter
}

// NewCompleter returns a Completer over client.
func NewCompleter(client Client, cfg CompleterConfig) *Completer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Policy.OnRetry == nil {
		cfg.Policy.OnRetry = resilience.LogRetry("anthropic", "complete")
	}
	return &Completer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Complete sends one user message under the given system prompt and returns
// the text of the reply. Transient API failures are retried per the policy.
func (c *Completer) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	req := MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      SystemBlocks(system, c.cfg.CacheTTL),
		Messages:    []Message{{Role: "user", Content: user}},
		Temperature: &temperature,
	}

	resp, err := resilience.RetryVal(ctx, c.cfg.Policy, func(ctx context.Context) (*MessageResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "anthropic: rate limit wait")
		}
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Warn("anthropic: completion failed",
			zap.String("model", c.cfg.Model),
			zap.String("status", statusText(err)),
			zap.Error(err),
		)
		return "", err
	}

	resp.Usage.LogCost(c.cfg.Model, "classify")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.Errorf("anthropic: empty completion (stop reason %q)", resp.StopReason)
	}
	return text, nil
}
