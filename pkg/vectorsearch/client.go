// Package vectorsearch provides a client for a semantic similarity search
// service over the taxonomy descriptions.
package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/resilience"
)

const upstream = "vectorsearch"

// Searcher runs a similarity query and returns the documents scoring at or
// above threshold, best first, at most topK of them.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]model.Document, error)
}

// searchRequest is the body posted to {base}/search.
type searchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"similarity_threshold"`
}

// searchResponse is the service reply.
type searchResponse struct {
	Documents []model.Document `json:"documents"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPolicy sets the retry policy used for each search.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  resilience.Policy
}

// NewClient creates a search client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) Searcher {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = resilience.LogRetry(upstream, "search")
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, topK int, threshold float64) ([]model.Document, error) {
	payload, err := json.Marshal(searchRequest{Query: query, TopK: topK, Threshold: threshold})
	if err != nil {
		return nil, eris.Wrap(err, "vectorsearch: marshal request")
	}

	docs, err := resilience.RetryVal(ctx, c.policy, func(ctx context.Context) ([]model.Document, error) {
		return c.do(ctx, payload)
	})
	if err != nil {
		return nil, eris.Wrap(err, "vectorsearch: search")
	}

	// The service is expected to filter, but not every backend honours the
	// threshold, so enforce both bounds here.
	out := docs[:0]
	for _, d := range docs {
		if d.Score > 0 && d.Score < threshold {
			continue
		}
		out = append(out, d)
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (c *httpClient) do(ctx context.Context, payload []byte) ([]model.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "vectorsearch: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.UpstreamError{Upstream: upstream, Transient: resilience.IsTransient(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(upstream, err, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError(upstream, resp.StatusCode, string(body))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "vectorsearch: unmarshal response")
	}
	return out.Documents, nil
}
