// Package similarity calls the external table similarity-matching service.
package similarity

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/resilience"
)

const upstream = "similarity"

// Defaults sent when the caller does not override them.
const (
	DefaultThreshold = 0.6
	DefaultTopN      = 2
	DefaultTimeout   = 10 * time.Second
)

// Matcher queries the similarity service.
type Matcher interface {
	Match(ctx context.Context, query string) (map[string]any, error)
}

// Config describes the endpoint and its trust settings.
type Config struct {
	URL       string
	Threshold float64
	TopN      int
	Timeout   time.Duration

	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string

	// InsecureSkipVerifyHost disables certificate verification for this one
	// host. It must equal the URL's host.
	InsecureSkipVerifyHost string

	Breaker resilience.BreakerConfig
}

type requestBody struct {
	Inputs inputs `json:"inputs"`
}

type inputs struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
	TopN      int     `json:"topN"`
}

// Client is the HTTP Matcher.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.Breaker
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client built from Config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient validates cfg and builds the client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("similarity: invalid url %q", cfg.URL)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = upstream
	}

	tlsCfg, err := tlsConfig(cfg, u)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsCfg,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: resilience.NewBreaker(cfg.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func tlsConfig(cfg Config, u *url.URL) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, eris.Wrapf(err, "similarity: read ca file %s", cfg.CAFile)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, eris.Errorf("similarity: no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}

	if host := cfg.InsecureSkipVerifyHost; host != "" {
		if !strings.EqualFold(host, hostOnly(u)) {
			return nil, eris.Errorf("similarity: insecure_skip_verify_host %q does not match endpoint host %q", host, hostOnly(u))
		}
		// Verification is skipped only for the configured endpoint; the
		// transport never dials any other host. Prefer ca_file.
		tc.InsecureSkipVerify = true //nolint:gosec
		zap.L().Warn("similarity: TLS verification disabled for endpoint", zap.String("host", host))
	}
	return tc, nil
}

func hostOnly(u *url.URL) string {
	if h, _, err := net.SplitHostPort(u.Host); err == nil {
		return h
	}
	return u.Host
}

// Match posts the query and returns the decoded reply. Calls are rejected
// while the breaker is open.
func (c *Client) Match(ctx context.Context, query string) (map[string]any, error) {
	payload, err := json.Marshal(requestBody{Inputs: inputs{
		Query:     query,
		Threshold: c.cfg.Threshold,
		TopN:      c.cfg.TopN,
	}})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := resilience.BreakerDo(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: match")
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "similarity: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.UpstreamError{Upstream: upstream, Transient: resilience.IsTransient(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(upstream, err, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.StatusError(upstream, resp.StatusCode, string(body))
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "similarity: unmarshal response")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Breaker exposes the circuit breaker state.
func (c *Client) Breaker() resilience.BreakerState {
	return c.breaker.State()
}
