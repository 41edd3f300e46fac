package vectorsearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/resilience"
)

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "field: contact, comment: customer mobile", req.Query)
		assert.Equal(t, 3, req.TopK)
		assert.InDelta(t, 0.7, req.Threshold, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Documents: []model.Document{
			{Text: "Mobile phone number", Metadata: map[string]any{"id": "pii-phone"}, Score: 0.91},
			{Text: "Email address", Metadata: map[string]any{"id": "pii-email"}, Score: 0.75},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithAPIKey("k"), WithPolicy(fastPolicy()))
	docs, err := c.Search(context.Background(), "field: contact, comment: customer mobile", 3, 0.7)

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "pii-phone", docs[0].ID())
	assert.Equal(t, "Email address", docs[1].Text)
}

func TestSearch_EnforcesThresholdAndTopK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Documents: []model.Document{
			{Text: "a", Score: 0.95},
			{Text: "b", Score: 0.9},
			{Text: "c", Score: 0.2},
			{Text: "d", Score: 0.85},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	docs, err := c.Search(context.Background(), "q", 2, 0.5)

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Text)
	assert.Equal(t, "b", docs[1].Text)
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{Documents: []model.Document{{Text: "ok"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	docs, err := c.Search(context.Background(), "q", 5, 0.5)

	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	_, err := c.Search(context.Background(), "q", 5, 0.5)

	require.Error(t, err)
	var ue *resilience.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad query"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	_, err := c.Search(context.Background(), "q", 5, 0.5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad query")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	_, err := c.Search(context.Background(), "q", 5, 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearch_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()), WithHTTPClient(srv.Client()))
	_, err := c.Search(ctx, "q", 5, 0.5)
	require.Error(t, err)
}
