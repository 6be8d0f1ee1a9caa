package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with dims-sized vectors.
type fakeOllama struct {
	dims       int
	models     []string
	failFirst  int32
	embedCalls atomic.Int32
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		resp := ollamaTagsResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "/api/embed":
		n := f.embedCalls.Add(1)
		if n <= f.failFirst {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			vec := make([]float64, f.dims)
			vec[i%f.dims] = 3
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func fastRetry() ierrors.RetryConfig {
	return ierrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestOllamaEmbedder_ResolvesModelAndDetectsDimensions(t *testing.T) {
	// Given: a server with a tagged install of the model
	fake := &fakeOllama{dims: 8, models: []string{"nomic-embed-text:latest"}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the tagged name and probed dimension are used
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 8, e.Dimensions())
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	fake := &fakeOllama{dims: 8, models: []string{"llama3"}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})

	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrEmbeddingFailed)
}

func TestOllamaEmbedder_BatchesAndNormalizes(t *testing.T) {
	fake := &fakeOllama{dims: 4}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      4,
		BatchSize:       2,
		Retry:           fastRetry(),
		SkipHealthCheck: true,
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(2), fake.embedCalls.Load())
	for _, v := range vecs {
		assert.InDelta(t, 1.0, vectorMagnitude(v), 1e-6)
	}
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	fake := &fakeOllama{dims: 4, failFirst: 2}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, Retry: fastRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "query")

	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(3), fake.embedCalls.Load())
}

func TestOllamaEmbedder_DimensionMismatchIsPermanent(t *testing.T) {
	fake := &fakeOllama{dims: 4}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 16, Retry: fastRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "query")

	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrEmbeddingFailed)
	assert.Equal(t, int32(1), fake.embedCalls.Load())
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: "http://127.0.0.1:1", SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ierrors.ErrEmbeddingFailed)
}
