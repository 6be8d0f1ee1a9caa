package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions overrides auto-detection (0 = detect on startup)
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	// Retry governs transient transport and 5xx failures of a single request.
	Retry ierrors.RetryConfig

	// SkipHealthCheck skips the model lookup and dimension probe on startup
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Retry:     ierrors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// statusError is an HTTP failure from Ollama. 5xx responses are retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.code, e.body)
}

// permanentError marks a malformed response; retrying will not help.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	model     string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it verifies the model is installed and probes its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry.ShouldRetry = retryableHTTP

	// No client-wide timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		model:     cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.resolveModel(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, ierrors.EmbeddingFailure("ollama model unavailable", err).
				WithDetail("host", cfg.Host).
				WithSuggestion(fmt.Sprintf("run: ollama pull %s", cfg.Model))
		}
		if e.dims == 0 {
			vecs, err := e.request(ctx, []string{"dimension probe"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, ierrors.EmbeddingFailure("probe embedding dimension", err)
			}
			e.dims = len(vecs[0])
		}
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// resolveModel matches the configured model against installed ones,
// accepting a tagless name for a tagged install.
func (e *OllamaEmbedder) resolveModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}

	want := strings.ToLower(e.cfg.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			e.model = m.Name
			return nil
		}
	}
	return fmt.Errorf("model %q is not installed", e.cfg.Model)
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into BatchSize requests.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ierrors.EmbeddingFailure("ollama embedder is closed", nil)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := ierrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.request(ctx, texts[start:end])
		})
		if err != nil {
			return nil, ierrors.EmbeddingFailure("ollama embed request failed", err).
				WithDetail("model", e.model)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &permanentError{fmt.Errorf("decode embed response: %w", err)}
	}
	if len(result.Embeddings) != len(texts) {
		return nil, &permanentError{fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))}
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, raw := range result.Embeddings {
		if e.dims > 0 && len(raw) != e.dims {
			return nil, &permanentError{fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(raw), e.dims)}
		}
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// retryableHTTP retries transport errors and 5xx responses.
func retryableHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model name
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Close releases idle connections. It is idempotent.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
