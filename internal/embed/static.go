package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by hashing identifier tokens and
// character trigrams into a fixed-size vector. It needs no network or
// model download and is fully deterministic, which makes it the default
// offline backend and the backend used in tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// Keywords common to the indexed languages carry no signal.
var stopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "none": true, "this": true, "self": true,
	"new": true, "type": true, "struct": true, "interface": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var wordRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// NewStaticEmbedder creates a static embedder producing vectors of dims
// components. Zero selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text. Blank text maps to the zero
// vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("static embedder is closed")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.vector(text)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StaticEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		if stopWords[tok] {
			continue
		}
		v[bucket(tok, e.dims)] += tokenWeight
	}

	compact := alnumLower(text)
	for i := 0; i+ngramSize <= len(compact); i++ {
		v[bucket(compact[i:i+ngramSize], e.dims)] += ngramWeight
	}
	return v
}

// tokenize splits text into lower-case identifier parts, breaking
// snake_case and camelCase words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, sub := range splitCamelCase(part) {
				tokens = append(tokens, strings.ToLower(sub))
			}
		}
	}
	return tokens
}

// splitCamelCase splits at lower→upper transitions and before the last
// capital of an acronym run ("HTTPServer" → "HTTP", "Server").
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

func alnumLower(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func bucket(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName identifies the hashing scheme and size, so an index built with
// a different dimension is detected as stale.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Close marks the embedder closed. It is idempotent.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *StaticEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
