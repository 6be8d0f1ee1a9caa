package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkSource(t *testing.T, c *Chunker, language, source string) []Candidate {
	t.Helper()
	cands, err := c.ChunkFile(context.Background(), NewParser(), []byte(source), language)
	require.NoError(t, err)
	return cands
}

func TestChunker_GoFunctions_OnePerUnit(t *testing.T) {
	// Given: a Go file with two functions
	source := `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}

func Goodbye() {
	fmt.Println("Goodbye")
}
`
	// When: chunking
	cands := chunkSource(t, New(Options{}), "go", source)

	// Then: one candidate per function, in order
	require.Len(t, cands, 2)
	assert.Equal(t, "Hello", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeFunction, cands[0].SymbolType)
	assert.Equal(t, "Goodbye", cands[1].SymbolName)
	assert.True(t, strings.HasPrefix(cands[0].Content, "func Hello()"))
	assert.Equal(t, source[cands[1].StartByte:cands[1].EndByte], cands[1].Content)
	assert.LessOrEqual(t, cands[0].EndByte, cands[1].StartByte)
	assert.Equal(t, "go", cands[0].Language)
}

func TestChunker_GoMethodsAndTypes(t *testing.T) {
	source := `package shapes

type Square struct {
	Side float64
}

func (s Square) Area() float64 {
	return s.Side * s.Side
}
`
	cands := chunkSource(t, New(Options{}), "go", source)

	require.Len(t, cands, 2)
	assert.Equal(t, "Square", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeType, cands[0].SymbolType)
	assert.Equal(t, "Area", cands[1].SymbolName)
	assert.Equal(t, SymbolTypeMethod, cands[1].SymbolType)
}

func TestChunker_Deterministic(t *testing.T) {
	source := "package a\n\nfunc A() int {\n\treturn 1\n}\n\nfunc B() int {\n\treturn 2\n}\n"
	c := New(Options{})

	first := chunkSource(t, c, "go", source)
	second := chunkSource(t, c, "go", source)

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Len(t, first[0].ContentHash, 64)
	assert.NotEqual(t, first[0].ContentHash, first[1].ContentHash)
}

func TestChunker_OversizedUnitSplitsIntoNested(t *testing.T) {
	// Given: a Python class larger than the maximum chunk size
	source := `class Greeter:
    def hello(self):
        return "hello"

    def goodbye(self):
        return "goodbye"
`
	c := New(Options{MaxChunkBytes: 60})

	// When: chunking
	cands := chunkSource(t, c, "python", source)

	// Then: the class is replaced by its methods
	require.Len(t, cands, 2)
	assert.Equal(t, "hello", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeMethod, cands[0].SymbolType)
	assert.Equal(t, "goodbye", cands[1].SymbolName)
	for _, cand := range cands {
		assert.True(t, strings.HasPrefix(cand.Content, "def "))
	}
}

func TestChunker_OversizedUnitWithoutNestedStaysWhole(t *testing.T) {
	source := "package a\n\nfunc Long() {\n\tprintln(\"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\")\n}\n"
	c := New(Options{MaxChunkBytes: 20})

	cands := chunkSource(t, c, "go", source)

	require.Len(t, cands, 1)
	assert.Equal(t, "Long", cands[0].SymbolName)
}

func TestChunker_OuterUnitWinsWithinLimit(t *testing.T) {
	source := `class Greeter:
    def hello(self):
        return "hello"
`
	cands := chunkSource(t, New(Options{}), "python", source)

	require.Len(t, cands, 1)
	assert.Equal(t, "Greeter", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeClass, cands[0].SymbolType)
}

func TestChunker_DropsUnitsBelowMinimum(t *testing.T) {
	source := "package a\n\nfunc A() {}\n\nfunc Bigger() {\n\tprintln(\"this one is long enough\")\n}\n"
	c := New(Options{MinChunkBytes: 20})

	cands := chunkSource(t, c, "go", source)

	require.Len(t, cands, 1)
	assert.Equal(t, "Bigger", cands[0].SymbolName)
}

func TestChunker_UnsupportedLanguageWholeFileTrimmed(t *testing.T) {
	// Given: a language without a grammar
	source := "\n\n  some plain text content  \n\n"

	// When: chunking
	cands := chunkSource(t, New(Options{}), "markdown", source)

	// Then: one trimmed whole-file candidate
	require.Len(t, cands, 1)
	assert.Equal(t, "some plain text content", cands[0].Content)
	assert.Equal(t, 4, cands[0].StartByte)
	assert.Equal(t, SymbolTypeFile, cands[0].SymbolType)
	assert.Empty(t, cands[0].SymbolName)
}

func TestChunker_UnsupportedLanguageBelowMinimum(t *testing.T) {
	cands := chunkSource(t, New(Options{MinChunkBytes: 50}), "text", "short\n")
	assert.Empty(t, cands)
}

func TestChunker_SupportedLanguageWithoutUnits(t *testing.T) {
	cands := chunkSource(t, New(Options{}), "go", "package main\n\nvar x = 1\n")
	assert.Empty(t, cands)
}

func TestChunker_EmptySource(t *testing.T) {
	assert.Empty(t, chunkSource(t, New(Options{}), "go", ""))
	assert.Empty(t, New(Options{}).Chunk(nil))
}

func TestChunker_TypeScriptUnits(t *testing.T) {
	source := `export interface Shape {
  area(): number;
}

export function unit(): Shape {
  return { area: () => 1 };
}
`
	cands := chunkSource(t, New(Options{}), "typescript", source)

	require.Len(t, cands, 2)
	assert.Equal(t, "Shape", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeInterface, cands[0].SymbolType)
	assert.Equal(t, "unit", cands[1].SymbolName)
}

func TestChunker_JavaScriptClassMethodsWhenOversized(t *testing.T) {
	source := `class Counter {
  increment() {
    this.count = (this.count || 0) + 1;
  }
  reset() {
    this.count = 0;
  }
}
`
	cands := chunkSource(t, New(Options{MaxChunkBytes: 50}), "javascript", source)

	require.Len(t, cands, 2)
	assert.Equal(t, "increment", cands[0].SymbolName)
	assert.Equal(t, SymbolTypeMethod, cands[0].SymbolType)
	assert.Equal(t, "reset", cands[1].SymbolName)
}

func TestID_StableAndDistinct(t *testing.T) {
	hash := HashContent([]byte("func A() {}"))

	id := ID("a.go", hash, 0)
	assert.Len(t, id, 32)
	assert.Equal(t, id, ID("a.go", hash, 0))
	assert.NotEqual(t, id, ID("b.go", hash, 0))
	assert.NotEqual(t, id, ID("a.go", hash, 1))
}

func TestIDs_DisambiguatesIdenticalChunks(t *testing.T) {
	// Given: two byte-identical candidates in one file
	hash := HashContent([]byte("return 1"))
	cands := []Candidate{
		{ContentHash: hash},
		{ContentHash: HashContent([]byte("other"))},
		{ContentHash: hash},
	}

	// When: assigning IDs
	ids := IDs("x.py", cands)

	// Then: ordinals keep them distinct and reproducible
	require.Len(t, ids, 3)
	assert.NotEqual(t, ids[0], ids[2])
	assert.Equal(t, ID("x.py", hash, 0), ids[0])
	assert.Equal(t, ID("x.py", hash, 1), ids[2])
}
