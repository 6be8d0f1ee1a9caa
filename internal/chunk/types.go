package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Size defaults, in bytes of raw source.
const (
	DefaultMinChunkBytes = 10
	DefaultMaxChunkBytes = 4000
)

// SymbolType represents the kind of syntactic unit a chunk covers.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeMethod    SymbolType = "method"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeFile      SymbolType = "file"
)

// Candidate is a chunk range produced by the Chunker, before it is
// assigned an ID, embedded and persisted.
type Candidate struct {
	StartByte   int
	EndByte     int
	Content     string
	ContentHash string // sha256 hex of Content
	SymbolName  string // empty for whole-file candidates
	SymbolType  SymbolType
	Language    string
}

// Len returns the byte length of the candidate.
func (c Candidate) Len() int {
	return c.EndByte - c.StartByte
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig maps a language's AST node types to the unit kinds the
// chunker splits on.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Units maps node types that form chunk boundaries to their kind.
	Units map[string]SymbolType
}

// HashContent returns the sha256 hex digest of b.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ID derives the stable chunk identifier from the file path, the chunk's
// content hash and its ordinal among byte-identical chunks of that file.
// The result is the first 16 bytes of a sha256 digest, hex encoded.
func ID(filePath, contentHash string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// IDs assigns IDs to candidates of one file, in order. Byte-identical
// candidates get increasing ordinals so their IDs stay distinct.
func IDs(filePath string, cands []Candidate) []string {
	seen := make(map[string]int, len(cands))
	ids := make([]string, len(cands))
	for i, c := range cands {
		ord := seen[c.ContentHash]
		seen[c.ContentHash] = ord + 1
		ids[i] = ID(filePath, c.ContentHash, ord)
	}
	return ids
}
