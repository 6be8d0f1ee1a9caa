package chunk

import (
	"bytes"
	"context"
	"unicode"
)

// Options configures a Chunker.
type Options struct {
	MinChunkBytes int // candidates shorter than this are dropped (default: DefaultMinChunkBytes)
	MaxChunkBytes int // units longer than this are split into nested units (default: DefaultMaxChunkBytes)

	// Registry supplies the unit node types per language (default: DefaultRegistry()).
	Registry *LanguageRegistry
}

// Chunker splits a parsed tree into ordered, non-overlapping candidates
// over syntactic units. It holds no mutable state and is safe for
// concurrent use.
type Chunker struct {
	minBytes int
	maxBytes int
	registry *LanguageRegistry
}

// New creates a chunker, filling zero options with defaults.
func New(opts Options) *Chunker {
	if opts.MinChunkBytes <= 0 {
		opts.MinChunkBytes = DefaultMinChunkBytes
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	return &Chunker{
		minBytes: opts.MinChunkBytes,
		maxBytes: opts.MaxChunkBytes,
		registry: opts.Registry,
	}
}

// ChunkFile parses source with p and chunks the result.
func (c *Chunker) ChunkFile(ctx context.Context, p Parser, source []byte, language string) ([]Candidate, error) {
	tree, err := p.Parse(ctx, source, language)
	if err != nil {
		return nil, err
	}
	return c.Chunk(tree), nil
}

// Chunk returns the candidates for tree in document order.
//
// Outermost units win. A unit longer than the maximum is replaced by the
// units nested inside it, if any survive the minimum-size filter. For a
// language without unit definitions the whole file, trimmed of surrounding
// whitespace, is a single candidate. A supported file without units yields
// no candidates.
func (c *Chunker) Chunk(tree *Tree) []Candidate {
	if tree == nil || tree.Root == nil || len(tree.Source) == 0 {
		return nil
	}

	cfg, ok := c.registry.GetByName(tree.Language)
	if !ok || len(cfg.Units) == 0 {
		return c.wholeFile(tree)
	}

	var out []Candidate
	c.collect(tree.Root, tree, cfg, false, &out)
	return out
}

func (c *Chunker) collect(n *Node, tree *Tree, cfg *LanguageConfig, inClass bool, out *[]Candidate) {
	for _, child := range n.Children {
		kind, isUnit := cfg.Units[child.Type]
		if !isUnit {
			c.collect(child, tree, cfg, inClass, out)
			continue
		}

		kind = refineKind(child, kind, inClass)
		size := int(child.EndByte) - int(child.StartByte)
		if size > c.maxBytes {
			var nested []Candidate
			c.collect(child, tree, cfg, inClass || kind == SymbolTypeClass, &nested)
			if len(nested) > 0 {
				*out = append(*out, nested...)
				continue
			}
		}
		if size < c.minBytes {
			continue
		}
		*out = append(*out, c.candidate(tree, int(child.StartByte), int(child.EndByte), nameOf(child, tree.Source), kind))
	}
}

func (c *Chunker) wholeFile(tree *Tree) []Candidate {
	src := tree.Source
	start := len(src) - len(bytes.TrimLeftFunc(src, unicode.IsSpace))
	end := len(bytes.TrimRightFunc(src, unicode.IsSpace))
	if end-start < c.minBytes {
		return nil
	}
	return []Candidate{c.candidate(tree, start, end, "", SymbolTypeFile)}
}

func (c *Chunker) candidate(tree *Tree, start, end int, name string, kind SymbolType) Candidate {
	raw := tree.Source[start:end]
	return Candidate{
		StartByte:   start,
		EndByte:     end,
		Content:     string(raw),
		ContentHash: HashContent(raw),
		SymbolName:  name,
		SymbolType:  kind,
		Language:    tree.Language,
	}
}

// refineKind reports functions nested in classes as methods, and decorated
// definitions by what they decorate.
func refineKind(n *Node, kind SymbolType, inClass bool) SymbolType {
	if n.Type == "decorated_definition" {
		if def := n.FindChildByType("class_definition"); def != nil {
			return SymbolTypeClass
		}
	}
	if kind == SymbolTypeFunction && inClass {
		return SymbolTypeMethod
	}
	return kind
}

var nameNodeTypes = map[string]bool{
	"identifier":          true,
	"field_identifier":    true,
	"type_identifier":     true,
	"property_identifier": true,
}

// nameOf returns the declared name of a unit node, or "".
func nameOf(n *Node, source []byte) string {
	for _, child := range n.Children {
		if nameNodeTypes[child.Type] {
			return child.Content(source)
		}
	}
	// Go type declarations and Python decorated definitions keep the
	// name one level down.
	for _, child := range n.Children {
		switch child.Type {
		case "type_spec", "type_alias", "function_definition", "class_definition":
			return nameOf(child, source)
		}
	}
	return ""
}
