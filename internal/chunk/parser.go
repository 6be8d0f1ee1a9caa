package chunk

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser turns source bytes into a syntax tree.
type Parser interface {
	Parse(ctx context.Context, source []byte, language string) (*Tree, error)
}

// TreeSitterParser implements Parser with tree-sitter grammars. It is safe
// for concurrent use; each call borrows a parser from a pool.
type TreeSitterParser struct {
	registry *LanguageRegistry
	pool     sync.Pool
}

var _ Parser = (*TreeSitterParser)(nil)

// NewParser creates a parser backed by the default language registry.
func NewParser() *TreeSitterParser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a parser with a custom language registry
func NewParserWithRegistry(registry *LanguageRegistry) *TreeSitterParser {
	return &TreeSitterParser{
		registry: registry,
		pool: sync.Pool{
			New: func() any { return sitter.NewParser() },
		},
	}
}

// Parse parses source. Languages without a grammar yield a tree holding
// only a root node spanning the whole input.
func (p *TreeSitterParser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return &Tree{
			Root:     rootOnly(source),
			Source:   source,
			Language: language,
		}, nil
	}

	parser := p.pool.Get().(*sitter.Parser)
	parser.SetLanguage(tsLang)
	tsTree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		// A cancelled parser keeps its cancellation flag; drop it.
		parser.Close()
		return nil, fmt.Errorf("failed to parse %s source: %w", language, err)
	}
	p.pool.Put(parser)
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse %s source: nil tree", language)
	}
	defer tsTree.Close()

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

func rootOnly(source []byte) *Node {
	end := uint32(len(source))
	return &Node{
		Type:      "source",
		StartByte: 0,
		EndByte:   end,
	}
}

// convertNode copies a tree-sitter node into our Node type so the tree
// outlives the C allocation.
func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if child := tsNode.Child(i); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}

	return node
}

// Content returns the source bytes covered by a node.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType finds the first direct child with the given type
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// Walk traverses the tree depth-first and calls fn for each node.
// Returning false skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
