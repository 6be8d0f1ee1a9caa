package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry manages supported languages and their configurations
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with Go, Python, JavaScript,
// TypeScript and TSX registered.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.Register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		Units: map[string]SymbolType{
			"function_declaration": SymbolTypeFunction,
			"method_declaration":   SymbolTypeMethod,
			"type_declaration":     SymbolTypeType,
		},
	}, golang.GetLanguage())

	r.Register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		Units: map[string]SymbolType{
			"decorated_definition": SymbolTypeFunction,
			"function_definition":  SymbolTypeFunction,
			"class_definition":     SymbolTypeClass,
		},
	}, python.GetLanguage())

	jsUnits := map[string]SymbolType{
		"function_declaration":           SymbolTypeFunction,
		"generator_function_declaration": SymbolTypeFunction,
		"method_definition":              SymbolTypeMethod,
		"class_declaration":              SymbolTypeClass,
	}
	r.Register(&LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Units:      jsUnits,
	}, javascript.GetLanguage())

	tsUnits := map[string]SymbolType{
		"interface_declaration":      SymbolTypeInterface,
		"type_alias_declaration":     SymbolTypeType,
		"enum_declaration":           SymbolTypeType,
		"abstract_class_declaration": SymbolTypeClass,
	}
	for k, v := range jsUnits {
		tsUnits[k] = v
	}
	r.Register(&LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts", ".mts"},
		Units:      tsUnits,
	}, typescript.GetLanguage())
	r.Register(&LanguageConfig{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		Units:      tsUnits,
	}, tsx.GetLanguage())

	return r
}

// Register adds or replaces a language.
func (r *LanguageRegistry) Register(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// GetByExtension returns the language configuration for a file extension
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language name
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// Supported reports whether language has a grammar.
func (r *LanguageRegistry) Supported(language string) bool {
	_, ok := r.GetTreeSitterLanguage(language)
	return ok
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the global language registry
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
