package chunk

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_GoSourceFile(t *testing.T) {
	source := []byte("package main\n\nfunc main() {}\n")

	tree, err := NewParser().Parse(context.Background(), source, "go")

	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.Equal(t, "source_file", tree.Root.Type)
	assert.NotNil(t, tree.Root.FindChildByType("function_declaration"))
	assert.False(t, tree.Root.HasError)
}

func TestParser_UnsupportedLanguageRootOnly(t *testing.T) {
	source := []byte("# heading\n")

	tree, err := NewParser().Parse(context.Background(), source, "markdown")

	require.NoError(t, err)
	assert.Empty(t, tree.Root.Children)
	assert.Equal(t, uint32(len(source)), tree.Root.EndByte)
	assert.Equal(t, "markdown", tree.Language)
}

func TestParser_AllRegisteredLanguages(t *testing.T) {
	tests := map[string]string{
		"go":         "package a\nfunc A() {}\n",
		"python":     "def a():\n    pass\n",
		"javascript": "function a() {}\n",
		"typescript": "function a(): void {}\n",
		"tsx":        "const A = () => <div />;\n",
	}
	p := NewParser()

	for lang, src := range tests {
		t.Run(lang, func(t *testing.T) {
			tree, err := p.Parse(context.Background(), []byte(src), lang)
			require.NoError(t, err)
			assert.NotEmpty(t, tree.Root.Children)
			assert.True(t, DefaultRegistry().Supported(lang))
		})
	}
}

func TestParser_ConcurrentUse(t *testing.T) {
	p := NewParser()
	source := []byte("package a\n\nfunc A() {}\n")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Parse(context.Background(), source, "go")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRegistry_GetByExtension(t *testing.T) {
	r := NewLanguageRegistry()

	cfg, ok := r.GetByExtension("TSX")
	require.True(t, ok)
	assert.Equal(t, "tsx", cfg.Name)

	_, ok = r.GetByExtension(".rs")
	assert.False(t, ok)
}
