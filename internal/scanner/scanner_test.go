package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func scanPaths(t *testing.T, opts Options) []string {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)

	files, err := s.ScanAll(context.Background())
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"pkg/lib/utils.go", "go"},
		{"app.js", "javascript"},
		{"app.ts", "typescript"},
		{"Component.tsx", "tsx"},
		{"script.py", "python"},
		{"README.md", "markdown"},
		{"build/Dockerfile", "dockerfile"},
		{`win\dir\Makefile`, "makefile"},
		{"notes", ""},
		{"archive.tar.gz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestScanner_Scan_BasicFiles(t *testing.T) {
	// Given: a small project
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "internal/util/util.go", "package util\n")
	writeFile(t, root, "README.md", "# readme\n")

	// When: scanning
	paths := scanPaths(t, Options{Root: root})

	// Then: all files are found with slash-separated relative paths
	assert.Equal(t, []string{"README.md", "internal/util/util.go", "main.go"}, paths)
}

func TestScanner_Scan_DefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, "node_modules/lib/index.js", "module.exports = 1\n")
	writeFile(t, root, "web/vendor/x.js", "x\n")
	writeFile(t, root, ".swissarmyhammer/treesitter-index.db", "db\n")
	writeFile(t, root, ".env", "SECRET=1\n")
	writeFile(t, root, "certs/server.pem", "-----BEGIN-----\n")

	paths := scanPaths(t, Options{Root: root})

	assert.Equal(t, []string{"main.go"}, paths)
}

func TestScanner_Scan_CustomExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "api.go", "package api\n")
	writeFile(t, root, "api.pb.go", "package api\n")
	writeFile(t, root, "fixtures/data.json", "{}\n")

	paths := scanPaths(t, Options{Root: root, Exclude: []string{"*.pb.go", "/fixtures/"}})

	assert.Equal(t, []string{"api.go"}, paths)
}

func TestScanner_Scan_RespectsNestedGitignore(t *testing.T) {
	// Given: a root .gitignore and a nested one with a negation
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\ncoverage/\n")
	writeFile(t, root, "app.go", "package app\n")
	writeFile(t, root, "debug.log", "x\n")
	writeFile(t, root, "coverage/index.html", "<html>\n")
	writeFile(t, root, "src/.gitignore", "gen_*.go\n")
	writeFile(t, root, "src/gen_api.go", "package src\n")
	writeFile(t, root, "src/api.go", "package src\n")
	writeFile(t, root, "gen_top.go", "package app\n")

	// When: scanning with gitignore support
	paths := scanPaths(t, Options{Root: root, RespectGitignore: true})

	// Then: nested rules only apply below their directory
	assert.Equal(t, []string{".gitignore", "app.go", "gen_top.go", "src/.gitignore", "src/api.go"}, paths)
}

func TestScanner_Scan_GitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "debug.log", "x\n")

	paths := scanPaths(t, Options{Root: root})

	assert.Contains(t, paths, "debug.log")
}

func TestScanner_Scan_SkipsBinaryAndLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.go", "package ok\n")
	writeFile(t, root, "image.bin", "PNG\x00\x01\x02")
	writeFile(t, root, "big.txt", "0123456789012345678901234567890")

	paths := scanPaths(t, Options{Root: root, MaxFileSize: 20})

	assert.Equal(t, []string{"ok.go"}, paths)
}

func TestScanner_Scan_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.go", "package real\n")
	if err := os.Symlink(filepath.Join(root, "real.go"), filepath.Join(root, "link.go")); err != nil {
		t.Skip("symlinks not supported")
	}

	assert.Equal(t, []string{"real.go"}, scanPaths(t, Options{Root: root}))
	assert.Equal(t, []string{"link.go", "real.go"}, scanPaths(t, Options{Root: root, FollowSymlinks: true}))
}

func TestScanner_Scan_ReturnsMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.py", "def f():\n    pass\n")

	s, err := New(Options{Root: root})
	require.NoError(t, err)
	files, err := s.ScanAll(context.Background())
	require.NoError(t, err)

	f := files["pkg/a.py"]
	require.NotNil(t, f)
	assert.Equal(t, "python", f.Language)
	assert.Equal(t, int64(18), f.Size)
	assert.Equal(t, filepath.Join(s.Root(), "pkg", "a.py"), f.AbsPath)
	assert.False(t, f.ModTime.IsZero())
}

func TestScanner_Scan_EmptyDirectory(t *testing.T) {
	assert.Empty(t, scanPaths(t, Options{Root: t.TempDir()}))
}

func TestScanner_Scan_NonExistentDirectory(t *testing.T) {
	s, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	_, err = s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScanner_Scan_PreCancelledContext(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("d", string(rune('a'+i))+".go"), "package d\n")
	}
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.ScanAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_Stat(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.go", "package src\n")
	writeFile(t, root, "node_modules/x/y.js", "y\n")

	s, err := New(Options{Root: root})
	require.NoError(t, err)

	f := s.Stat("src/a.go")
	require.NotNil(t, f)
	assert.Equal(t, "go", f.Language)

	assert.Nil(t, s.Stat("node_modules/x/y.js"), "excluded parent directory")
	assert.Nil(t, s.Stat("src/missing.go"))
	assert.Nil(t, s.Stat("../outside.go"))
	assert.Nil(t, s.Stat("src"), "directories are not files")
}

func TestScanner_InvalidateGitignoreCache(t *testing.T) {
	// Given: a scan that cached the absence of a .gitignore
	root := t.TempDir()
	writeFile(t, root, "a.log", "x\n")
	s, err := New(Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.False(t, s.Excluded("a.log", false))

	// When: a .gitignore appears and the cache is invalidated
	writeFile(t, root, ".gitignore", "*.log\n")
	assert.False(t, s.Excluded("a.log", false), "stale cache still used")
	s.InvalidateGitignoreCache()

	// Then: the new rule applies
	assert.True(t, s.Excluded("a.log", false))
}
