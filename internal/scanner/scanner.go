package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/gitignore"
)

// gitignoreCacheSize bounds the number of per-directory matchers kept.
const gitignoreCacheSize = 1000

// Scanner walks a workspace. It is safe for concurrent use.
type Scanner struct {
	root        string
	opts        Options
	maxFileSize int64
	excludes    *gitignore.Matcher

	// nil entries record directories without a .gitignore
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.Mutex
}

// New creates a Scanner rooted at opts.Root.
func New(opts Options) (*Scanner, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	excludes := gitignore.New()
	for _, p := range defaultExcludes {
		excludes.AddPattern(p)
	}
	for _, p := range opts.Exclude {
		excludes.AddPattern(p)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	return &Scanner{
		root:           absRoot,
		opts:           opts,
		maxFileSize:    maxSize,
		excludes:       excludes,
		gitignoreCache: cache,
	}, nil
}

// Root returns the absolute workspace root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the root and streams indexable files. The channel is closed
// when the walk finishes or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) (<-chan Result, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", s.root)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		s.walk(ctx, results)
	}()
	return results, nil
}

// ScanAll collects a full scan into a map keyed by relative path.
func (s *Scanner) ScanAll(ctx context.Context) (map[string]*FileInfo, error) {
	ch, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	files := make(map[string]*FileInfo)
	for r := range ch {
		if r.Error != nil {
			return nil, r.Error
		}
		files[r.File.Path] = r.File
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Scanner) walk(ctx context.Context, results chan<- Result) {
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // skip unreadable entries
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.Excluded(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		file, ok := s.inspect(rel, p, d)
		if !ok {
			return nil
		}

		select {
		case results <- Result{File: file}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		select {
		case results <- Result{Error: err}:
		case <-ctx.Done():
		}
	}
}

// Stat inspects a single relative path, applying the same filters as Scan.
// It returns nil when the file is missing or should not be indexed.
func (s *Scanner) Stat(rel string) *FileInfo {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return nil
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Lstat(abs)
	if err != nil || info.IsDir() {
		return nil
	}
	// Parent directories must not be excluded either.
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if s.Excluded(dir, true) {
			return nil
		}
	}

	file, ok := s.inspect(rel, abs, fs.FileInfoToDirEntry(info))
	if !ok {
		return nil
	}
	return file
}

func (s *Scanner) inspect(rel, abs string, d fs.DirEntry) (*FileInfo, bool) {
	if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
		return nil, false
	}
	if s.Excluded(rel, false) {
		return nil, false
	}

	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	if info.Size() > s.maxFileSize || isBinaryFile(abs) {
		return nil, false
	}

	return &FileInfo{
		Path:     rel,
		AbsPath:  abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: DetectLanguage(rel),
	}, true
}

// Excluded reports whether rel is filtered by the default excludes, the
// configured patterns or, when enabled, a .gitignore file.
func (s *Scanner) Excluded(rel string, isDir bool) bool {
	if s.excludes.Match(rel, isDir) {
		return true
	}
	if s.opts.RespectGitignore && s.isGitignored(rel, isDir) {
		return true
	}
	return false
}

// isGitignored checks the root .gitignore and every nested one between the
// root and rel's parent directory.
func (s *Scanner) isGitignored(rel string, isDir bool) bool {
	if m := s.matcherFor(""); m != nil && m.Match(rel, isDir) {
		return true
	}

	dir := path.Dir(rel)
	if dir == "." {
		return false
	}
	parts := strings.Split(dir, "/")
	for i := range parts {
		base := strings.Join(parts[:i+1], "/")
		if m := s.matcherFor(base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for the .gitignore in base.
func (s *Scanner) matcherFor(base string) *gitignore.Matcher {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if m, ok := s.gitignoreCache.Get(base); ok {
		return m
	}

	var m *gitignore.Matcher
	file := filepath.Join(s.root, filepath.FromSlash(base), ".gitignore")
	if _, err := os.Stat(file); err == nil {
		m = gitignore.New()
		if err := m.AddFromFile(file, base); err != nil {
			m = nil
		}
	}
	s.gitignoreCache.Add(base, m)
	return m
}

// InvalidateGitignoreCache drops cached matchers. Call it after a
// .gitignore file changes.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// isBinaryFile reports whether the first 512 bytes contain a NUL.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
