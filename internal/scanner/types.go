// Package scanner discovers indexable source files in a workspace,
// honouring default exclusions, configured patterns and .gitignore files.
package scanner

import (
	"path"
	"strings"
	"time"
)

// FileInfo describes one discovered file.
type FileInfo struct {
	Path     string // slash-separated, relative to the root
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string // "" when unknown
}

// Options configures a Scanner.
type Options struct {
	// Root is the workspace root directory.
	Root string

	// Exclude holds extra gitignore-style patterns.
	Exclude []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks includes symlinked files.
	FollowSymlinks bool
}

// Result is sent on the Scan channel.
type Result struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (1MB).
const DefaultMaxFileSize = 1 << 20

// IndexDirName is the per-workspace directory holding the index database.
const IndexDirName = ".swissarmyhammer"

// defaultExcludes are always applied, before user patterns.
var defaultExcludes = []string{
	".git/",
	IndexDirName + "/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"target/",
	"dist/",
	"build/",
	".idea/",
	".vscode/",
	".ssh/",
	".aws/",
	// secrets are never indexed
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"id_rsa",
	"id_ed25519",
	".netrc",
	".npmrc",
}

// languageMap maps file extensions and exact names to language identifiers.
// The identifiers match the chunker's grammar registry where one exists.
var languageMap = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".mts":   "typescript",
	".tsx":   "tsx",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".lua":   "lua",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",

	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
}

// DetectLanguage returns the language for a file path, or "".
func DetectLanguage(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	base := path.Base(p)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	return languageMap[path.Ext(base)]
}
