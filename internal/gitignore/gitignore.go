package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
	base     string
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds one pattern relative to the matcher root.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that only applies under base.
// Blank lines and comments are ignored.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	r, ok := compile(pattern)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from a .gitignore file located in base.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path should be ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for i := range m.rules {
		if m.rules[i].matches(path, isDir) {
			ignored = !m.rules[i].negate
		}
	}
	return ignored
}

func (r *rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") {
			return false
		}
		path = path[len(r.base)+1:]
	}

	// Try the path itself, then each ancestor directory.
	for end := len(path); end > 0; end = strings.LastIndexByte(path[:end], '/') {
		candidate := path[:end]
		candidateIsDir := end < len(path) || isDir
		if r.dirOnly && !candidateIsDir {
			continue
		}

		target := candidate
		if !r.anchored {
			target = candidate[strings.LastIndexByte(candidate, '/')+1:]
		}
		if r.re.MatchString(target) {
			return true
		}
	}
	return false
}

// compile parses one gitignore line.
func compile(line string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}

	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimLeft(p, "/")
	}
	// "doc/frotz" is relative to the root, like "/doc/frotz".
	if strings.Contains(p, "/") {
		r.anchored = true
	}
	if p == "" {
		return rule{}, false
	}

	re, err := regexp.Compile("^" + globToRegex(p) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

// globToRegex translates gitignore glob syntax into a regular expression.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				atStart := i == 0 || glob[i-1] == '/'
				switch {
				case atStart && i+2 < len(glob) && glob[i+2] == '/':
					sb.WriteString("(?:.*/)?")
					i += 2
					continue
				case atStart && i+2 == len(glob):
					sb.WriteString(".*")
					i++
					continue
				}
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				sb.WriteString(`\\`)
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
