// Package gitignore matches slash-separated relative paths against
// gitignore patterns (https://git-scm.com/docs/gitignore).
//
// Supported: globs (*, ?, **, [...]), rooted patterns, negation,
// directory-only patterns and nested .gitignore files via a base directory.
// A path is ignored when it or any of its parent directories matches; the
// last matching rule wins.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!keep.log")
//	_ = m.AddFromFile("/repo/src/.gitignore", "src")
//	m.Match("src/out/app.log", false)
package gitignore
