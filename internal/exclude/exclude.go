// Package exclude decides which data-directory paths a sync must never touch.
//
// Patterns are classified once when compiled:
//
//   - "name"       an exact path segment at any depth (license.dat)
//   - "dir/"       a directory and everything below it, at any depth (keychain/)
//   - "*.ext"      a glob evaluated against every path segment (*.pyc)
//   - "a/b", "a/*" anchored at the data directory root; matches the path or any ancestor
//
// Matching is case-sensitive. Both the path and the pattern are converted to
// forward slashes before matching.
package exclude

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrMalformedGlob is wrapped by PatternError when a pattern contains
// wildcard syntax that cannot be parsed.
var ErrMalformedGlob = errors.New("malformed glob")

// PatternError reports a pattern that was downgraded to a literal match.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("exclusion pattern %q: %v (matching it literally)", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Kind is the match strategy selected for a pattern.
type Kind int

const (
	KindName Kind = iota
	KindDir
	KindGlob
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindDir:
		return "dir"
	case KindGlob:
		return "glob"
	case KindPath:
		return "path"
	default:
		return "unknown"
	}
}

// Pattern is a compiled exclusion pattern.
type Pattern struct {
	raw      string
	body     string
	kind     Kind
	anchored bool
	glob     bool
}

// Compile classifies raw. A malformed glob still yields a usable Pattern that
// matches literally, together with a *PatternError.
func Compile(raw string) (Pattern, error) {
	body := normalize(raw)
	p := Pattern{raw: raw}

	if strings.HasSuffix(body, "/") {
		p.kind = KindDir
		body = strings.TrimRight(body, "/")
	}
	p.body = body
	p.anchored = strings.Contains(body, "/")

	var err error
	if strings.ContainsAny(body, "*?[{") {
		if doublestar.ValidatePattern(body) {
			p.glob = true
		} else {
			err = &PatternError{Pattern: raw, Err: ErrMalformedGlob}
		}
	}

	if p.kind != KindDir {
		switch {
		case p.glob:
			p.kind = KindGlob
		case p.anchored:
			p.kind = KindPath
		default:
			p.kind = KindName
		}
	}
	return p, err
}

// String returns the pattern as written by the user.
func (p Pattern) String() string {
	return p.raw
}

// Kind returns the match strategy chosen at compile time.
func (p Pattern) Kind() Kind {
	return p.kind
}

// Match reports whether relPath (relative to the data directory) is excluded by p.
func (p Pattern) Match(relPath string) bool {
	rel := strings.Trim(normalize(relPath), "/")
	if rel == "" || p.body == "" {
		return false
	}

	switch p.kind {
	case KindName:
		for _, seg := range strings.Split(rel, "/") {
			if seg == p.body {
				return true
			}
		}
		return false
	case KindPath:
		return rel == p.body || strings.HasPrefix(rel, p.body+"/")
	case KindDir, KindGlob:
		segs := strings.Split(rel, "/")
		if !p.anchored {
			for _, seg := range segs {
				if p.matchOne(seg) {
					return true
				}
			}
			return false
		}
		for i := 1; i <= len(segs); i++ {
			if p.matchOne(strings.Join(segs[:i], "/")) {
				return true
			}
		}
		return false
	}
	return false
}

func (p Pattern) matchOne(s string) bool {
	if !p.glob {
		return s == p.body
	}
	ok, err := doublestar.Match(p.body, s)
	return err == nil && ok
}

// Matches compiles pattern and tests relPath against it.
func Matches(relPath, pattern string) bool {
	p, _ := Compile(pattern)
	return p.Match(relPath)
}

func normalize(s string) string {
	s = filepath.ToSlash(strings.TrimSpace(s))
	for strings.HasPrefix(s, "./") {
		s = s[2:]
	}
	return strings.TrimLeft(s, "/")
}
