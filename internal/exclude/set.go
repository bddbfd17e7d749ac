package exclude

// defaultPatterns protect license and identity material; they are part of
// every Set regardless of configuration.
var defaultPatterns = [...]string{
	"license.dat",
	"license.txt",
	"user.id",
	"keychain/",
	"__pycache__/",
	"*.pyc",
}

// Defaults returns the built-in exclusion patterns.
func Defaults() []string {
	out := defaultPatterns
	return out[:]
}

// Set is an ordered, de-duplicated collection of compiled patterns.
type Set struct {
	patterns []Pattern
	warnings []error
}

// NewSet builds a Set from the defaults followed by each group in order
// (typically configured exclusions, then command-line exclusions).
// Duplicates collapse to their first occurrence.
func NewSet(groups ...[]string) *Set {
	s := &Set{}
	seen := make(map[string]struct{})

	add := func(raw string) {
		key := normalize(raw)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		p, err := Compile(raw)
		if err != nil {
			s.warnings = append(s.warnings, err)
		}
		s.patterns = append(s.patterns, p)
	}

	for _, raw := range defaultPatterns {
		add(raw)
	}
	for _, group := range groups {
		for _, raw := range group {
			add(raw)
		}
	}
	return s
}

// Match returns the first pattern excluding relPath.
func (s *Set) Match(relPath string) (Pattern, bool) {
	for _, p := range s.patterns {
		if p.Match(relPath) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Excluded reports whether any pattern matches relPath.
func (s *Set) Excluded(relPath string) bool {
	_, ok := s.Match(relPath)
	return ok
}

// Patterns returns the raw patterns in evaluation order.
func (s *Set) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.raw
	}
	return out
}

// Warnings returns the PatternErrors collected while compiling.
func (s *Set) Warnings() []error {
	return s.warnings
}
