// Package pattern decides whether a subscription pattern matches an event type.
//
// A pattern is either an exact event-type string or a wildcard expression
// containing "*". Wildcard patterns are compiled once at subscribe time so
// the dispatch hot path is a string compare for exact patterns and a
// precompiled regexp test for wildcards.
//
// Each "*" expands to the regexp ".*" (zero-or-more characters) after the
// literal segments are escaped. That means "com.example.*" matches
// "com.example.created" and the bare "com.example." boundary, and
// "a.*.c" matches "a..c".
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard matches every event type.
const Wildcard = "*"

// InvalidPatternError indicates a pattern that cannot be compiled
// into a matcher.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q", e.Pattern)
}

// Unwrap returns the underlying error.
func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// IsWildcard returns true if the pattern contains any "*" character.
func IsWildcard(p string) bool {
	return strings.Contains(p, Wildcard)
}

// Matcher is a compiled pattern.
// Exact patterns compare by string equality; wildcard patterns test a
// precompiled anchored regexp.
type Matcher struct {
	pattern  string
	re       *regexp.Regexp // nil for exact patterns and the full wildcard
	matchAll bool
}

// Compile builds a Matcher from a pattern string.
// It returns *InvalidPatternError if the pattern is empty or the
// expanded expression does not compile.
func Compile(p string) (*Matcher, error) {
	if p == "" {
		return nil, &InvalidPatternError{Pattern: p}
	}

	if p == Wildcard {
		return &Matcher{pattern: p, matchAll: true}, nil
	}

	if !IsWildcard(p) {
		return &Matcher{pattern: p}, nil
	}

	// Escape the literal segments, expand each "*" to ".*", and anchor.
	segments := strings.Split(p, Wildcard)
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	expr := "^" + strings.Join(segments, ".*") + "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: p, Err: err}
	}

	return &Matcher{pattern: p, re: re}, nil
}

// MustCompile is like Compile but panics on error.
// Intended for patterns known at compile time.
func MustCompile(p string) *Matcher {
	m, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return m
}

// Pattern returns the original pattern string.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// IsExact returns true if the matcher compares by string equality.
func (m *Matcher) IsExact() bool {
	return m.re == nil && !m.matchAll
}

// Matches reports whether the event type matches the pattern.
func (m *Matcher) Matches(eventType string) bool {
	if m.matchAll {
		return true
	}
	if m.re != nil {
		return m.re.MatchString(eventType)
	}
	return m.pattern == eventType
}
