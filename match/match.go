// Package match answers whether a table name matches an exact name or a
// POSIX extended regular expression.
package match

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

var errInvalidCandidate = errors.New("candidate is not valid UTF-8")

// InvalidPatternError reports a pattern that failed to compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid regular expression %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// PatternMatchError reports a failure to evaluate a pattern. It is fatal for
// the evaluation that triggered it.
type PatternMatchError struct {
	Pattern   string
	Candidate string
	Err       error
}

func (e *PatternMatchError) Error() string {
	return fmt.Sprintf("regular expression %q failed on %q: %v", e.Pattern, e.Candidate, e.Err)
}

func (e *PatternMatchError) Unwrap() error {
	return e.Err
}

// Matcher is either a compiled pattern or a literal name.
type Matcher struct {
	source string
	re     *regexp.Regexp
}

// Compile compiles pattern with POSIX ERE syntax. Matching is an unanchored
// search, so patterns that must match from the start need a leading ^.
func Compile(pattern string) (*Matcher, error) {
	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	return &Matcher{source: pattern, re: re}, nil
}

// Literal returns a matcher for exactly name.
func Literal(name string) *Matcher {
	return &Matcher{source: name}
}

// IsPattern returns true if m was built by Compile.
func (m *Matcher) IsPattern() bool {
	return m.re != nil
}

// String returns the pattern or literal m was built from.
func (m *Matcher) String() string {
	return m.source
}

// Match reports whether candidate matches.
func (m *Matcher) Match(candidate string) (bool, error) {
	if m.re == nil {
		return candidate == m.source, nil
	}

	if !utf8.ValidString(candidate) {
		return false, &PatternMatchError{Pattern: m.source, Candidate: candidate, Err: errInvalidCandidate}
	}

	return m.re.MatchString(candidate), nil
}
