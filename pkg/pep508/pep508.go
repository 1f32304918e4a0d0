// Package pep508 implements PEP 508 -- Dependency specification for Python Software Packages.
//
// It parses the `Requires-Dist`-style requirement strings used throughout the rest of rip
// (metadata parsing, the resolver) into a structured Requirement: a distribution name, optional
// extras, a PEP 440 version specifier, and an optional environment marker expression.
//
// The grammar and scanning approach are the same shape as AlexanderEkdahl/rope's pep508.go
// (text/scanner-driven recursive descent), generalized to also parse the marker grammar that file
// left as a TODO, and to build on rip's own pep440.Specifier rather than a bespoke version type.
//
// https://www.python.org/dev/peps/pep-0508/
package pep508

import (
	"fmt"
	"strings"
	"text/scanner"
	"unicode"

	"github.com/datawire/rip/pkg/pep440"
	"github.com/datawire/rip/pkg/pep503"
)

// Requirement is a single parsed PEP 508 dependency specification, e.g.
// `requests[socks]>=2.25,<3; python_version >= "3.6"`.
type Requirement struct {
	Name      pep503.PackageName
	Extras    []pep503.Extra
	Specifier pep440.Specifier
	URL       string // non-empty for a PEP 440 direct reference (`name @ url`)
	Marker    Marker // nil if the requirement has no `; marker` clause
	Raw       string
}

func (r Requirement) String() string { return r.Raw }

// ParseRequirement parses a single PEP 508 dependency specifier.
func ParseRequirement(input string) (*Requirement, error) {
	s := newScanner(input)

	name, err := scanIdentifier(s)
	if err != nil {
		return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
	}
	pkgname, err := pep503.ParsePackageName(name)
	if err != nil {
		return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
	}
	req := &Requirement{Name: pkgname, Raw: input}

	skipSpace(s)
	if s.Peek() == '[' {
		extras, err := scanExtras(s)
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
		}
		for _, e := range extras {
			req.Extras = append(req.Extras, pep503.ParseExtra(e))
		}
	}

	skipSpace(s)
	switch s.Peek() {
	case '@':
		s.Next()
		skipSpace(s)
		url, err := scanUntil(s, ';')
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
		}
		req.URL = strings.TrimSpace(url)
	case '(':
		s.Next()
		spec, err := scanUntilRune(s, ')')
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
		}
		req.Specifier, err = pep440.ParseSpecifier(spec)
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
		}
	default:
		spec, err := scanUntil(s, ';')
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
		}
		spec = strings.TrimSpace(spec)
		if spec != "" {
			req.Specifier, err = pep440.ParseSpecifier(spec)
			if err != nil {
				return nil, fmt.Errorf("pep508.ParseRequirement: %q: %w", input, err)
			}
		}
	}

	skipSpace(s)
	if s.Peek() == ';' {
		s.Next()
		rest := s.remainder()
		marker, err := ParseMarker(rest)
		if err != nil {
			return nil, fmt.Errorf("pep508.ParseRequirement: %q: marker: %w", input, err)
		}
		req.Marker = marker
	}

	return req, nil
}

// --- scanning helpers, shared between the requirement grammar and the marker grammar below ---

type tokenScanner struct {
	*scanner.Scanner
	src string
}

func newScanner(input string) *tokenScanner {
	s := &scanner.Scanner{}
	s.Init(strings.NewReader(input))
	s.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanChars
	s.Whitespace = 1<<'\t' | 1<<' ' | 1<<'\n' | 1<<'\r'
	s.IsIdentRune = identRune
	s.Error = func(*scanner.Scanner, string) {} // swallow; callers check Peek()/EOF themselves
	return &tokenScanner{Scanner: s, src: input}
}

// remainder returns the text from the scanner's current position to the end of input, used once
// we've reached a point (like after ';') where we hand off to a different sub-grammar.
func (s *tokenScanner) remainder() string {
	pos := s.Pos().Offset
	if pos < 0 || pos > len(s.src) {
		return ""
	}
	return s.src[pos:]
}

func identRune(ch rune, i int) bool {
	if i == 0 {
		return unicode.IsLetter(ch) || unicode.IsDigit(ch)
	}
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '-' || ch == '_' || ch == '.'
}

func skipSpace(s *tokenScanner) {
	for {
		ch := s.Peek()
		if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			return
		}
		s.Next()
	}
}

func scanIdentifier(s *tokenScanner) (string, error) {
	skipSpace(s)
	if s.Scan() == scanner.EOF {
		return "", fmt.Errorf("expected identifier, got EOF")
	}
	return s.TokenText(), nil
}

func scanExtras(s *tokenScanner) ([]string, error) {
	s.Next() // consume '['
	var extras []string
	for {
		skipSpace(s)
		if s.Peek() == ']' {
			s.Next()
			return extras, nil
		}
		name, err := scanIdentifier(s)
		if err != nil {
			return nil, err
		}
		extras = append(extras, name)
		skipSpace(s)
		if s.Peek() == ',' {
			s.Next()
			continue
		}
	}
}

// scanUntil collects raw runes up to (excluding) the next occurrence of stop, or EOF; nesting is
// not tracked.
func scanUntil(s *tokenScanner, stop rune) (string, error) {
	var b strings.Builder
	for {
		ch := s.Peek()
		if ch == scanner.EOF || ch == stop {
			return b.String(), nil
		}
		b.WriteRune(s.Next())
	}
}

func scanUntilRune(s *tokenScanner, stop rune) (string, error) {
	str, err := scanUntil(s, stop)
	if err != nil {
		return "", err
	}
	if s.Peek() != stop {
		return "", fmt.Errorf("expected %q, got EOF", stop)
	}
	s.Next()
	return str, nil
}

