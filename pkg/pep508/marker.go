package pep508

import (
	"fmt"
	"strings"

	"github.com/datawire/rip/pkg/pep440"
)

// Environment is the set of marker variables PEP 508 defines, plus the "extra" variable that is
// only meaningful inside a containing extras-aware evaluation (e.g. the resolver evaluating one
// extra's requirements at a time).
type Environment struct {
	PythonVersion                string
	PythonFullVersion            string
	OSName                       string
	SysPlatform                  string
	PlatformRelease              string
	PlatformSystem               string
	PlatformVersion              string
	PlatformMachine              string
	PlatformPythonImplementation string
	ImplementationName           string
	ImplementationVersion        string
	Extra                        string
}

func (e Environment) lookup(name string) (string, bool) {
	switch name {
	case "python_version":
		return e.PythonVersion, true
	case "python_full_version":
		return e.PythonFullVersion, true
	case "os_name":
		return e.OSName, true
	case "sys_platform":
		return e.SysPlatform, true
	case "platform_release":
		return e.PlatformRelease, true
	case "platform_system":
		return e.PlatformSystem, true
	case "platform_version":
		return e.PlatformVersion, true
	case "platform_machine":
		return e.PlatformMachine, true
	case "platform_python_implementation":
		return e.PlatformPythonImplementation, true
	case "implementation_name":
		return e.ImplementationName, true
	case "implementation_version":
		return e.ImplementationVersion, true
	case "extra":
		return e.Extra, true
	default:
		return "", false
	}
}

// Marker is the AST of a `; ...` environment marker expression. Concrete node types are
// *andNode, *orNode, and *compareNode.
type Marker interface {
	Eval(env Environment) (bool, error)
	String() string
}

type andNode struct{ l, r Marker }
type orNode struct{ l, r Marker }

func (n *andNode) Eval(env Environment) (bool, error) {
	l, err := n.l.Eval(env)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return n.r.Eval(env)
}
func (n *andNode) String() string { return fmt.Sprintf("(%s and %s)", n.l, n.r) }

func (n *orNode) Eval(env Environment) (bool, error) {
	l, err := n.l.Eval(env)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.r.Eval(env)
}
func (n *orNode) String() string { return fmt.Sprintf("(%s or %s)", n.l, n.r) }

// marker_var is either an env_var reference or a quoted literal string.
type markerVar struct {
	name    string // non-empty if this is an env_var
	literal string // used when name == ""
}

func (v markerVar) resolve(env Environment) (string, error) {
	if v.name == "" {
		return v.literal, nil
	}
	val, ok := env.lookup(v.name)
	if !ok {
		return "", fmt.Errorf("unknown marker variable: %s", v.name)
	}
	return val, nil
}

func (v markerVar) String() string {
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("%q", v.literal)
}

type compareNode struct {
	op   string
	l, r markerVar
}

func (n *compareNode) String() string { return fmt.Sprintf("%s %s %s", n.l, n.op, n.r) }

func (n *compareNode) Eval(env Environment) (bool, error) {
	lval, err := n.l.resolve(env)
	if err != nil {
		return false, err
	}
	rval, err := n.r.resolve(env)
	if err != nil {
		return false, err
	}

	switch n.op {
	case "in":
		return strings.Contains(rval, lval), nil
	case "not in":
		return !strings.Contains(rval, lval), nil
	case "==", "!=", "<=", "<", ">=", ">", "~=", "===":
		return evalVersionCompare(n.op, lval, rval)
	default:
		return false, fmt.Errorf("unsupported marker operator: %q", n.op)
	}
}

// evalVersionCompare compares lval against rval using PEP 440 semantics when both sides parse as
// versions, falling back to plain string comparison otherwise -- mirroring how pip's
// packaging.markers module handles comparisons against non-version marker variables like
// `platform_system == "Linux"`.
func evalVersionCompare(op, lval, rval string) (bool, error) {
	lver, lerr := pep440.ParseVersion(lval)
	if lerr == nil {
		spec, err := pep440.ParseSpecifier(op + rval)
		if err == nil {
			return spec.Match(*lver), nil
		}
	}
	switch op {
	case "==", "===":
		return lval == rval, nil
	case "!=":
		return lval != rval, nil
	case "<=":
		return lval <= rval, nil
	case "<":
		return lval < rval, nil
	case ">=":
		return lval >= rval, nil
	case ">":
		return lval > rval, nil
	default:
		return false, fmt.Errorf("cannot compare %q %s %q", lval, op, rval)
	}
}

// ParseMarker parses the grammar after a requirement's `;`: a boolean expression of comparisons
// over env_vars/python_str literals, joined by `and`/`or`, with parenthesized grouping.
func ParseMarker(input string) (Marker, error) {
	p := &markerParser{s: newScanner(input)}
	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	skipSpace(p.s)
	if p.s.Peek() != scannerEOF {
		return nil, fmt.Errorf("pep508.ParseMarker: unexpected trailing input: %q", p.s.remainder())
	}
	return m, nil
}

const scannerEOF = -1

type markerParser struct{ s *tokenScanner }

func (p *markerParser) parseOr() (Marker, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		skipSpace(p.s)
		if !p.consumeWord("or") {
			return l, nil
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &orNode{l: l, r: r}
	}
}

func (p *markerParser) parseAnd() (Marker, error) {
	l, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		skipSpace(p.s)
		if !p.consumeWord("and") {
			return l, nil
		}
		r, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		l = &andNode{l: l, r: r}
	}
}

func (p *markerParser) parseAtom() (Marker, error) {
	skipSpace(p.s)
	if p.s.Peek() == '(' {
		p.s.Next()
		m, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		skipSpace(p.s)
		if p.s.Peek() != ')' {
			return nil, fmt.Errorf("pep508: expected ')'")
		}
		p.s.Next()
		return m, nil
	}

	left, err := p.parseMarkerVar()
	if err != nil {
		return nil, err
	}
	skipSpace(p.s)
	op, err := p.parseMarkerOp()
	if err != nil {
		return nil, err
	}
	skipSpace(p.s)
	right, err := p.parseMarkerVar()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: op, l: left, r: right}, nil
}

func (p *markerParser) parseMarkerVar() (markerVar, error) {
	skipSpace(p.s)
	switch p.s.Peek() {
	case '\'', '"':
		quote := p.s.Next()
		var b strings.Builder
		for {
			ch := p.s.Next()
			if ch == scannerEOF {
				return markerVar{}, fmt.Errorf("pep508: unterminated string literal")
			}
			if ch == quote {
				break
			}
			b.WriteRune(ch)
		}
		return markerVar{literal: b.String()}, nil
	default:
		name, err := scanIdentifier(p.s)
		if err != nil {
			return markerVar{}, err
		}
		return markerVar{name: name}, nil
	}
}

func (p *markerParser) parseMarkerOp() (string, error) {
	skipSpace(p.s)
	switch p.s.Peek() {
	case '<', '>', '=', '!', '~':
		var b strings.Builder
		b.WriteRune(p.s.Next())
		for strings.ContainsRune("=<>", p.s.Peek()) {
			b.WriteRune(p.s.Next())
		}
		return b.String(), nil
	default:
		word, err := scanIdentifier(p.s)
		if err != nil {
			return "", err
		}
		switch word {
		case "in":
			return "in", nil
		case "not":
			skipSpace(p.s)
			word2, err := scanIdentifier(p.s)
			if err != nil || word2 != "in" {
				return "", fmt.Errorf("pep508: expected 'in' after 'not'")
			}
			return "not in", nil
		default:
			return "", fmt.Errorf("pep508: unexpected marker operator %q", word)
		}
	}
}

// consumeWord consumes the next identifier token iff it equals word; text/scanner has no rewind,
// so a wrong guess reconstructs a fresh scanner over the unconsumed remainder.
func (p *markerParser) consumeWord(word string) bool {
	if p.s.Peek() == scannerEOF {
		return false
	}
	save := p.s.remainder()
	got, err := scanIdentifier(p.s)
	if err != nil || got != word {
		*p.s = *newScanner(save)
		return false
	}
	return true
}
