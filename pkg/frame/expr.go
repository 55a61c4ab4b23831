package frame

import (
	"regexp"
	"strings"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

type columnKind int

const (
	kindRef columnKind = iota
	kindStar
	kindExplode
	kindExplodeOuter
)

// Column is a projection expression: a (possibly nested) column reference, a
// star expansion, or an explode generator over another column.
type Column struct {
	kind  columnKind
	path  []string
	child *Column
	alias string
}

// Col references a column by dotted path. "a.b" reads field b of struct a,
// "*" selects every top-level column and "a.*" every field of struct a.
// Segments containing dots can be quoted with backticks.
func Col(name string) *Column {
	c, err := parseColumnRef(name)
	if err != nil {
		// keep the raw name so resolution reports it
		return &Column{kind: kindRef, path: []string{name}}
	}
	return c
}

// Explode produces one output row per element of an array column. Rows whose
// array is null or empty produce no output.
func Explode(c *Column) *Column {
	return &Column{kind: kindExplode, child: c}
}

// ExplodeOuter is like Explode but keeps rows with null or empty arrays,
// emitting a single null element for them.
func ExplodeOuter(c *Column) *Column {
	return &Column{kind: kindExplodeOuter, child: c}
}

// As names the output column
func (c *Column) As(alias string) *Column {
	cp := *c
	cp.alias = alias
	return &cp
}

func (c *Column) isGenerator() bool {
	return c.kind == kindExplode || c.kind == kindExplodeOuter
}

// String renders the expression back in SelectExpr syntax
func (c *Column) String() string {
	var s string
	switch c.kind {
	case kindStar:
		s = strings.Join(append(append([]string{}, c.path...), "*"), ".")
	case kindExplode:
		s = "explode(" + c.child.String() + ")"
	case kindExplodeOuter:
		s = "explode_outer(" + c.child.String() + ")"
	default:
		s = strings.Join(c.path, ".")
	}
	if c.alias != "" {
		s += " AS " + c.alias
	}
	return s
}

var (
	aliasPattern     = regexp.MustCompile(`(?is)^(.*\S)\s+as\s+(` + "`[^`]+`" + `|[A-Za-z_][A-Za-z0-9_]*)$`)
	generatorPattern = regexp.MustCompile(`(?is)^(explode|explode_outer)\s*\((.*)\)$`)
	identPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ParseExpr parses one SelectExpr string. Supported forms:
//
//	EventID
//	Payload.EmpId
//	Payload.EmpId AS emp
//	explode(Payload.Department) as Department
//	explode_outer(Payload.Department)
//	Department.*
func ParseExpr(text string) (*Column, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New(errors.ErrorTypeQuery, "empty expression")
	}

	alias := ""
	if m := aliasPattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
		alias = strings.Trim(m[2], "`")
	}

	col, err := parseBody(text)
	if err != nil {
		return nil, err
	}
	if alias != "" {
		if col.kind == kindStar {
			return nil, errors.Newf(errors.ErrorTypeQuery, "cannot alias star expression %q", text)
		}
		col.alias = alias
	}
	return col, nil
}

func parseBody(text string) (*Column, error) {
	if m := generatorPattern.FindStringSubmatch(text); m != nil {
		inner, err := parseBody(strings.TrimSpace(m[2]))
		if err != nil {
			return nil, err
		}
		if inner.isGenerator() {
			return nil, errors.Newf(errors.ErrorTypeQuery, "generators cannot be nested: %q", text)
		}
		if inner.kind == kindStar {
			return nil, errors.Newf(errors.ErrorTypeQuery, "cannot explode a star expression: %q", text)
		}
		if strings.EqualFold(m[1], "explode_outer") {
			return ExplodeOuter(inner), nil
		}
		return Explode(inner), nil
	}
	return parseColumnRef(text)
}

func parseColumnRef(text string) (*Column, error) {
	segments, err := splitPath(text)
	if err != nil {
		return nil, err
	}
	last := len(segments) - 1
	if segments[last] == "*" {
		return &Column{kind: kindStar, path: segments[:last]}, nil
	}
	return &Column{kind: kindRef, path: segments}, nil
}

// splitPath splits a dotted reference, honouring backtick quoting.
func splitPath(text string) ([]string, error) {
	var segments []string
	rest := text
	for {
		rest = strings.TrimSpace(rest)
		var seg string
		if strings.HasPrefix(rest, "`") {
			end := strings.Index(rest[1:], "`")
			if end < 0 {
				return nil, errors.Newf(errors.ErrorTypeQuery, "unterminated quoted identifier in %q", text)
			}
			seg = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			dot := strings.IndexByte(rest, '.')
			if dot < 0 {
				seg, rest = rest, ""
			} else {
				seg, rest = rest[:dot], rest[dot:]
			}
			seg = strings.TrimSpace(seg)
			if seg != "*" && !identPattern.MatchString(seg) {
				return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported expression %q", text)
			}
		}
		segments = append(segments, seg)

		if rest == "" {
			break
		}
		if rest[0] != '.' {
			return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported expression %q", text)
		}
		rest = rest[1:]
	}

	for i, seg := range segments {
		if seg == "*" && i != len(segments)-1 {
			return nil, errors.Newf(errors.ErrorTypeQuery, "star must be the last path segment in %q", text)
		}
	}
	return segments, nil
}
