package scim

import (
	"strings"

	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
)

// MaxFilterLength caps filter input before tokenizing. Pathological inputs
// are rejected without any parser work.
const MaxFilterLength = 256

// CompareOp is a filter comparison operator.
type CompareOp string

const (
	OpEquals     CompareOp = "eq"
	OpContains   CompareOp = "co"
	OpStartsWith CompareOp = "sw"
)

// Filter attribute allowlist. Anything else is rejected at parse time,
// before storage is touched.
const (
	AttrUserName   = "userName"
	AttrActive     = "active"
	AttrExternalID = "externalId"
)

// Expr is a parsed filter expression: a Comparison, or a flat And/Or over
// comparisons. The grammar refuses mixed connectives, so And and Or never
// nest inside each other.
type Expr interface {
	isExpr()
}

// Comparison is one `attr op value` triple.
type Comparison struct {
	Attr  string
	Op    CompareOp
	Value string
}

// And is a conjunction of comparisons.
type And struct {
	Children []Expr
}

// Or is a disjunction of comparisons.
type Or struct {
	Children []Expr
}

func (*Comparison) isExpr() {}
func (*And) isExpr()        {}
func (*Or) isExpr()         {}

// ============================================================
// Tokenizer
// ============================================================

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
)

type token struct {
	kind tokenKind
	text string
}

// tokenize splits a filter into bare words and quoted strings. Quoted
// strings support backslash-escaped quotes and backslashes.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			text, next, err := scanQuoted(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: text})
			i = next
		case isWordChar(c):
			start := i
			for i < len(input) && isWordChar(input[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: input[start:i]})
		default:
			return nil, E(KindInvalidFilter, "unexpected character %q in filter", string(c))
		}
	}
	return tokens, nil
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '-' || c == '@' || c == '+'
}

// scanQuoted consumes a double-quoted string starting at input[start] and
// returns the unescaped text plus the index after the closing quote.
func scanQuoted(input string, start int) (string, int, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch c {
		case '\\':
			if i+1 >= len(input) {
				return "", 0, E(KindInvalidFilter, "unterminated escape in quoted string")
			}
			sb.WriteByte(input[i+1])
			i += 2
		case '"':
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", 0, E(KindInvalidFilter, "unterminated quoted string in filter")
}

// ============================================================
// Parser
// ============================================================

// ParseFilter parses a restricted SCIM filter string into an expression
// tree. The grammar is deliberately narrow: `attr op value` triples chained
// by a single connective, attributes limited to the allowlist, operators to
// eq/co/sw. Mixing `and` and `or` in one expression is refused rather than
// disambiguated.
func ParseFilter(input string) (Expr, error) {
	if len(input) > MaxFilterLength {
		return nil, E(KindInvalidFilter, "filter exceeds %d characters", MaxFilterLength)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, E(KindInvalidFilter, "empty filter")
	}

	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &filterParser{tokens: tokens}
	expr, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, E(KindInvalidFilter, "unexpected token %q after expression", p.tokens[p.pos].text)
	}
	return expr, nil
}

type filterParser struct {
	tokens []token
	pos    int
}

func (p *filterParser) parse() (Expr, error) {
	first, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	children := []Expr{first}
	connective := ""
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.kind != tokenWord {
			return nil, E(KindInvalidFilter, "expected connective, got %q", tok.text)
		}
		word := strings.ToLower(tok.text)
		if word != "and" && word != "or" {
			return nil, E(KindInvalidFilter, "expected 'and' or 'or', got %q", tok.text)
		}
		if connective == "" {
			connective = word
		} else if connective != word {
			return nil, E(KindInvalidFilter, "mixing 'and' and 'or' in one filter is not supported")
		}
		p.pos++

		next, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}

	if connective == "or" {
		return &Or{Children: children}, nil
	}
	if connective == "and" {
		return &And{Children: children}, nil
	}
	return first, nil
}

func (p *filterParser) parseComparison() (Expr, error) {
	attrTok, err := p.next("attribute")
	if err != nil {
		return nil, err
	}
	if attrTok.kind != tokenWord {
		return nil, E(KindInvalidFilter, "expected attribute name, got string literal")
	}
	attr, ok := canonicalAttr(attrTok.text)
	if !ok {
		return nil, E(KindInvalidFilter, "unsupported filter attribute %q", attrTok.text)
	}

	opTok, err := p.next("operator")
	if err != nil {
		return nil, err
	}
	op, ok := parseOp(opTok.text)
	if !ok {
		return nil, E(KindInvalidFilter, "unsupported operator %q", opTok.text)
	}

	valTok, err := p.next("value")
	if err != nil {
		return nil, err
	}
	value := valTok.text
	if valTok.kind == tokenWord {
		lower := strings.ToLower(value)
		if lower != "true" && lower != "false" {
			return nil, E(KindInvalidFilter, "unquoted value %q (only true/false may be bare)", value)
		}
		value = lower
	}

	if attr == AttrActive {
		if value != "true" && value != "false" {
			return nil, E(KindInvalidFilter, "active comparisons require true or false")
		}
		if op != OpEquals {
			return nil, E(KindInvalidFilter, "active only supports 'eq'")
		}
	}
	if attr == AttrUserName {
		// userName comparisons are case-insensitive downstream.
		value = strings.ToLower(value)
	}

	return &Comparison{Attr: attr, Op: op, Value: value}, nil
}

func (p *filterParser) next(want string) (token, error) {
	if p.pos >= len(p.tokens) {
		return token{}, E(KindInvalidFilter, "unexpected end of filter, expected %s", want)
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, nil
}

func canonicalAttr(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "username":
		return AttrUserName, true
	case "active":
		return AttrActive, true
	case "externalid":
		return AttrExternalID, true
	}
	return "", false
}

func parseOp(s string) (CompareOp, bool) {
	switch strings.ToLower(s) {
	case "eq":
		return OpEquals, true
	case "co":
		return OpContains, true
	case "sw":
		return OpStartsWith, true
	}
	return "", false
}

// ============================================================
// Tree helpers
// ============================================================

// Predicate converts an expression tree into a directory-store predicate.
// externalId comparisons become placeholder conditions: the mapping lookup
// needs a store round-trip, so the caller pre-resolves the external id and
// injects the user-id condition itself (see resolveUserFilter).
func Predicate(expr Expr) (*directory.MemberPredicate, error) {
	switch e := expr.(type) {
	case *Comparison:
		cond, err := condition(e)
		if err != nil {
			return nil, err
		}
		return &directory.MemberPredicate{Conditions: []directory.Condition{cond}}, nil
	case *And, *Or:
		children, disjunction := connectiveChildren(expr)
		p := &directory.MemberPredicate{Disjunction: disjunction}
		for _, child := range children {
			cmp, ok := child.(*Comparison)
			if !ok {
				return nil, E(KindInvalidFilter, "nested connectives are not supported")
			}
			cond, err := condition(cmp)
			if err != nil {
				return nil, err
			}
			p.Conditions = append(p.Conditions, cond)
		}
		return p, nil
	default:
		return nil, E(KindInvalidFilter, "unsupported filter expression")
	}
}

func connectiveChildren(expr Expr) ([]Expr, bool) {
	switch e := expr.(type) {
	case *And:
		return e.Children, false
	case *Or:
		return e.Children, true
	}
	return nil, false
}

func condition(c *Comparison) (directory.Condition, error) {
	switch c.Attr {
	case AttrUserName:
		return directory.Condition{
			Field: directory.FieldEmail,
			Match: directory.Match(c.Op),
			Value: c.Value,
		}, nil
	case AttrActive:
		return directory.Condition{
			Field:  directory.FieldActive,
			Active: c.Value == "true",
		}, nil
	case AttrExternalID:
		// Placeholder; caller injects the resolved identity condition.
		return directory.Condition{Field: directory.FieldNone}, nil
	}
	return directory.Condition{}, E(KindInvalidFilter, "unsupported filter attribute %q", c.Attr)
}

// HasAttribute reports whether attr appears anywhere in the tree. IdPs wrap
// interesting comparisons in trivial connectives, so the search recurses.
func HasAttribute(expr Expr, attr string) bool {
	switch e := expr.(type) {
	case *Comparison:
		return e.Attr == attr
	case *And:
		for _, c := range e.Children {
			if HasAttribute(c, attr) {
				return true
			}
		}
	case *Or:
		for _, c := range e.Children {
			if HasAttribute(c, attr) {
				return true
			}
		}
	}
	return false
}

// ExternalIDEquals extracts the literal value of an `externalId eq "…"`
// comparison wherever it appears in the tree.
func ExternalIDEquals(expr Expr) (string, bool) {
	switch e := expr.(type) {
	case *Comparison:
		if e.Attr == AttrExternalID && e.Op == OpEquals {
			return e.Value, true
		}
	case *And:
		for _, c := range e.Children {
			if v, ok := ExternalIDEquals(c); ok {
				return v, true
			}
		}
	case *Or:
		for _, c := range e.Children {
			if v, ok := ExternalIDEquals(c); ok {
				return v, true
			}
		}
	}
	return "", false
}
