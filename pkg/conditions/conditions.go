// Package conditions implements the boolean expression language used on edges.
//
// Grammar:
//
//	expr       = or
//	or         = and { "||" and }
//	and        = unary { "&&" unary }
//	unary      = "!" unary | comparison
//	comparison = operand [ ( "==" | "!=" | ">" | ">=" | "<" | "<=" | "contains" ) operand ]
//	operand    = "(" expr ")" | string | number | "true" | "false" | "null" | path
//
// Paths are dotted lookups into the data the expression is evaluated against.
// A path that does not resolve makes any comparison it takes part in false,
// and negating it is false too.
package conditions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/conduit/pkg/template"
)

var ErrInvalidExpression = errors.New("invalid condition expression")

// Expression is a parsed condition.
type Expression struct {
	source string
	root   node
}

// Compile parses expr. An empty expression always evaluates true.
func Compile(expr string) (*Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return &Expression{source: expr, root: literal{value: true}}, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}

	p := &parser{tokens: tokens}

	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}

	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrInvalidExpression, p.peek().text, p.peek().pos)
	}

	return &Expression{source: expr, root: root}, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Compile(expr)

	return err
}

// Evaluate compiles and evaluates expr. Expressions that do not parse are false.
func Evaluate(expr string, data map[string]any) bool {
	compiled, err := Compile(expr)
	if err != nil {
		return false
	}

	return compiled.Evaluate(data)
}

func (e *Expression) String() string { return e.source }

// Evaluate never fails; unknown operands make the expression false.
func (e *Expression) Evaluate(data map[string]any) bool {
	return truthy(e.root.eval(data))
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenOr {
		p.next()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = logical{or: true, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenAnd {
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = logical{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokenNot {
		p.next()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return not{operand: operand}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch op := p.peek(); op.kind {
	case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte, tokenContains:
		p.next()

		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}

		return comparison{op: op.kind, left: left, right: right}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("expected ) at position %d", closing.pos)
		}

		return inner, nil
	case tokenString:
		return literal{value: tok.value}, nil
	case tokenNumber:
		number, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}

		return literal{value: number}, nil
	case tokenTrue:
		return literal{value: true}, nil
	case tokenFalse:
		return literal{value: false}, nil
	case tokenNull:
		return literal{value: nil}, nil
	case tokenPath:
		if strings.HasSuffix(tok.value, ".") || strings.Contains(tok.value, "..") {
			return nil, fmt.Errorf("invalid path %q at position %d", tok.text, tok.pos)
		}

		return path{segments: tok.value}, nil
	case tokenEOF:
		return nil, errors.New("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
}

// undefined marks a path that did not resolve.
type undefined struct{}

type node interface {
	eval(data map[string]any) any
}

type literal struct{ value any }

func (l literal) eval(map[string]any) any { return l.value }

type path struct{ segments string }

func (p path) eval(data map[string]any) any {
	value, ok := template.Lookup(data, p.segments)
	if !ok {
		return undefined{}
	}

	return value
}

type not struct{ operand node }

// eval keeps an unresolved operand undefined, so negating it is still false.
func (n not) eval(data map[string]any) any {
	value := n.operand.eval(data)
	if _, missing := value.(undefined); missing {
		return value
	}

	return !truthy(value)
}

type logical struct {
	or          bool
	left, right node
}

func (l logical) eval(data map[string]any) any {
	left := truthy(l.left.eval(data))
	if l.or {
		return left || truthy(l.right.eval(data))
	}

	return left && truthy(l.right.eval(data))
}

type comparison struct {
	op          tokenKind
	left, right node
}

func (c comparison) eval(data map[string]any) any {
	left := c.left.eval(data)
	right := c.right.eval(data)

	if _, missing := left.(undefined); missing {
		return false
	}

	if _, missing := right.(undefined); missing {
		return false
	}

	switch c.op {
	case tokenEq:
		return equal(left, right)
	case tokenNeq:
		return !equal(left, right)
	case tokenContains:
		return contains(left, right)
	default:
		return order(c.op, left, right)
	}
}
