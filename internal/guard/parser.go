package guard

import (
	"fmt"
	"strconv"

	"github.com/sunholo/vssim/internal/errors"
)

// Parser parses a guard expression into an Expr tree.
//
// The grammar is deliberately small: comparisons over names and numeric
// literals combined with and/or/not. Precedence, lowest to highest:
// or < and < not < comparison.
type Parser struct {
	l         *Lexer
	curToken  Token
	peekToken Token
	errs      []error

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

type (
	prefixParseFn func() Expr
	infixParseFn  func(Expr) Expr
)

// Precedence levels. not sits between the connectives and the comparisons,
// so "not x > 1" negates the comparison while "not a > 1 and b < 2" negates
// only the left conjunct.
const (
	LOWEST int = iota
	LogicalOr
	LogicalAnd
	PREFIX  // not x
	COMPARE // <, <=, ==, >=, >
)

var precedences = map[TokenType]int{
	OR:  LogicalOr,
	AND: LogicalAnd,
	LT:  COMPARE,
	LTE: COMPARE,
	EQ:  COMPARE,
	GTE: COMPARE,
	GT:  COMPARE,
}

// NewParser creates a new Parser over a lexer.
func NewParser(l *Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = make(map[TokenType]prefixParseFn)
	p.registerPrefix(IDENT, p.parseIdentifier)
	p.registerPrefix(NUMBER, p.parseNumberLiteral)
	p.registerPrefix(TRUE, p.parseBooleanLiteral)
	p.registerPrefix(FALSE, p.parseBooleanLiteral)
	p.registerPrefix(NOT, p.parsePrefixExpression)
	p.registerPrefix(LPAREN, p.parseGroupedExpression)

	p.infixParseFns = make(map[TokenType]infixParseFn)
	p.registerInfix(LT, p.parseInfixExpression)
	p.registerInfix(LTE, p.parseInfixExpression)
	p.registerInfix(EQ, p.parseInfixExpression)
	p.registerInfix(GTE, p.parseInfixExpression)
	p.registerInfix(GT, p.parseInfixExpression)
	p.registerInfix(AND, p.parseInfixExpression)
	p.registerInfix(OR, p.parseInfixExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(tokenType TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

// Parse parses the whole expression and requires it to consume all input.
func (p *Parser) Parse() (Expr, error) {
	expr := p.parseExpression(LOWEST)
	if expr != nil && !p.peekTokenIs(EOF) {
		p.errorf("unexpected %q after expression", p.peekToken.Literal)
	}
	if len(p.errs) > 0 {
		return nil, p.errs[0]
	}
	return expr, nil
}

// parseExpression parses an expression with precedence
func (p *Parser) parseExpression(precedence int) Expr {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorf("unexpected token %q", p.curToken.Literal)
		return nil
	}

	leftExp := prefix()

	for precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()
		leftExp = infix(leftExp)
	}

	return leftExp
}

func (p *Parser) parseIdentifier() Expr {
	return &Ident{Name: p.curToken.Literal}
}

func (p *Parser) parseNumberLiteral() Expr {
	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorf("could not parse %q as number", p.curToken.Literal)
		return nil
	}
	return &Number{Value: value}
}

func (p *Parser) parseBooleanLiteral() Expr {
	return &Bool{Value: p.curTokenIs(TRUE)}
}

func (p *Parser) parsePrefixExpression() Expr {
	expr := &Unary{Op: NOT}
	p.nextToken()
	expr.Operand = p.parseExpression(PREFIX)
	return expr
}

func (p *Parser) parseInfixExpression(left Expr) Expr {
	expr := &Binary{Op: p.curToken.Type, Left: left}
	precedence := precedences[p.curToken.Type]
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	return expr
}

func (p *Parser) parseGroupedExpression() Expr {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.peekTokenIs(RPAREN) {
		p.errorf("expected ), got %q", p.peekToken.Literal)
		return nil
	}
	p.nextToken()
	return expr
}

func (p *Parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf(format, args...))
}

// Compile parses a guard expression string into a shareable expression tree.
// Configuration loaders call this once per distinct guard string; the
// resulting tree is shared by reference among duplicated transitions.
func Compile(src string) (Expr, error) {
	expr, err := NewParser(NewLexer(src)).Parse()
	if err != nil {
		return nil, errors.NewWithData(errors.CFG006, "guard",
			map[string]any{"expression": src}, "invalid guard %q: %v", src, err)
	}
	return expr, nil
}
