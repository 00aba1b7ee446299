package guard

import (
	"fmt"
	"strconv"
)

// Expr is a node in a compiled guard expression tree. Expressions are
// immutable after parsing; the same tree may be shared by several
// transitions and evaluated from any goroutine.
type Expr interface {
	String() string
	exprNode()
}

// Ident references a variable in the evaluation environment.
// Qualified names (battery.SOC) are single identifiers.
type Ident struct {
	Name string
}

func (i *Ident) exprNode()      {}
func (i *Ident) String() string { return i.Name }

// Number is a numeric literal, always carried as a double.
type Number struct {
	Value float64
}

func (n *Number) exprNode()      {}
func (n *Number) String() string { return strconv.FormatFloat(n.Value, 'g', -1, 64) }

// Bool is a boolean literal.
type Bool struct {
	Value bool
}

func (b *Bool) exprNode() {}
func (b *Bool) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}

// Unary is a prefix operation; the only prefix operator is not.
type Unary struct {
	Op      TokenType
	Operand Expr
}

func (u *Unary) exprNode()      {}
func (u *Unary) String() string { return fmt.Sprintf("(%s %s)", u.Op, u.Operand) }

// Binary is an infix operation: a comparison or a logical connective.
type Binary struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (b *Binary) exprNode()      {}
func (b *Binary) String() string { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }
