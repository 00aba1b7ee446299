package guard

import (
	"github.com/sunholo/vssim/internal/errors"
)

// Env is the evaluation environment: variable name to real value. The
// orchestrator owns a single Env shared between the engine and the net.
type Env map[string]float64

// Clone returns an independent copy of the environment.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// result is an intermediate evaluation value: a number or a boolean.
type result struct {
	isBool bool
	num    float64
	b      bool
}

// Eval evaluates a compiled guard against an environment. The expression
// must produce a boolean; and/or short-circuit left to right. Eval holds no
// state and is safe for concurrent use.
func Eval(e Expr, env Env) (bool, error) {
	v, err := eval(e, env)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, errors.New(errors.GRD002, "guard",
			"expression %s is numeric, guard must be boolean", e)
	}
	return v.b, nil
}

func eval(e Expr, env Env) (result, error) {
	switch n := e.(type) {
	case *Number:
		return result{num: n.Value}, nil

	case *Bool:
		return result{isBool: true, b: n.Value}, nil

	case *Ident:
		v, ok := env[n.Name]
		if !ok {
			return result{}, errors.NewWithData(errors.GRD001, "guard",
				map[string]any{"name": n.Name}, "undefined name %q", n.Name)
		}
		return result{num: v}, nil

	case *Unary:
		v, err := evalBool(n.Operand, env)
		if err != nil {
			return result{}, err
		}
		return result{isBool: true, b: !v}, nil

	case *Binary:
		switch n.Op {
		case AND:
			left, err := evalBool(n.Left, env)
			if err != nil {
				return result{}, err
			}
			if !left {
				return result{isBool: true, b: false}, nil
			}
			right, err := evalBool(n.Right, env)
			if err != nil {
				return result{}, err
			}
			return result{isBool: true, b: right}, nil

		case OR:
			left, err := evalBool(n.Left, env)
			if err != nil {
				return result{}, err
			}
			if left {
				return result{isBool: true, b: true}, nil
			}
			right, err := evalBool(n.Right, env)
			if err != nil {
				return result{}, err
			}
			return result{isBool: true, b: right}, nil

		default:
			left, err := evalNum(n.Left, env)
			if err != nil {
				return result{}, err
			}
			right, err := evalNum(n.Right, env)
			if err != nil {
				return result{}, err
			}
			return result{isBool: true, b: compare(n.Op, left, right)}, nil
		}
	}

	return result{}, errors.New(errors.GRD002, "guard", "unknown expression node %T", e)
}

func evalBool(e Expr, env Env) (bool, error) {
	v, err := eval(e, env)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, errors.New(errors.GRD002, "guard",
			"operand %s is numeric, expected boolean", e)
	}
	return v.b, nil
}

func evalNum(e Expr, env Env) (float64, error) {
	v, err := eval(e, env)
	if err != nil {
		return 0, err
	}
	if v.isBool {
		return 0, errors.New(errors.GRD002, "guard",
			"operand %s is boolean, expected number", e)
	}
	return v.num, nil
}

func compare(op TokenType, left, right float64) bool {
	switch op {
	case LT:
		return left < right
	case LTE:
		return left <= right
	case EQ:
		return left == right
	case GTE:
		return left >= right
	case GT:
		return left > right
	}
	return false
}
