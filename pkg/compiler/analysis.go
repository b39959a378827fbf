package compiler

import (
	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/parser"
)

// needsTranslation reports whether an expression interacts with the state
// machine and must be lowered: it suspends, steers the enclosing loop, or
// contains something that does. Everything else stays a leaf the runtime
// evaluates directly.
func needsTranslation(e parser.Expression) bool {
	switch n := e.(type) {
	case *parser.YieldExpression, *parser.BreakExpression, *parser.NextExpression:
		return true
	case *parser.BlockExpression:
		return seqNeedsTranslation(n.Expressions)
	case *parser.IfExpression:
		if needsTranslation(n.Consequence) {
			return true
		}
		return n.Alternative != nil && needsTranslation(n.Alternative)
	case *parser.RepeatExpression:
		// A loop is lowered when its body suspends or when it contains loop
		// control bound to it; a self-contained loop stays a leaf.
		return containsYield(n.Body) || containsLoopControl(n.Body)
	case *parser.WhileExpression:
		return containsYield(n.Body) || containsLoopControl(n.Body)
	case *parser.ForExpression:
		return containsYield(n.Body) || containsLoopControl(n.Body)
	}
	return false
}

func seqNeedsTranslation(exprs []parser.Expression) bool {
	for _, e := range exprs {
		if needsTranslation(e) {
			return true
		}
	}
	return false
}

// containsYield reports whether e contains a yield, at any depth, outside
// nested function literals (those never suspend the enclosing generator).
func containsYield(e parser.Expression) bool {
	switch n := e.(type) {
	case nil:
		return false
	case *parser.YieldExpression:
		return true
	case *parser.BlockExpression:
		return containsYieldSeq(n.Expressions)
	case *parser.MachineBlock:
		return containsYieldSeq(n.Expressions)
	case *parser.IfExpression:
		return containsYield(n.Condition) || containsYield(n.Consequence) || containsYield(n.Alternative)
	case *parser.RepeatExpression:
		return containsYield(n.Body)
	case *parser.WhileExpression:
		return containsYield(n.Condition) || containsYield(n.Body)
	case *parser.ForExpression:
		return containsYield(n.Seq) || containsYield(n.Body)
	case *parser.ReturnExpression:
		return containsYield(n.Value)
	case *parser.AssignExpression:
		return containsYield(n.Value)
	case *parser.CallExpression:
		if containsYield(n.Function) {
			return true
		}
		return containsYieldSeq(n.Arguments)
	case *parser.InfixExpression:
		return containsYield(n.Left) || containsYield(n.Right)
	case *parser.PrefixExpression:
		return containsYield(n.Right)
	}
	return false
}

func containsYieldSeq(exprs []parser.Expression) bool {
	for _, e := range exprs {
		if containsYield(e) {
			return true
		}
	}
	return false
}

// containsLoopControl reports whether e contains a break or next bound to
// the enclosing loop. Nested loops capture their own loop control, and
// function literals are opaque.
func containsLoopControl(e parser.Expression) bool {
	switch n := e.(type) {
	case nil:
		return false
	case *parser.BreakExpression, *parser.NextExpression:
		return true
	case *parser.BlockExpression:
		for _, x := range n.Expressions {
			if containsLoopControl(x) {
				return true
			}
		}
	case *parser.IfExpression:
		return containsLoopControl(n.Consequence) || containsLoopControl(n.Alternative)
	}
	return false
}

// --- Pre-compilation validation ---

// validate walks the body rejecting yields the compiler cannot lower: a
// yield in operand position (conditions, arguments, values) and a yield
// trapped inside a nested function definition. It also rejects loop control
// in operand position, which cannot be rewritten into a block transition.
func validate(body parser.Expression) errors.FloweryError {
	return validateSeq(asSequence(body))
}

func validateSeq(exprs []parser.Expression) errors.FloweryError {
	for _, e := range exprs {
		if err := validateStmt(e); err != nil {
			return err
		}
	}
	return nil
}

func validateStmt(e parser.Expression) errors.FloweryError {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.YieldExpression:
		return validateOperand(n.Value)
	case *parser.BlockExpression:
		return validateSeq(n.Expressions)
	case *parser.IfExpression:
		if err := validateOperand(n.Condition); err != nil {
			return err
		}
		if err := validateStmt(n.Consequence); err != nil {
			return err
		}
		return validateStmt(n.Alternative)
	case *parser.RepeatExpression:
		return validateStmt(n.Body)
	case *parser.WhileExpression:
		if err := validateOperand(n.Condition); err != nil {
			return err
		}
		return validateStmt(n.Body)
	case *parser.ForExpression:
		if err := validateOperand(n.Seq); err != nil {
			return err
		}
		return validateStmt(n.Body)
	case *parser.ReturnExpression:
		return validateOperand(n.Value)
	case *parser.AssignExpression:
		return validateOperand(n.Value)
	case *parser.BreakExpression, *parser.NextExpression:
		return nil
	default:
		return validateOperand(e)
	}
}

// validateOperand checks an expression evaluated for its value: no yield and
// no loop control may hide inside it.
func validateOperand(e parser.Expression) errors.FloweryError {
	if e == nil {
		return nil
	}
	if fn := findFunctionWithYield(e); fn != nil {
		return newCompileError(fn.Token, "yield inside a nested function cannot suspend the enclosing generator")
	}
	if y := findYield(e); y != nil {
		return newCompileError(y.Token, "yield is only allowed in statement position")
	}
	if lc := findLoopControl(e); lc != nil {
		return newCompileError(tokenOf(lc), "break/next cannot be used inside an expression")
	}
	return nil
}

// findYield returns the first yield in e outside nested functions, nil if
// none.
func findYield(e parser.Expression) *parser.YieldExpression {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.YieldExpression:
		return n
	case *parser.BlockExpression:
		for _, x := range n.Expressions {
			if y := findYield(x); y != nil {
				return y
			}
		}
	case *parser.IfExpression:
		for _, x := range []parser.Expression{n.Condition, n.Consequence, n.Alternative} {
			if y := findYield(x); y != nil {
				return y
			}
		}
	case *parser.RepeatExpression:
		return findYield(n.Body)
	case *parser.WhileExpression:
		for _, x := range []parser.Expression{n.Condition, n.Body} {
			if y := findYield(x); y != nil {
				return y
			}
		}
	case *parser.ForExpression:
		for _, x := range []parser.Expression{n.Seq, n.Body} {
			if y := findYield(x); y != nil {
				return y
			}
		}
	case *parser.ReturnExpression:
		return findYield(n.Value)
	case *parser.AssignExpression:
		return findYield(n.Value)
	case *parser.CallExpression:
		if y := findYield(n.Function); y != nil {
			return y
		}
		for _, a := range n.Arguments {
			if y := findYield(a); y != nil {
				return y
			}
		}
	case *parser.InfixExpression:
		if y := findYield(n.Left); y != nil {
			return y
		}
		return findYield(n.Right)
	case *parser.PrefixExpression:
		return findYield(n.Right)
	}
	return nil
}

// findFunctionWithYield returns the first nested function literal whose body
// contains a yield, nil if none.
func findFunctionWithYield(e parser.Expression) *parser.FunctionLiteral {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.FunctionLiteral:
		if findYield(n.Body) != nil || findFunctionWithYield(n.Body) != nil {
			return n
		}
	case *parser.BlockExpression:
		for _, x := range n.Expressions {
			if fn := findFunctionWithYield(x); fn != nil {
				return fn
			}
		}
	case *parser.IfExpression:
		for _, x := range []parser.Expression{n.Condition, n.Consequence, n.Alternative} {
			if fn := findFunctionWithYield(x); fn != nil {
				return fn
			}
		}
	case *parser.RepeatExpression:
		return findFunctionWithYield(n.Body)
	case *parser.WhileExpression:
		for _, x := range []parser.Expression{n.Condition, n.Body} {
			if fn := findFunctionWithYield(x); fn != nil {
				return fn
			}
		}
	case *parser.ForExpression:
		for _, x := range []parser.Expression{n.Seq, n.Body} {
			if fn := findFunctionWithYield(x); fn != nil {
				return fn
			}
		}
	case *parser.ReturnExpression:
		return findFunctionWithYield(n.Value)
	case *parser.AssignExpression:
		return findFunctionWithYield(n.Value)
	case *parser.CallExpression:
		if fn := findFunctionWithYield(n.Function); fn != nil {
			return fn
		}
		for _, a := range n.Arguments {
			if fn := findFunctionWithYield(a); fn != nil {
				return fn
			}
		}
	case *parser.InfixExpression:
		if fn := findFunctionWithYield(n.Left); fn != nil {
			return fn
		}
		return findFunctionWithYield(n.Right)
	case *parser.PrefixExpression:
		return findFunctionWithYield(n.Right)
	}
	return nil
}

// findLoopControl returns the first break/next in e that would bind outside
// it. Loops capture their own loop control; functions are opaque.
func findLoopControl(e parser.Expression) parser.Expression {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.BreakExpression, *parser.NextExpression:
		return e
	case *parser.BlockExpression:
		for _, x := range n.Expressions {
			if lc := findLoopControl(x); lc != nil {
				return lc
			}
		}
	case *parser.IfExpression:
		for _, x := range []parser.Expression{n.Consequence, n.Alternative} {
			if lc := findLoopControl(x); lc != nil {
				return lc
			}
		}
	case *parser.ReturnExpression:
		return findLoopControl(n.Value)
	case *parser.AssignExpression:
		return findLoopControl(n.Value)
	case *parser.CallExpression:
		for _, a := range n.Arguments {
			if lc := findLoopControl(a); lc != nil {
				return lc
			}
		}
	case *parser.InfixExpression:
		if lc := findLoopControl(n.Left); lc != nil {
			return lc
		}
		return findLoopControl(n.Right)
	case *parser.PrefixExpression:
		return findLoopControl(n.Right)
	}
	return nil
}
