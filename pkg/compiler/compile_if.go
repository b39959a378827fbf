package compiler

import (
	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/parser"
)

// translateIf lowers a conditional that suspends or steers a loop. The if
// that stays in the enclosing block is rewritten so that each arm is a small
// machine block ending in a goto; arms with real work behind them jump to
// freshly emitted blocks. The returned jumps are the arms' dangling exits,
// which the caller patches to the join point.
func (c *Compiler) translateIf(n *parser.IfExpression) ([]parser.Jump, errors.FloweryError) {
	var dangling []parser.Jump

	// Branches whose code cannot live inside the arm stub are compiled
	// after the enclosing block is sealed, in source order.
	type deferredBranch struct {
		entry *parser.GotoExpression
		exprs []parser.Expression
	}
	var deferred []deferredBranch

	buildArm := func(exprs []parser.Expression) (*parser.MachineBlock, errors.FloweryError) {
		// Missing or empty branch: fall straight through to the join.
		if len(exprs) == 0 {
			g := &parser.GotoExpression{State: parser.UnknownState}
			dangling = append(dangling, g)
			return &parser.MachineBlock{Expressions: []parser.Expression{g}}, nil
		}

		if !seqNeedsTranslation(exprs) {
			last := exprs[len(exprs)-1]
			if isExiting(last) {
				// Ends in a return already: give the code its own block so
				// the arm itself stays a plain goto.
				g := &parser.GotoExpression{State: parser.UnknownState}
				deferred = append(deferred, deferredBranch{entry: g, exprs: exprs})
				return &parser.MachineBlock{Expressions: []parser.Expression{g}}, nil
			}
			// Plain linear code: keep it inline in the arm, flowing to the
			// join.
			g := &parser.GotoExpression{State: parser.UnknownState}
			dangling = append(dangling, g)
			arm := append(append([]parser.Expression{}, exprs...), g)
			return &parser.MachineBlock{Expressions: arm}, nil
		}

		// A branch that only steers the enclosing loop needs no blocks of
		// its own: break and next are just gotos.
		if !containsYieldSeq(exprs) {
			prefix := exprs[:len(exprs)-1]
			if !seqNeedsTranslation(prefix) {
				switch exprs[len(exprs)-1].(type) {
				case *parser.BreakExpression:
					frame := c.currentLoopContext()
					if frame == nil {
						return nil, newCompileError(tokenOf(exprs[len(exprs)-1]), "break used outside of a loop")
					}
					g := &parser.GotoExpression{State: parser.UnknownState}
					frame.BreakJumps = append(frame.BreakJumps, g)
					arm := append(append([]parser.Expression{}, prefix...), g)
					return &parser.MachineBlock{Expressions: arm}, nil
				case *parser.NextExpression:
					frame := c.currentLoopContext()
					if frame == nil {
						return nil, newCompileError(tokenOf(exprs[len(exprs)-1]), "next used outside of a loop")
					}
					arm := append(append([]parser.Expression{}, prefix...),
						&parser.GotoExpression{State: frame.HeadState})
					return &parser.MachineBlock{Expressions: arm}, nil
				}
			}
		}

		// The branch suspends (or has structure of its own): compile it
		// into standalone blocks reached through the arm's goto.
		g := &parser.GotoExpression{State: parser.UnknownState}
		deferred = append(deferred, deferredBranch{entry: g, exprs: exprs})
		return &parser.MachineBlock{Expressions: []parser.Expression{g}}, nil
	}

	thenArm, err := buildArm(asSequence(n.Consequence))
	if err != nil {
		return nil, err
	}
	var elseExprs []parser.Expression
	if n.Alternative != nil {
		elseExprs = asSequence(n.Alternative)
	}
	elseArm, err := buildArm(elseExprs)
	if err != nil {
		return nil, err
	}

	c.past = append(c.past, &parser.IfExpression{
		Token:       n.Token,
		Condition:   n.Condition,
		Consequence: thenArm,
		Alternative: elseArm,
	})
	c.closeBlock()

	for _, br := range deferred {
		start := c.states.Poke()
		br.entry.SetTarget(start)
		c.openBlock(start)
		d, err := c.compileSequence(br.exprs, tail{kind: tailDangle})
		if err != nil {
			return nil, err
		}
		dangling = append(dangling, d...)
	}
	return dangling, nil
}
