package compiler

import (
	"fmt"

	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/parser"
)

// tailKind describes what happens when control runs off the end of a
// compiled sequence.
type tailKind int

const (
	// tailReturn: the sequence is the function body; falling off the end
	// returns the last value (or the invisible return).
	tailReturn tailKind = iota
	// tailGoto: the sequence is a loop body; falling off the end jumps back
	// to the loop head.
	tailGoto
	// tailDangle: the sequence is a branch; jumps that fall off the end are
	// returned to the caller to be patched to the join point.
	tailDangle
)

type tail struct {
	kind   tailKind
	target int // head state for tailGoto
}

// compileSequence walks a statement sequence and splits it into machine
// blocks at every suspension point. It starts inside the block currently
// being assembled and leaves every produced block sealed, except that loop
// translators leave the loop-exit block open for the code that follows.
//
// The returned jumps are the sequence's dangling exits: pauses and gotos
// whose destination is whatever state comes after the sequence. The result
// is empty unless t.kind is tailDangle.
func (c *Compiler) compileSequence(exprs []parser.Expression, t tail) ([]parser.Jump, errors.FloweryError) {
	var dangling []parser.Jump

	i := 0
	for i < len(exprs) {
		e := exprs[i]

		// Nested sequences that contain suspensions or loop control are
		// spliced into this one; already-compiled machine blocks always
		// splice, which makes recompilation a no-op.
		switch n := e.(type) {
		case *parser.BlockExpression:
			if seqNeedsTranslation(n.Expressions) {
				exprs = splice(exprs, i, n.Expressions)
				continue
			}
		case *parser.MachineBlock:
			exprs = splice(exprs, i, n.Expressions)
			continue
		}

		last := i == len(exprs)-1

		if !needsTranslation(e) {
			c.past = append(c.past, e)
			if isExiting(e) && !last {
				// A return (or recompiled pause/goto) seals the block; the
				// rest of the sequence gets a block of its own even when it
				// is unreachable, to keep emission deterministic.
				c.closeBlock()
				c.openBlock(c.states.Poke())
			}
			i++
			continue
		}

		var d []parser.Jump
		var opened bool
		var err errors.FloweryError
		switch n := e.(type) {
		case *parser.YieldExpression:
			p := &parser.PauseExpression{State: parser.UnknownState, Value: n.Value}
			c.past = append(c.past, p)
			c.closeBlock()
			d = []parser.Jump{p}
		case *parser.BreakExpression:
			frame := c.currentLoopContext()
			if frame == nil {
				return nil, newCompileError(n.Token, "break used outside of a loop")
			}
			g := &parser.GotoExpression{State: parser.UnknownState}
			frame.BreakJumps = append(frame.BreakJumps, g)
			c.past = append(c.past, g)
			c.closeBlock()
		case *parser.NextExpression:
			frame := c.currentLoopContext()
			if frame == nil {
				return nil, newCompileError(n.Token, "next used outside of a loop")
			}
			c.past = append(c.past, &parser.GotoExpression{State: frame.HeadState})
			c.closeBlock()
		case *parser.IfExpression:
			d, err = c.translateIf(n)
		case *parser.RepeatExpression:
			err = c.translateRepeat(n)
			opened = err == nil
		case *parser.WhileExpression:
			err = c.translateWhile(n)
			opened = err == nil
		case *parser.ForExpression:
			err = c.translateFor(n)
			opened = err == nil
		default:
			err = newCompileError(tokenOf(e), fmt.Sprintf("cannot lower %T", e))
		}
		if err != nil {
			return nil, err
		}

		if opened {
			// The translator already opened the block the rest of the
			// sequence continues in.
			i++
			continue
		}

		if !last {
			// The dangling jumps resume wherever the rest of the sequence
			// lands: allocate that state now and patch them to it.
			for _, j := range d {
				c.states.Push(j)
			}
			next := c.states.Poke()
			c.states.PatchPending(next)
			c.openBlock(next)
		} else {
			dangling = d
		}
		i++
	}

	return c.finishSequence(t, dangling)
}

// finishSequence seals whatever the sequence left open and resolves its
// dangling jumps according to the tail regime.
func (c *Compiler) finishSequence(t tail, dangling []parser.Jump) ([]parser.Jump, errors.FloweryError) {
	if c.open {
		switch t.kind {
		case tailReturn:
			c.closeWithReturn()
		case tailGoto:
			if len(c.past) == 0 || !isExiting(c.past[len(c.past)-1]) {
				c.past = append(c.past, &parser.GotoExpression{State: t.target})
			}
			c.closeBlock()
		case tailDangle:
			if len(c.past) == 0 || !isExiting(c.past[len(c.past)-1]) {
				g := &parser.GotoExpression{State: parser.UnknownState}
				c.past = append(c.past, g)
				dangling = append(dangling, g)
			}
			c.closeBlock()
		}
	}

	switch t.kind {
	case tailGoto:
		for _, j := range dangling {
			j.SetTarget(t.target)
		}
		return nil, nil
	case tailDangle:
		return dangling, nil
	default: // tailReturn
		if len(dangling) > 0 {
			// The body ended on a suspension; resuming it lands in the
			// final, invisibly-returning block.
			for _, j := range dangling {
				c.states.Push(j)
			}
			final := c.states.Poke()
			c.states.PatchPending(final)
			c.openBlock(final)
			c.closeWithReturn()
		}
		return nil, nil
	}
}

// closeWithReturn seals the open block the way a function body ends: the
// last value-producing expression becomes the return value, otherwise the
// invisible return sentinel is appended.
func (c *Compiler) closeWithReturn() {
	if len(c.past) == 0 {
		c.past = append(c.past, &parser.ReturnExpression{Invisible: true})
		c.closeBlock()
		return
	}
	last := c.past[len(c.past)-1]
	if isExiting(last) {
		c.closeBlock()
		return
	}
	switch last.(type) {
	case *parser.RepeatExpression, *parser.WhileExpression, *parser.ForExpression:
		// Leaf loops produce no value; run them, then return invisibly.
		c.past = append(c.past, &parser.ReturnExpression{Invisible: true})
	default:
		c.past[len(c.past)-1] = &parser.ReturnExpression{Value: last}
	}
	c.closeBlock()
}

// splice replaces exprs[i] with the given replacement slice.
func splice(exprs []parser.Expression, i int, repl []parser.Expression) []parser.Expression {
	out := make([]parser.Expression, 0, len(exprs)+len(repl)-1)
	out = append(out, exprs[:i]...)
	out = append(out, repl...)
	out = append(out, exprs[i+1:]...)
	return out
}
