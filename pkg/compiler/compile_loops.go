package compiler

import (
	"fmt"

	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/parser"
)

// translateRepeat lowers `repeat body`: the preceding linear code flows into
// a fresh loop-head block through an explicit transition, the compiled body
// cycles back to the head, and breaks exit to a block allocated after it.
// On return the exit block is the block in progress.
func (c *Compiler) translateRepeat(n *parser.RepeatExpression) errors.FloweryError {
	head := c.states.Poke()
	c.past = append(c.past, &parser.GotoExpression{State: head})
	c.closeBlock()
	c.openBlock(head)

	c.pushLoopContext(head)
	if _, err := c.compileSequence(asSequence(n.Body), tail{kind: tailGoto, target: head}); err != nil {
		return err
	}
	exit := c.states.Poke()
	c.patchBreaks(exit)
	c.popLoopContext()
	c.openBlock(exit)
	return nil
}

// translateWhile lowers `while (cond) body` as a conditional loop.
func (c *Compiler) translateWhile(n *parser.WhileExpression) errors.FloweryError {
	return c.lowerConditionalLoop(n.Condition, asSequence(n.Body), nil)
}

// translateFor lowers `for (var in seq) body` into a conditional loop over
// an explicit iterator held in a hidden variable. The hidden name carries
// the loop-nesting depth so nested fors never collide.
func (c *Compiler) translateFor(n *parser.ForExpression) errors.FloweryError {
	depth := len(c.loopContextStack) + 1
	iter := &parser.Identifier{Value: fmt.Sprintf("_for_iter_%d", depth)}

	c.past = append(c.past, &parser.AssignExpression{
		Name: iter,
		Value: &parser.CallExpression{
			Function:  &parser.Identifier{Value: "as_iterator"},
			Arguments: []parser.Expression{n.Seq},
		},
	})

	cond := &parser.CallExpression{
		Function:  &parser.Identifier{Value: "has_next"},
		Arguments: []parser.Expression{iter},
	}
	prologue := []parser.Expression{&parser.AssignExpression{
		Name: n.Var,
		Value: &parser.CallExpression{
			Function:  &parser.Identifier{Value: "iter_next"},
			Arguments: []parser.Expression{iter},
		},
	}}
	return c.lowerConditionalLoop(cond, asSequence(n.Body), prologue)
}

// lowerConditionalLoop emits the head/body/exit shape shared by while and
// for: a head block holding the condition test, body blocks cycling back to
// the head, and an exit block that the head's false arm and every break
// jump to. On return the exit block is the block in progress.
func (c *Compiler) lowerConditionalLoop(cond parser.Expression, body []parser.Expression, prologue []parser.Expression) errors.FloweryError {
	// The head must own its block: re-entering it must not re-run whatever
	// preceded the loop.
	if len(c.past) > 0 {
		head := c.states.Poke()
		c.past = append(c.past, &parser.GotoExpression{State: head})
		c.closeBlock()
		c.openBlock(head)
	}
	head := c.current

	c.pushLoopContext(head)
	frame := c.currentLoopContext()

	exitJump := &parser.GotoExpression{State: parser.UnknownState}
	frame.BreakJumps = append(frame.BreakJumps, exitJump)

	entry := &parser.GotoExpression{State: parser.UnknownState}
	c.past = append(c.past, &parser.IfExpression{
		Condition:   cond,
		Consequence: &parser.MachineBlock{Expressions: []parser.Expression{entry}},
		Alternative: &parser.MachineBlock{Expressions: []parser.Expression{exitJump}},
	})
	c.closeBlock()

	bodyStart := c.states.Poke()
	entry.SetTarget(bodyStart)
	c.openBlock(bodyStart)
	bodyExprs := append(append([]parser.Expression{}, prologue...), body...)
	if _, err := c.compileSequence(bodyExprs, tail{kind: tailGoto, target: head}); err != nil {
		return err
	}

	exit := c.states.Poke()
	c.patchBreaks(exit)
	c.popLoopContext()
	c.openBlock(exit)
	return nil
}
