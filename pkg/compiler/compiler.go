package compiler

import (
	"fmt"

	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/lexer"
	"github.com/dfalbel/flowery/pkg/parser"
)

const debugCompiler = false // Set to true to trace block emission

func debugPrintf(format string, args ...interface{}) {
	if debugCompiler {
		fmt.Printf(format, args...)
	}
}

// LoopContext tracks the innermost enclosing loop while its body compiles:
// the head state a `next` jumps back to, and the break jumps that must be
// patched to the loop-exit state once it is allocated.
type LoopContext struct {
	HeadState  int
	BreakJumps []parser.Jump
}

// Compiler lowers a generator body into a flat list of numbered machine
// blocks. A Compiler value is good for one compilation; it is not shared.
type Compiler struct {
	states           *stateTable
	blocks           []*parser.MachineBlock
	loopContextStack []*LoopContext

	// Block in progress: expressions already consumed (the "past"), and the
	// index the block will occupy once sealed.
	past    []parser.Expression
	current int
	open    bool
}

// New creates a compiler ready to compile one body.
func New() *Compiler {
	return &Compiler{
		states:           newStateTable(),
		loopContextStack: make([]*LoopContext, 0),
	}
}

// Compile lowers a generator body into its machine blocks. This is the
// package-level convenience around New().Compile(body).
func Compile(body parser.Expression) ([]*parser.MachineBlock, errors.FloweryError) {
	return New().Compile(body)
}

// Compile runs the full pipeline: validate yield placement, compile the body
// as a sequence, then check the emitted blocks for structural consistency.
// The returned block list is dense: block i lives at index i-1.
func (c *Compiler) Compile(body parser.Expression) ([]*parser.MachineBlock, errors.FloweryError) {
	if err := validate(body); err != nil {
		return nil, err
	}

	c.states = newStateTable()
	c.blocks = nil
	c.loopContextStack = c.loopContextStack[:0]
	c.openBlock(1)

	if _, err := c.compileSequence(asSequence(body), tail{kind: tailReturn}); err != nil {
		return nil, err
	}

	if c.states.HasPending() {
		return nil, internalError("compilation finished with unpatched jumps")
	}
	if err := c.verify(); err != nil {
		return nil, err
	}
	return c.blocks, nil
}

// --- Loop context stack ---

// pushLoopContext adds a new loop context to the stack.
func (c *Compiler) pushLoopContext(headState int) {
	c.loopContextStack = append(c.loopContextStack, &LoopContext{
		HeadState:  headState,
		BreakJumps: make([]parser.Jump, 0),
	})
}

// popLoopContext removes the current loop context from the stack.
func (c *Compiler) popLoopContext() {
	if len(c.loopContextStack) > 0 {
		c.loopContextStack = c.loopContextStack[:len(c.loopContextStack)-1]
	}
}

// currentLoopContext returns the loop context at the top of the stack, or
// nil if no loop is being compiled.
func (c *Compiler) currentLoopContext() *LoopContext {
	if len(c.loopContextStack) == 0 {
		return nil
	}
	return c.loopContextStack[len(c.loopContextStack)-1]
}

// patchBreaks points every break jump of the current loop at the loop-exit
// state.
func (c *Compiler) patchBreaks(exit int) {
	frame := c.currentLoopContext()
	for _, j := range frame.BreakJumps {
		j.SetTarget(exit)
	}
}

// --- Block assembly ---

// openBlock starts assembling the block at index idx.
func (c *Compiler) openBlock(idx int) {
	c.current = idx
	c.past = nil
	c.open = true
}

// closeBlock seals the block in progress and appends it to the output.
// Blocks are sealed in index order, so position in the list and allocated
// index always agree.
func (c *Compiler) closeBlock() {
	debugPrintf("[compiler] close block %d: %d exprs\n", c.current, len(c.past))
	c.blocks = append(c.blocks, &parser.MachineBlock{Expressions: c.past})
	c.past = nil
	c.open = false
}

// --- Structural checks on the output ---

// verify checks the emitted blocks against the machine's structural rules:
// dense indexing, a terminator as the last expression of every block, and
// in-range jump targets.
func (c *Compiler) verify() errors.FloweryError {
	k := len(c.blocks)
	if k != c.states.Peek() {
		return internalError(fmt.Sprintf("allocated %d states but emitted %d blocks", c.states.Peek(), k))
	}
	for i, b := range c.blocks {
		if len(b.Expressions) == 0 {
			return internalError(fmt.Sprintf("block %d is empty", i+1))
		}
		if !isTerminator(b.Expressions[len(b.Expressions)-1]) {
			return internalError(fmt.Sprintf("block %d does not end in a terminator", i+1))
		}
		for _, j := range collectJumps(b) {
			if j.Target() < 1 || j.Target() > k {
				return internalError(fmt.Sprintf("block %d jumps to state %d, out of range 1..%d", i+1, j.Target(), k))
			}
		}
	}
	return nil
}

// isTerminator reports whether an expression may legally end a machine
// block: a return, pause, goto, or an if whose arms are machine blocks that
// themselves end in terminators.
func isTerminator(e parser.Expression) bool {
	switch n := e.(type) {
	case *parser.ReturnExpression, *parser.PauseExpression, *parser.GotoExpression:
		return true
	case *parser.IfExpression:
		cons, okc := n.Consequence.(*parser.MachineBlock)
		alt, oka := n.Alternative.(*parser.MachineBlock)
		if !okc || !oka || len(cons.Expressions) == 0 || len(alt.Expressions) == 0 {
			return false
		}
		return isTerminator(cons.Expressions[len(cons.Expressions)-1]) &&
			isTerminator(alt.Expressions[len(alt.Expressions)-1])
	}
	return false
}

// collectJumps gathers every pause and goto reachable in an emitted block,
// including those inside terminal-if arms.
func collectJumps(e parser.Expression) []parser.Jump {
	var jumps []parser.Jump
	switch n := e.(type) {
	case *parser.PauseExpression:
		jumps = append(jumps, n)
	case *parser.GotoExpression:
		jumps = append(jumps, n)
	case *parser.IfExpression:
		jumps = append(jumps, collectJumps(n.Consequence)...)
		if n.Alternative != nil {
			jumps = append(jumps, collectJumps(n.Alternative)...)
		}
	case *parser.MachineBlock:
		for _, x := range n.Expressions {
			jumps = append(jumps, collectJumps(x)...)
		}
	}
	return jumps
}

// --- Shared helpers ---

// asSequence flattens an expression into the statement list it stands for.
func asSequence(e parser.Expression) []parser.Expression {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.BlockExpression:
		return n.Expressions
	case *parser.MachineBlock:
		return n.Expressions
	default:
		return []parser.Expression{e}
	}
}

// isExiting reports whether an expression already terminates control flow: a
// direct return, pause, or goto, an if both of whose branches exit, or a
// block whose last expression exits.
func isExiting(e parser.Expression) bool {
	switch n := e.(type) {
	case *parser.ReturnExpression, *parser.PauseExpression, *parser.GotoExpression:
		return true
	case *parser.IfExpression:
		return n.Alternative != nil && isExiting(n.Consequence) && isExiting(n.Alternative)
	case *parser.BlockExpression:
		if len(n.Expressions) == 0 {
			return false
		}
		return isExiting(n.Expressions[len(n.Expressions)-1])
	case *parser.MachineBlock:
		if len(n.Expressions) == 0 {
			return false
		}
		return isExiting(n.Expressions[len(n.Expressions)-1])
	}
	return false
}

// tokenOf extracts the source token from a parsed node, for error positions.
// Synthesized machine forms have none.
func tokenOf(e parser.Expression) lexer.Token {
	switch n := e.(type) {
	case *parser.Identifier:
		return n.Token
	case *parser.NumberLiteral:
		return n.Token
	case *parser.StringLiteral:
		return n.Token
	case *parser.BooleanLiteral:
		return n.Token
	case *parser.NullLiteral:
		return n.Token
	case *parser.CallExpression:
		return n.Token
	case *parser.PrefixExpression:
		return n.Token
	case *parser.InfixExpression:
		return n.Token
	case *parser.AssignExpression:
		return n.Token
	case *parser.BlockExpression:
		return n.Token
	case *parser.IfExpression:
		return n.Token
	case *parser.RepeatExpression:
		return n.Token
	case *parser.WhileExpression:
		return n.Token
	case *parser.ForExpression:
		return n.Token
	case *parser.BreakExpression:
		return n.Token
	case *parser.NextExpression:
		return n.Token
	case *parser.ReturnExpression:
		return n.Token
	case *parser.YieldExpression:
		return n.Token
	case *parser.FunctionLiteral:
		return n.Token
	}
	return lexer.Token{}
}

func newCompileError(tok lexer.Token, msg string) *errors.CompileError {
	return &errors.CompileError{
		Position: errors.Position{
			Line:     tok.Line,
			Column:   tok.Column,
			StartPos: tok.StartPos,
			EndPos:   tok.EndPos,
		},
		Msg: msg,
	}
}

func internalError(msg string) *errors.CompileError {
	return &errors.CompileError{Msg: "internal: " + msg}
}
