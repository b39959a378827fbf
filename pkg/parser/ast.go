package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/dfalbel/flowery/pkg/lexer"
)

// --- Interfaces ---

// Node is the base interface for all AST nodes.
type Node interface {
	TokenLiteral() string // Returns the literal value of the token associated with the node
	String() string       // Returns a string representation of the node (for debugging)
}

// Expression represents an expression node in the AST. Everything in the
// surface language is an expression, including the control-flow forms.
type Expression interface {
	Node
	expressionNode() // Dummy method for distinguishing expression types
}

// Jump is implemented by the emitted machine forms that carry a block index:
// pauses and gotos. A freshly constructed jump holds the placeholder target
// UnknownState until the index of its destination block is known.
type Jump interface {
	Expression
	Target() int
	SetTarget(state int)
}

// UnknownState is the placeholder target a Jump holds until it is patched.
const UnknownState = -1

// --- Program Node ---

// Program is the root node produced by the parser: an ordered sequence of
// top-level expressions.
type Program struct {
	Expressions []Expression
}

func (p *Program) TokenLiteral() string {
	if len(p.Expressions) > 0 {
		return p.Expressions[0].TokenLiteral()
	}
	return ""
}

func (p *Program) String() string {
	var out bytes.Buffer
	for i, e := range p.Expressions {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(e.String())
	}
	return out.String()
}

// Body returns the program as a single block expression, the shape the
// compiler takes as input.
func (p *Program) Body() *BlockExpression {
	if len(p.Expressions) == 1 {
		if b, ok := p.Expressions[0].(*BlockExpression); ok {
			return b
		}
	}
	return &BlockExpression{Expressions: p.Expressions}
}

// --- Literals and identifiers ---

// Identifier represents a variable reference.
type Identifier struct {
	Token lexer.Token
	Value string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) String() string       { return i.Value }

// NumberLiteral represents a numeric literal.
type NumberLiteral struct {
	Token lexer.Token
	Value float64
}

func (n *NumberLiteral) expressionNode()      {}
func (n *NumberLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *NumberLiteral) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// StringLiteral represents a string literal.
type StringLiteral struct {
	Token lexer.Token
	Value string
}

func (s *StringLiteral) expressionNode()      {}
func (s *StringLiteral) TokenLiteral() string { return s.Token.Literal }
func (s *StringLiteral) String() string       { return strconv.Quote(s.Value) }

// BooleanLiteral represents TRUE or FALSE.
type BooleanLiteral struct {
	Token lexer.Token
	Value bool
}

func (b *BooleanLiteral) expressionNode()      {}
func (b *BooleanLiteral) TokenLiteral() string { return b.Token.Literal }
func (b *BooleanLiteral) String() string {
	if b.Value {
		return "TRUE"
	}
	return "FALSE"
}

// NullLiteral represents NULL.
type NullLiteral struct {
	Token lexer.Token
}

func (n *NullLiteral) expressionNode()      {}
func (n *NullLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *NullLiteral) String() string       { return "NULL" }

// --- Application forms ---

// CallExpression represents a generic application: head plus ordered
// argument list.
type CallExpression struct {
	Token     lexer.Token // The '(' token
	Function  Expression  // Usually an *Identifier
	Arguments []Expression
}

func (c *CallExpression) expressionNode()      {}
func (c *CallExpression) TokenLiteral() string { return c.Token.Literal }
func (c *CallExpression) String() string {
	args := make([]string, len(c.Arguments))
	for i, a := range c.Arguments {
		args[i] = a.String()
	}
	return c.Function.String() + "(" + strings.Join(args, ", ") + ")"
}

// PrefixExpression represents a unary operator application.
type PrefixExpression struct {
	Token    lexer.Token
	Operator string
	Right    Expression
}

func (p *PrefixExpression) expressionNode()      {}
func (p *PrefixExpression) TokenLiteral() string { return p.Token.Literal }
func (p *PrefixExpression) String() string {
	return "(" + p.Operator + p.Right.String() + ")"
}

// InfixExpression represents a binary operator application.
type InfixExpression struct {
	Token    lexer.Token
	Left     Expression
	Operator string
	Right    Expression
}

func (i *InfixExpression) expressionNode()      {}
func (i *InfixExpression) TokenLiteral() string { return i.Token.Literal }
func (i *InfixExpression) String() string {
	return "(" + i.Left.String() + " " + i.Operator + " " + i.Right.String() + ")"
}

// AssignExpression represents `name <- value`.
type AssignExpression struct {
	Token lexer.Token // The '<-' token
	Name  *Identifier
	Value Expression
}

func (a *AssignExpression) expressionNode()      {}
func (a *AssignExpression) TokenLiteral() string { return a.Token.Literal }
func (a *AssignExpression) String() string {
	return a.Name.String() + " <- " + a.Value.String()
}

// --- Structural forms ---

// BlockExpression represents `{ e1; e2; ... }`: sequential composition whose
// value is the value of the last expression.
type BlockExpression struct {
	Token       lexer.Token // The '{' token
	Expressions []Expression
}

func (b *BlockExpression) expressionNode()      {}
func (b *BlockExpression) TokenLiteral() string { return b.Token.Literal }
func (b *BlockExpression) String() string {
	parts := make([]string, len(b.Expressions))
	for i, e := range b.Expressions {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

// IfExpression represents `if (cond) cons else alt`. Alternative is nil when
// the source has no else branch.
type IfExpression struct {
	Token       lexer.Token
	Condition   Expression
	Consequence Expression
	Alternative Expression
}

func (i *IfExpression) expressionNode()      {}
func (i *IfExpression) TokenLiteral() string { return i.Token.Literal }
func (i *IfExpression) String() string {
	s := "if (" + i.Condition.String() + ") " + i.Consequence.String()
	if i.Alternative != nil {
		s += " else " + i.Alternative.String()
	}
	return s
}

// RepeatExpression represents the infinite loop `repeat body`.
type RepeatExpression struct {
	Token lexer.Token
	Body  Expression
}

func (r *RepeatExpression) expressionNode()      {}
func (r *RepeatExpression) TokenLiteral() string { return r.Token.Literal }
func (r *RepeatExpression) String() string       { return "repeat " + r.Body.String() }

// WhileExpression represents `while (cond) body`.
type WhileExpression struct {
	Token     lexer.Token
	Condition Expression
	Body      Expression
}

func (w *WhileExpression) expressionNode()      {}
func (w *WhileExpression) TokenLiteral() string { return w.Token.Literal }
func (w *WhileExpression) String() string {
	return "while (" + w.Condition.String() + ") " + w.Body.String()
}

// ForExpression represents `for (var in seq) body`.
type ForExpression struct {
	Token lexer.Token
	Var   *Identifier
	Seq   Expression
	Body  Expression
}

func (f *ForExpression) expressionNode()      {}
func (f *ForExpression) TokenLiteral() string { return f.Token.Literal }
func (f *ForExpression) String() string {
	return "for (" + f.Var.String() + " in " + f.Seq.String() + ") " + f.Body.String()
}

// BreakExpression represents the loop exit `break`.
type BreakExpression struct {
	Token lexer.Token
}

func (b *BreakExpression) expressionNode()      {}
func (b *BreakExpression) TokenLiteral() string { return b.Token.Literal }
func (b *BreakExpression) String() string       { return "break" }

// NextExpression represents the loop continue `next`.
type NextExpression struct {
	Token lexer.Token
}

func (n *NextExpression) expressionNode()      {}
func (n *NextExpression) TokenLiteral() string { return n.Token.Literal }
func (n *NextExpression) String() string       { return "next" }

// ReturnExpression represents `return(value)`. Value is nil for `return()`.
// Invisible marks the synthesized terminator the compiler appends to a block
// that falls off the end of the function without producing a value.
type ReturnExpression struct {
	Token     lexer.Token
	Value     Expression
	Invisible bool
}

func (r *ReturnExpression) expressionNode()      {}
func (r *ReturnExpression) TokenLiteral() string { return r.Token.Literal }
func (r *ReturnExpression) String() string {
	if r.Invisible {
		return "return(invisible)"
	}
	if r.Value == nil {
		return "return()"
	}
	return "return(" + r.Value.String() + ")"
}

// YieldExpression represents the user-surface suspension `yield(value)`.
// Value is nil for `yield()`.
type YieldExpression struct {
	Token lexer.Token
	Value Expression
}

func (y *YieldExpression) expressionNode()      {}
func (y *YieldExpression) TokenLiteral() string { return y.Token.Literal }
func (y *YieldExpression) String() string {
	if y.Value == nil {
		return "yield()"
	}
	return "yield(" + y.Value.String() + ")"
}

// FunctionLiteral represents `function(params) body`. The compiler treats a
// function literal as an opaque leaf; a yield inside one is a compile error.
type FunctionLiteral struct {
	Token      lexer.Token
	Parameters []*Identifier
	Body       Expression
}

func (f *FunctionLiteral) expressionNode()      {}
func (f *FunctionLiteral) TokenLiteral() string { return f.Token.Literal }
func (f *FunctionLiteral) String() string {
	params := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		params[i] = p.String()
	}
	return "function(" + strings.Join(params, ", ") + ") " + f.Body.String()
}

// --- Emitted machine forms ---
// These nodes never come out of the parser; the compiler synthesizes them.

// PauseExpression is the emitted form of a yield: suspend the machine, emit
// Value, resume at block State.
type PauseExpression struct {
	State int
	Value Expression
}

func (p *PauseExpression) expressionNode()      {}
func (p *PauseExpression) TokenLiteral() string { return "pause" }
func (p *PauseExpression) Target() int          { return p.State }
func (p *PauseExpression) SetTarget(state int)  { p.State = state }
func (p *PauseExpression) String() string {
	if p.Value == nil {
		return "pause(" + strconv.Itoa(p.State) + ")"
	}
	return "pause(" + strconv.Itoa(p.State) + ", " + p.Value.String() + ")"
}

// GotoExpression is an unconditional transition to block State.
type GotoExpression struct {
	State int
}

func (g *GotoExpression) expressionNode()      {}
func (g *GotoExpression) TokenLiteral() string { return "goto" }
func (g *GotoExpression) Target() int          { return g.State }
func (g *GotoExpression) SetTarget(state int)  { g.State = state }
func (g *GotoExpression) String() string {
	return "goto(" + strconv.Itoa(g.State) + ")"
}

// MachineBlock is an emitted basic block: a straight-line expression sequence
// ending in exactly one control-flow terminator.
type MachineBlock struct {
	Expressions []Expression
}

func (m *MachineBlock) expressionNode()      {}
func (m *MachineBlock) TokenLiteral() string { return "" }
func (m *MachineBlock) String() string {
	parts := make([]string, len(m.Expressions))
	for i, e := range m.Expressions {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, "; ") + "}"
}
