package compiler

import (
	"fmt"
	"testing"

	"github.com/dfalbel/flowery/pkg/parser"

	"github.com/google/go-cmp/cmp"
)

// The compiler's contract is behavioral as well as structural: driving the
// emitted machine must produce the same yields and terminal value as
// evaluating the original body with cooperative suspension at each yield.
// The evaluator and machine below exist only to check that contract.

// ctlKind tracks non-local control arising while evaluating leaf code.
type ctlKind int

const (
	ctlNone ctlKind = iota
	ctlBreak
	ctlNext
	ctlReturn
)

// testIterator backs as_iterator/has_next/iter_next.
type testIterator struct {
	items []any
	pos   int
}

// evaluator runs leaf expressions against a flat environment. The reference
// interpreter passes a sink to collect yields; the machine passes none, as
// compiled leaves never contain a yield.
type evaluator struct {
	env  map[string]any
	sink *[]any
}

func (ev *evaluator) eval(e parser.Expression) (any, ctlKind, error) {
	switch n := e.(type) {
	case nil:
		return nil, ctlNone, nil
	case *parser.NumberLiteral:
		return n.Value, ctlNone, nil
	case *parser.StringLiteral:
		return n.Value, ctlNone, nil
	case *parser.BooleanLiteral:
		return n.Value, ctlNone, nil
	case *parser.NullLiteral:
		return nil, ctlNone, nil
	case *parser.Identifier:
		v, ok := ev.env[n.Value]
		if !ok {
			return nil, ctlNone, fmt.Errorf("object %q not found", n.Value)
		}
		return v, ctlNone, nil
	case *parser.AssignExpression:
		v, ctl, err := ev.eval(n.Value)
		if err != nil || ctl != ctlNone {
			return v, ctl, err
		}
		ev.env[n.Name.Value] = v
		return v, ctlNone, nil
	case *parser.BlockExpression:
		var last any
		for _, x := range n.Expressions {
			v, ctl, err := ev.eval(x)
			if err != nil || ctl != ctlNone {
				return v, ctl, err
			}
			last = v
		}
		return last, ctlNone, nil
	case *parser.IfExpression:
		cond, err := ev.evalCondition(n.Condition)
		if err != nil {
			return nil, ctlNone, err
		}
		if cond {
			return ev.eval(n.Consequence)
		}
		if n.Alternative != nil {
			return ev.eval(n.Alternative)
		}
		return nil, ctlNone, nil
	case *parser.RepeatExpression:
		for {
			v, ctl, err := ev.eval(n.Body)
			if err != nil {
				return nil, ctlNone, err
			}
			if ctl == ctlBreak {
				return nil, ctlNone, nil
			}
			if ctl == ctlReturn {
				return v, ctlReturn, nil
			}
		}
	case *parser.WhileExpression:
		for {
			cond, err := ev.evalCondition(n.Condition)
			if err != nil {
				return nil, ctlNone, err
			}
			if !cond {
				return nil, ctlNone, nil
			}
			v, ctl, err := ev.eval(n.Body)
			if err != nil {
				return nil, ctlNone, err
			}
			if ctl == ctlBreak {
				return nil, ctlNone, nil
			}
			if ctl == ctlReturn {
				return v, ctlReturn, nil
			}
		}
	case *parser.ForExpression:
		seq, ctl, err := ev.eval(n.Seq)
		if err != nil || ctl != ctlNone {
			return seq, ctl, err
		}
		it := asIterator(seq)
		for it.hasNext() {
			ev.env[n.Var.Value] = it.next()
			v, ctl, err := ev.eval(n.Body)
			if err != nil {
				return nil, ctlNone, err
			}
			if ctl == ctlBreak {
				break
			}
			if ctl == ctlReturn {
				return v, ctlReturn, nil
			}
		}
		return nil, ctlNone, nil
	case *parser.BreakExpression:
		return nil, ctlBreak, nil
	case *parser.NextExpression:
		return nil, ctlNext, nil
	case *parser.ReturnExpression:
		if n.Invisible || n.Value == nil {
			return nil, ctlReturn, nil
		}
		v, ctl, err := ev.eval(n.Value)
		if err != nil || ctl != ctlNone {
			return v, ctl, err
		}
		return v, ctlReturn, nil
	case *parser.YieldExpression:
		if ev.sink == nil {
			return nil, ctlNone, fmt.Errorf("yield reached the evaluator in compiled code")
		}
		v, ctl, err := ev.eval(n.Value)
		if err != nil || ctl != ctlNone {
			return v, ctl, err
		}
		*ev.sink = append(*ev.sink, v)
		return nil, ctlNone, nil
	case *parser.CallExpression:
		return ev.evalCall(n)
	case *parser.InfixExpression:
		return ev.evalInfix(n)
	case *parser.PrefixExpression:
		v, ctl, err := ev.eval(n.Right)
		if err != nil || ctl != ctlNone {
			return v, ctl, err
		}
		switch n.Operator {
		case "!":
			b, ok := v.(bool)
			if !ok {
				return nil, ctlNone, fmt.Errorf("argument to ! is not logical")
			}
			return !b, ctlNone, nil
		case "-":
			f, ok := v.(float64)
			if !ok {
				return nil, ctlNone, fmt.Errorf("invalid argument to unary minus")
			}
			return -f, ctlNone, nil
		}
		return nil, ctlNone, fmt.Errorf("unknown operator %q", n.Operator)
	}
	return nil, ctlNone, fmt.Errorf("cannot evaluate %T", e)
}

func (ev *evaluator) evalCondition(e parser.Expression) (bool, error) {
	v, _, err := ev.eval(e)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition is not TRUE or FALSE: %v", v)
	}
	return b, nil
}

func (ev *evaluator) evalCall(n *parser.CallExpression) (any, ctlKind, error) {
	name, ok := n.Function.(*parser.Identifier)
	if !ok {
		return nil, ctlNone, fmt.Errorf("cannot call %s", n.Function.String())
	}
	args := make([]any, len(n.Arguments))
	for i, a := range n.Arguments {
		v, ctl, err := ev.eval(a)
		if err != nil || ctl != ctlNone {
			return v, ctl, err
		}
		args[i] = v
	}
	switch name.Value {
	case "c":
		var out []any
		for _, a := range args {
			if vs, ok := a.([]any); ok {
				out = append(out, vs...)
			} else {
				out = append(out, a)
			}
		}
		return out, ctlNone, nil
	case "as_iterator":
		if len(args) != 1 {
			return nil, ctlNone, fmt.Errorf("as_iterator expects one argument")
		}
		return asIterator(args[0]), ctlNone, nil
	case "has_next":
		it, ok := args[0].(*testIterator)
		if !ok {
			return nil, ctlNone, fmt.Errorf("has_next expects an iterator")
		}
		return it.hasNext(), ctlNone, nil
	case "iter_next":
		it, ok := args[0].(*testIterator)
		if !ok {
			return nil, ctlNone, fmt.Errorf("iter_next expects an iterator")
		}
		return it.next(), ctlNone, nil
	}
	return nil, ctlNone, fmt.Errorf("could not find function %q", name.Value)
}

func (ev *evaluator) evalInfix(n *parser.InfixExpression) (any, ctlKind, error) {
	left, ctl, err := ev.eval(n.Left)
	if err != nil || ctl != ctlNone {
		return left, ctl, err
	}
	// && and || short-circuit.
	if n.Operator == "&&" || n.Operator == "||" {
		lb, ok := left.(bool)
		if !ok {
			return nil, ctlNone, fmt.Errorf("invalid logical operand")
		}
		if n.Operator == "&&" && !lb {
			return false, ctlNone, nil
		}
		if n.Operator == "||" && lb {
			return true, ctlNone, nil
		}
		right, ctl, err := ev.eval(n.Right)
		if err != nil || ctl != ctlNone {
			return right, ctl, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, ctlNone, fmt.Errorf("invalid logical operand")
		}
		return rb, ctlNone, nil
	}

	right, ctl, err := ev.eval(n.Right)
	if err != nil || ctl != ctlNone {
		return right, ctl, err
	}
	switch n.Operator {
	case "==":
		return left == right, ctlNone, nil
	case "!=":
		return left != right, ctlNone, nil
	}
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, ctlNone, fmt.Errorf("non-numeric argument to %q", n.Operator)
	}
	switch n.Operator {
	case "+":
		return lf + rf, ctlNone, nil
	case "-":
		return lf - rf, ctlNone, nil
	case "*":
		return lf * rf, ctlNone, nil
	case "/":
		return lf / rf, ctlNone, nil
	case "<":
		return lf < rf, ctlNone, nil
	case ">":
		return lf > rf, ctlNone, nil
	case "<=":
		return lf <= rf, ctlNone, nil
	case ">=":
		return lf >= rf, ctlNone, nil
	}
	return nil, ctlNone, fmt.Errorf("unknown operator %q", n.Operator)
}

func asIterator(v any) *testIterator {
	switch s := v.(type) {
	case nil:
		return &testIterator{}
	case *testIterator:
		return s
	case []any:
		return &testIterator{items: s}
	default:
		return &testIterator{items: []any{v}}
	}
}

func (it *testIterator) hasNext() bool { return it.pos < len(it.items) }
func (it *testIterator) next() any {
	v := it.items[it.pos]
	it.pos++
	return v
}

// --- Block machine ---

type outcomeKind int

const (
	outGoto outcomeKind = iota
	outPause
	outReturn
)

type outcome struct {
	kind  outcomeKind
	state int
	value any
}

// machine steps compiled blocks the way the runtime contract prescribes: a
// program counter starting at block 1, one flat frame of variables, and the
// terminator of each block deciding what happens next.
type machine struct {
	blocks []*parser.MachineBlock
	ev     *evaluator
	pc     int
	done   bool
	result any
}

func newMachine(blocks []*parser.MachineBlock, env map[string]any) *machine {
	return &machine{blocks: blocks, ev: &evaluator{env: env}, pc: 1}
}

// resume runs until the next pause or the final return. It reports whether
// a value was yielded; reentry after exhaustion is an error.
func (m *machine) resume() (any, bool, error) {
	if m.done {
		return nil, false, fmt.Errorf("generator is exhausted")
	}
	for {
		if m.pc < 1 || m.pc > len(m.blocks) {
			m.done = true
			return nil, false, fmt.Errorf("program counter %d out of range", m.pc)
		}
		out, err := m.execBlock(m.blocks[m.pc-1].Expressions)
		if err != nil {
			m.done = true
			return nil, false, err
		}
		switch out.kind {
		case outPause:
			m.pc = out.state
			return out.value, true, nil
		case outGoto:
			m.pc = out.state
		case outReturn:
			m.done = true
			m.result = out.value
			return nil, false, nil
		}
	}
}

func (m *machine) execBlock(exprs []parser.Expression) (outcome, error) {
	for _, e := range exprs {
		switch n := e.(type) {
		case *parser.PauseExpression:
			v, _, err := m.ev.eval(n.Value)
			if err != nil {
				return outcome{}, err
			}
			return outcome{kind: outPause, state: n.State, value: v}, nil
		case *parser.GotoExpression:
			return outcome{kind: outGoto, state: n.State}, nil
		case *parser.ReturnExpression:
			var v any
			if !n.Invisible && n.Value != nil {
				val, ctl, err := m.ev.eval(n.Value)
				if err != nil {
					return outcome{}, err
				}
				if ctl == ctlReturn {
					// A leaf if wrapped in the terminator returned early.
					return outcome{kind: outReturn, value: val}, nil
				}
				v = val
			}
			return outcome{kind: outReturn, value: v}, nil
		case *parser.IfExpression:
			cons, consIsBlock := n.Consequence.(*parser.MachineBlock)
			if consIsBlock {
				// Terminal if: both arms are machine blocks ending in
				// transitions.
				cond, err := m.ev.evalCondition(n.Condition)
				if err != nil {
					return outcome{}, err
				}
				if cond {
					return m.execBlock(cons.Expressions)
				}
				alt := n.Alternative.(*parser.MachineBlock)
				return m.execBlock(alt.Expressions)
			}
			if out, done, err := m.evalLeaf(e); err != nil || done {
				return out, err
			}
		default:
			if out, done, err := m.evalLeaf(e); err != nil || done {
				return out, err
			}
		}
	}
	return outcome{}, fmt.Errorf("block fell through without a terminator")
}

// evalLeaf evaluates a non-terminator instruction. A return escaping a leaf
// (for example inside a preserved leaf if) ends the machine.
func (m *machine) evalLeaf(e parser.Expression) (outcome, bool, error) {
	v, ctl, err := m.ev.eval(e)
	if err != nil {
		return outcome{}, false, err
	}
	switch ctl {
	case ctlNone:
		return outcome{}, false, nil
	case ctlReturn:
		return outcome{kind: outReturn, value: v}, true, nil
	default:
		return outcome{}, false, fmt.Errorf("loop control escaped a leaf expression")
	}
}

// --- Round-trip harness ---

func refRun(t *testing.T, body parser.Expression) ([]any, any) {
	t.Helper()
	sink := []any{}
	ev := &evaluator{env: map[string]any{}, sink: &sink}
	v, ctl, err := ev.eval(body)
	if err != nil {
		t.Fatalf("reference evaluation failed: %v", err)
	}
	_ = ctl
	return sink, v
}

func driveMachine(t *testing.T, blocks []*parser.MachineBlock) ([]any, any) {
	t.Helper()
	m := newMachine(blocks, map[string]any{})
	yields := []any{}
	for {
		v, ok, err := m.resume()
		if err != nil {
			t.Fatalf("machine failed: %v", err)
		}
		if !ok {
			return yields, m.result
		}
		yields = append(yields, v)
	}
}

func TestRoundTripSemantics(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"counting while", "x <- 0\nwhile (x < 3) {\n  yield(x)\n  x <- x + 1\n}\nx"},
		{"for over vector", "for (i in c(1, 2, 3)) yield(i * 10)"},
		{"repeat with conditional break", "n <- 0\nrepeat {\n  if (n > 2) break\n  yield(n)\n  n <- n + 1\n}"},
		{"branching yields", "if (TRUE) yield(1) else yield(2)\nyield(3)\n\"done\""},
		{"early return", "yield(1)\nreturn(42)\nyield(9)"},
		{"leaf for then yield", "s <- 0\nfor (i in c(1, 2, 3)) s <- s + i\nyield(s)\ns"},
		{"next skips iterations", "for (i in c(1, 2)) { if (i > 1) next; yield(i) }"},
		{"nested fors", "for (i in c(1, 2)) for (j in c(10, 20)) yield(i + j)"},
		{"while true with break", "x <- 0\nwhile (TRUE) { if (x > 1) break; yield(x); x <- x + 1 }"},
		{"loop-control repeat then yield", "n <- 0\nrepeat { if (n > 0) break else n <- n + 1 }\nyield(n)"},
		{"no yields at all", "a <- 2\nb <- 3\na * b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantYields, wantResult := refRun(t, parseBody(t, tt.src))
			blocks := compileBody(t, tt.src)
			gotYields, gotResult := driveMachine(t, blocks)

			if diff := cmp.Diff(wantYields, gotYields); diff != "" {
				t.Errorf("yield sequence mismatch (-ref +machine):\n%s", diff)
			}
			if diff := cmp.Diff(wantResult, gotResult); diff != "" {
				t.Errorf("terminal value mismatch (-ref +machine):\n%s", diff)
			}
		})
	}
}

func TestMachineReentryAfterExhaustion(t *testing.T) {
	blocks := compileBody(t, "yield(1)")
	m := newMachine(blocks, map[string]any{})

	if _, ok, err := m.resume(); err != nil || !ok {
		t.Fatalf("expected one yield, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := m.resume(); err != nil || ok {
		t.Fatalf("expected clean finish, got ok=%v err=%v", ok, err)
	}
	if _, _, err := m.resume(); err == nil {
		t.Fatal("expected an error reentering an exhausted generator")
	}
}
