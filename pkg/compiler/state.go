package compiler

import (
	"github.com/dfalbel/flowery/pkg/parser"
)

// stateTable is the monotonically growing registry of block indices for one
// compilation, plus the queues of jumps whose destination is not yet
// allocated. Every allocated index maps to exactly one emitted block.
type stateTable struct {
	counter       int
	pendingPauses []*parser.PauseExpression
	pendingGotos  []*parser.GotoExpression
}

func newStateTable() *stateTable {
	return &stateTable{counter: 1}
}

// Peek returns the highest allocated block index.
func (s *stateTable) Peek() int {
	return s.counter
}

// Poke allocates the next block index and returns it.
func (s *stateTable) Poke() int {
	s.counter++
	return s.counter
}

// PushPause queues a pause whose resume state is the next index handed to
// PatchPending.
func (s *stateTable) PushPause(p *parser.PauseExpression) {
	s.pendingPauses = append(s.pendingPauses, p)
}

// PushGoto queues a goto whose target is the next index handed to
// PatchPending.
func (s *stateTable) PushGoto(g *parser.GotoExpression) {
	s.pendingGotos = append(s.pendingGotos, g)
}

// Push queues any jump, dispatching on its concrete form.
func (s *stateTable) Push(j parser.Jump) {
	switch n := j.(type) {
	case *parser.PauseExpression:
		s.PushPause(n)
	case *parser.GotoExpression:
		s.PushGoto(n)
	}
}

// PatchPending rewrites every queued jump to target idx, then clears both
// queues.
func (s *stateTable) PatchPending(idx int) {
	for _, p := range s.pendingPauses {
		p.SetTarget(idx)
	}
	for _, g := range s.pendingGotos {
		g.SetTarget(idx)
	}
	s.pendingPauses = s.pendingPauses[:0]
	s.pendingGotos = s.pendingGotos[:0]
}

// HasPending reports whether any queued jump is still waiting for a target.
// A compilation that finishes with pending jumps is internally inconsistent.
func (s *stateTable) HasPending() bool {
	return len(s.pendingPauses) > 0 || len(s.pendingGotos) > 0
}
