package errors

import "fmt"

// FloweryError is the interface implemented by all flowery errors.
type FloweryError interface {
	error // Embed the standard error interface
	Pos() Position
	Kind() string // e.g., "Syntax", "Compile"
	// Message returns the specific error message without position info.
	// This might be useful if the caller wants to format the error differently.
	Message() string
}

// --- Concrete Error Types ---

// SyntaxError represents an error during lexing or parsing.
type SyntaxError struct {
	Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax Error at %d:%d: %s", e.Line, e.Column, e.Msg)
}
func (e *SyntaxError) Pos() Position   { return e.Position }
func (e *SyntaxError) Kind() string    { return "Syntax" }
func (e *SyntaxError) Message() string { return e.Msg }

// CompileError represents an error during block compilation.
type CompileError struct {
	// Compile errors sometimes lack a precise position (internal
	// consistency failures); Position is zero in that case.
	Position
	Msg string
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("Compile Error: %s", e.Msg)
	}
	return fmt.Sprintf("Compile Error at %d:%d: %s", e.Line, e.Column, e.Msg)
}
func (e *CompileError) Pos() Position   { return e.Position }
func (e *CompileError) Kind() string    { return "Compile" }
func (e *CompileError) Message() string { return e.Msg }
