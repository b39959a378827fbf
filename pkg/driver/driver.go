package driver

import (
	"fmt"
	"strings"

	"github.com/dfalbel/flowery/pkg/compiler"
	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/lexer"
	"github.com/dfalbel/flowery/pkg/parser"
	"github.com/dfalbel/flowery/pkg/source"
)

// ParseSource lexes and parses a source file into a program.
func ParseSource(sf *source.SourceFile) (*parser.Program, []errors.FloweryError) {
	l := lexer.NewLexerWithSource(sf)
	p := parser.NewParser(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs
	}
	return program, nil
}

// CompileSource runs the whole pipeline on a source file: lex, parse, and
// lower the program into its machine blocks.
func CompileSource(sf *source.SourceFile) ([]*parser.MachineBlock, []errors.FloweryError) {
	program, errs := ParseSource(sf)
	if len(errs) > 0 {
		return nil, errs
	}
	blocks, err := compiler.Compile(program.Body())
	if err != nil {
		return nil, []errors.FloweryError{err}
	}
	return blocks, nil
}

// CompileString compiles a generator body given as a plain string.
func CompileString(src string) ([]*parser.MachineBlock, []errors.FloweryError) {
	return CompileSource(source.NewExprSource(src))
}

// CompileFile compiles the program stored at path.
func CompileFile(path string) ([]*parser.MachineBlock, []errors.FloweryError) {
	sf, err := source.ReadFile(path)
	if err != nil {
		return nil, []errors.FloweryError{&errors.SyntaxError{Msg: err.Error()}}
	}
	return CompileSource(sf)
}

// FormatBlocks renders a block list as a numbered listing, one block per
// line: "B1: goto(2)".
func FormatBlocks(blocks []*parser.MachineBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		fmt.Fprintf(&sb, "B%d: ", i+1)
		parts := make([]string, len(b.Expressions))
		for j, e := range b.Expressions {
			parts[j] = e.String()
		}
		sb.WriteString(strings.Join(parts, "; "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
