package parser

import (
	"fmt"
	"strconv"

	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/lexer"
)

// --- Debug Flag ---
const debugParser = false

func debugPrint(format string, args ...interface{}) {
	if debugParser {
		fmt.Printf("[Parser Debug] "+format+"\n", args...)
	}
}

// Parsing function types for the Pratt parser.
type (
	prefixParseFn func() Expression
	infixParseFn  func(Expression) Expression // Arg is the left side expression
)

// Precedence levels for operators.
const (
	_ int = iota
	LOWEST
	ASSIGN      // <-
	LOGICAL_OR  // ||
	LOGICAL_AND // &&
	EQUALS      // ==, !=
	LESSGREATER // <, >, <=, >=
	SUM         // +, -
	PRODUCT     // *, /
	PREFIX      // -x, !x
	CALL        // f(x)
)

// precedences maps operator tokens to their binding power.
var precedences = map[lexer.TokenType]int{
	lexer.ARROW:    ASSIGN,
	lexer.OR:       LOGICAL_OR,
	lexer.AND:      LOGICAL_AND,
	lexer.EQ:       EQUALS,
	lexer.NOT_EQ:   EQUALS,
	lexer.LT:       LESSGREATER,
	lexer.GT:       LESSGREATER,
	lexer.LE:       LESSGREATER,
	lexer.GE:       LESSGREATER,
	lexer.PLUS:     SUM,
	lexer.MINUS:    SUM,
	lexer.ASTERISK: PRODUCT,
	lexer.SLASH:    PRODUCT,
	lexer.LPAREN:   CALL,
}

// Parser takes a lexer and builds an AST.
type Parser struct {
	l      *lexer.Lexer
	errors []errors.FloweryError

	curToken  lexer.Token
	peekToken lexer.Token

	prefixParseFns map[lexer.TokenType]prefixParseFn
	infixParseFns  map[lexer.TokenType]infixParseFn
}

// NewParser creates a parser reading from l.
func NewParser(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:      l,
		errors: []errors.FloweryError{},
	}

	p.prefixParseFns = make(map[lexer.TokenType]prefixParseFn)
	p.registerPrefix(lexer.IDENT, p.parseIdentifier)
	p.registerPrefix(lexer.NUMBER, p.parseNumberLiteral)
	p.registerPrefix(lexer.STRING, p.parseStringLiteral)
	p.registerPrefix(lexer.TRUE, p.parseBooleanLiteral)
	p.registerPrefix(lexer.FALSE, p.parseBooleanLiteral)
	p.registerPrefix(lexer.NULL, p.parseNullLiteral)
	p.registerPrefix(lexer.BANG, p.parsePrefixExpression)
	p.registerPrefix(lexer.MINUS, p.parsePrefixExpression)
	p.registerPrefix(lexer.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(lexer.LBRACE, p.parseBlockExpression)
	p.registerPrefix(lexer.IF, p.parseIfExpression)
	p.registerPrefix(lexer.REPEAT, p.parseRepeatExpression)
	p.registerPrefix(lexer.WHILE, p.parseWhileExpression)
	p.registerPrefix(lexer.FOR, p.parseForExpression)
	p.registerPrefix(lexer.FUNCTION, p.parseFunctionLiteral)
	p.registerPrefix(lexer.BREAK, p.parseBreakExpression)
	p.registerPrefix(lexer.NEXT, p.parseNextExpression)
	p.registerPrefix(lexer.RETURN, p.parseReturnExpression)
	p.registerPrefix(lexer.YIELD, p.parseYieldExpression)

	p.infixParseFns = make(map[lexer.TokenType]infixParseFn)
	p.registerInfix(lexer.PLUS, p.parseInfixExpression)
	p.registerInfix(lexer.MINUS, p.parseInfixExpression)
	p.registerInfix(lexer.ASTERISK, p.parseInfixExpression)
	p.registerInfix(lexer.SLASH, p.parseInfixExpression)
	p.registerInfix(lexer.EQ, p.parseInfixExpression)
	p.registerInfix(lexer.NOT_EQ, p.parseInfixExpression)
	p.registerInfix(lexer.LT, p.parseInfixExpression)
	p.registerInfix(lexer.GT, p.parseInfixExpression)
	p.registerInfix(lexer.LE, p.parseInfixExpression)
	p.registerInfix(lexer.GE, p.parseInfixExpression)
	p.registerInfix(lexer.AND, p.parseInfixExpression)
	p.registerInfix(lexer.OR, p.parseInfixExpression)
	p.registerInfix(lexer.ARROW, p.parseAssignExpression)
	p.registerInfix(lexer.LPAREN, p.parseCallExpression)

	// Read two tokens so curToken and peekToken are both set.
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(t lexer.TokenType, fn prefixParseFn) {
	p.prefixParseFns[t] = fn
}

func (p *Parser) registerInfix(t lexer.TokenType, fn infixParseFn) {
	p.infixParseFns[t] = fn
}

// Errors returns the syntax errors accumulated while parsing.
func (p *Parser) Errors() []errors.FloweryError {
	return p.errors
}

func (p *Parser) addError(tok lexer.Token, msg string) {
	p.errors = append(p.errors, &errors.SyntaxError{
		Position: errors.Position{
			Line:     tok.Line,
			Column:   tok.Column,
			StartPos: tok.StartPos,
			EndPos:   tok.EndPos,
			Source:   p.l.Source(),
		},
		Msg: msg,
	})
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t lexer.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t lexer.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t lexer.TokenType) {
	p.addError(p.peekToken, fmt.Sprintf("expected next token to be %s, got %s instead",
		t, p.peekToken.Type))
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return LOWEST
}

// skipNewlines advances over newline tokens at the current position. Used
// where the grammar is syntactically open and a line break cannot terminate
// the expression.
func (p *Parser) skipNewlines() {
	for p.curTokenIs(lexer.NEWLINE) {
		p.nextToken()
	}
}

// expectPeekSkippingNewlines is expectPeek but tolerant of line breaks before
// the expected token (e.g. a closing paren on its own line).
func (p *Parser) expectPeekSkippingNewlines(t lexer.TokenType) bool {
	for p.peekTokenIs(lexer.NEWLINE) {
		p.nextToken()
	}
	return p.expectPeek(t)
}

func (p *Parser) isSeparator(t lexer.TokenType) bool {
	return t == lexer.NEWLINE || t == lexer.SEMICOLON
}

// --- Entry point ---

// ParseProgram parses the whole input as a newline/semicolon separated
// sequence of expressions.
func (p *Parser) ParseProgram() *Program {
	program := &Program{Expressions: []Expression{}}

	for p.isSeparator(p.curToken.Type) {
		p.nextToken()
	}
	for !p.curTokenIs(lexer.EOF) {
		expr := p.parseExpression(LOWEST)
		if expr != nil {
			program.Expressions = append(program.Expressions, expr)
		}
		p.nextToken()
		if !p.curTokenIs(lexer.EOF) && !p.isSeparator(p.curToken.Type) {
			p.addError(p.curToken, fmt.Sprintf("unexpected token %s, expected end of expression", p.curToken.Type))
			return program
		}
		for p.isSeparator(p.curToken.Type) {
			p.nextToken()
		}
	}
	return program
}

// --- Pratt driver ---

func (p *Parser) parseExpression(precedence int) Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.addError(p.curToken, fmt.Sprintf("unexpected token %s", p.curToken.Type))
		return nil
	}
	leftExp := prefix()

	for precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}
		p.nextToken()
		leftExp = infix(leftExp)
		if leftExp == nil {
			return nil
		}
	}
	return leftExp
}

// --- Prefix parsers ---

func (p *Parser) parseIdentifier() Expression {
	return &Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseNumberLiteral() Expression {
	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.addError(p.curToken, fmt.Sprintf("could not parse %q as number", p.curToken.Literal))
		return nil
	}
	return &NumberLiteral{Token: p.curToken, Value: value}
}

func (p *Parser) parseStringLiteral() Expression {
	return &StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBooleanLiteral() Expression {
	return &BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(lexer.TRUE)}
}

func (p *Parser) parseNullLiteral() Expression {
	return &NullLiteral{Token: p.curToken}
}

func (p *Parser) parsePrefixExpression() Expression {
	expr := &PrefixExpression{Token: p.curToken, Operator: p.curToken.Literal}
	p.nextToken()
	p.skipNewlines()
	expr.Right = p.parseExpression(PREFIX)
	return expr
}

func (p *Parser) parseGroupedExpression() Expression {
	p.nextToken()
	p.skipNewlines()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseBlockExpression() Expression {
	block := &BlockExpression{Token: p.curToken, Expressions: []Expression{}}
	p.nextToken()
	for p.isSeparator(p.curToken.Type) {
		p.nextToken()
	}
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError(p.curToken, "unterminated block, expected '}'")
			return nil
		}
		expr := p.parseExpression(LOWEST)
		if expr == nil {
			return nil
		}
		block.Expressions = append(block.Expressions, expr)
		p.nextToken()
		if p.curTokenIs(lexer.EOF) {
			p.addError(p.curToken, "unterminated block, expected '}'")
			return nil
		}
		if !p.curTokenIs(lexer.RBRACE) && !p.isSeparator(p.curToken.Type) {
			p.addError(p.curToken, fmt.Sprintf("unexpected token %s in block", p.curToken.Type))
			return nil
		}
		for p.isSeparator(p.curToken.Type) {
			p.nextToken()
		}
	}
	return block
}

func (p *Parser) parseIfExpression() Expression {
	expr := &IfExpression{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Condition = p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Consequence = p.parseExpression(LOWEST)
	if expr.Consequence == nil {
		return nil
	}

	// An else may sit on the next line; look past line breaks for it and
	// back off if it is not there, keeping the separator intact.
	if p.peekTokenIs(lexer.ELSE) {
		p.nextToken() // cur = else
		p.nextToken()
		p.skipNewlines()
		expr.Alternative = p.parseExpression(LOWEST)
	} else if p.peekTokenIs(lexer.NEWLINE) {
		saved := p.save()
		for p.peekTokenIs(lexer.NEWLINE) {
			p.nextToken()
		}
		if p.peekTokenIs(lexer.ELSE) {
			p.nextToken() // cur = else
			p.nextToken()
			p.skipNewlines()
			expr.Alternative = p.parseExpression(LOWEST)
		} else {
			p.restore(saved)
		}
	}
	return expr
}

func (p *Parser) parseRepeatExpression() Expression {
	expr := &RepeatExpression{Token: p.curToken}
	p.nextToken()
	p.skipNewlines()
	expr.Body = p.parseExpression(LOWEST)
	if expr.Body == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseWhileExpression() Expression {
	expr := &WhileExpression{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Condition = p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Body = p.parseExpression(LOWEST)
	if expr.Body == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseForExpression() Expression {
	expr := &ForExpression{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	expr.Var = &Identifier{Token: p.curToken, Value: p.curToken.Literal}
	if !p.expectPeek(lexer.IN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Seq = p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	expr.Body = p.parseExpression(LOWEST)
	if expr.Body == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseFunctionLiteral() Expression {
	fn := &FunctionLiteral{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	fn.Parameters = p.parseFunctionParameters()
	if fn.Parameters == nil {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	fn.Body = p.parseExpression(LOWEST)
	if fn.Body == nil {
		return nil
	}
	return fn
}

func (p *Parser) parseFunctionParameters() []*Identifier {
	params := []*Identifier{}
	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
		return params
	}
	if !p.expectPeekSkippingNewlines(lexer.IDENT) {
		return nil
	}
	params = append(params, &Identifier{Token: p.curToken, Value: p.curToken.Literal})
	for p.peekTokenIs(lexer.COMMA) {
		p.nextToken()
		if !p.expectPeekSkippingNewlines(lexer.IDENT) {
			return nil
		}
		params = append(params, &Identifier{Token: p.curToken, Value: p.curToken.Literal})
	}
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	return params
}

func (p *Parser) parseBreakExpression() Expression {
	return &BreakExpression{Token: p.curToken}
}

func (p *Parser) parseNextExpression() Expression {
	return &NextExpression{Token: p.curToken}
}

// parseReturnExpression parses `return(value)`; the parens are required, as
// in the surface language return is call-shaped.
func (p *Parser) parseReturnExpression() Expression {
	expr := &ReturnExpression{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
		return expr
	}
	p.nextToken()
	p.skipNewlines()
	expr.Value = p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	return expr
}

// parseYieldExpression parses `yield(value)`, same shape as return.
func (p *Parser) parseYieldExpression() Expression {
	expr := &YieldExpression{Token: p.curToken}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
		return expr
	}
	p.nextToken()
	p.skipNewlines()
	expr.Value = p.parseExpression(LOWEST)
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	return expr
}

// --- Infix parsers ---

func (p *Parser) parseInfixExpression(left Expression) Expression {
	expr := &InfixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
		Left:     left,
	}
	precedence := p.curPrecedence()
	p.nextToken()
	p.skipNewlines()
	expr.Right = p.parseExpression(precedence)
	return expr
}

func (p *Parser) parseAssignExpression(left Expression) Expression {
	name, ok := left.(*Identifier)
	if !ok {
		p.addError(p.curToken, "invalid assignment target")
		return nil
	}
	expr := &AssignExpression{Token: p.curToken, Name: name}
	p.nextToken()
	p.skipNewlines()
	// Right-associative: x <- y <- 1 assigns 1 to both.
	expr.Value = p.parseExpression(ASSIGN - 1)
	return expr
}

func (p *Parser) parseCallExpression(function Expression) Expression {
	call := &CallExpression{Token: p.curToken, Function: function}
	call.Arguments = p.parseCallArguments()
	if call.Arguments == nil {
		return nil
	}
	return call
}

func (p *Parser) parseCallArguments() []Expression {
	args := []Expression{}
	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
		return args
	}
	p.nextToken()
	p.skipNewlines()
	arg := p.parseExpression(LOWEST)
	if arg == nil {
		return nil
	}
	args = append(args, arg)
	for p.peekTokenIs(lexer.COMMA) {
		p.nextToken()
		p.nextToken()
		p.skipNewlines()
		arg := p.parseExpression(LOWEST)
		if arg == nil {
			return nil
		}
		args = append(args, arg)
	}
	if !p.expectPeekSkippingNewlines(lexer.RPAREN) {
		return nil
	}
	return args
}

// --- Backtracking ---

// parserState captures parser and lexer positions for limited lookahead.
type parserState struct {
	lexer     lexer.LexerState
	curToken  lexer.Token
	peekToken lexer.Token
}

func (p *Parser) save() parserState {
	return parserState{
		lexer:     p.l.SaveState(),
		curToken:  p.curToken,
		peekToken: p.peekToken,
	}
}

func (p *Parser) restore(s parserState) {
	p.l.RestoreState(s.lexer)
	p.curToken = s.curToken
	p.peekToken = s.peekToken
}
