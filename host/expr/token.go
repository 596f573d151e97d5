// Package expr implements the minimal expression sub-language required by
// spec.md §6.2: record literals, field/index access, arithmetic, boolean
// and comparison operators, string concatenation, calls and lambdas.
//
// It is a hand-rolled lexer feeding a recursive-descent (Pratt) parser,
// grounded on datalog/edn's lexer/parser pair (same
// Lexer.Lex() → []Token → Parser.Parse() → AST pipeline idiom), adapted
// from EDN's data-literal grammar to an operator-precedence expression
// grammar.
package expr

import "fmt"

// TokenType enumerates the lexical categories of the expression grammar.
type TokenType int

const (
	TokEOF TokenType = iota
	TokIdent
	TokNumber
	TokString
	TokDollarIdent  // $name or $$name
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokComma
	TokColon
	TokDot
	TokArrow // =>
	TokOp    // operator punctuation: + - * / % == != >= <= > < && || ! ===
	TokHole  // $$subs[i] substitution hole, pre-stitched by the compiler
)

// Token is one lexical unit with its source position for error reporting.
type Token struct {
	Type   TokenType
	Text   string
	Index  int  // for TokHole: the substitution index
	Double bool // for TokDollarIdent: true if the source spelled $$name rather than $name
	Line   int
	Col    int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)[%d:%d]", tokenName(t.Type), t.Text, t.Line, t.Col)
}

func tokenName(t TokenType) string {
	switch t {
	case TokEOF:
		return "EOF"
	case TokIdent:
		return "Ident"
	case TokNumber:
		return "Number"
	case TokString:
		return "String"
	case TokDollarIdent:
		return "DollarIdent"
	case TokLParen:
		return "LParen"
	case TokRParen:
		return "RParen"
	case TokLBrace:
		return "LBrace"
	case TokRBrace:
		return "RBrace"
	case TokLBracket:
		return "LBracket"
	case TokRBracket:
		return "RBracket"
	case TokComma:
		return "Comma"
	case TokColon:
		return "Colon"
	case TokDot:
		return "Dot"
	case TokArrow:
		return "Arrow"
	case TokOp:
		return "Op"
	case TokHole:
		return "Hole"
	default:
		return "Unknown"
	}
}
