package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser implements a recursive-descent, precedence-climbing parser over
// the token stream produced by Lexer, grounded on datalog/edn.Parser's
// shape (a token-cursor struct with a Parse entry
// point and one method per grammar production) adapted to an
// operator-precedence expression grammar instead of EDN's uniform
// s-expression grammar.
type Parser struct {
	toks []Token
	pos  int
}

// Parse lexes and parses a complete expression from source.
func Parse(source string) (Node, error) {
	toks, err := NewLexer(source).Lex()
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	n, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.cur().Type != TokEOF {
		return nil, fmt.Errorf("expr: unexpected trailing token %s", p.cur())
	}
	return n, nil
}

func (p *Parser) cur() Token  { return p.toks[p.pos] }
func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	if p.cur().Type != tt {
		return Token{}, fmt.Errorf("expr: expected %s, got %s", tokenName(tt), p.cur())
	}
	return p.advance(), nil
}

// precedence returns the binding power of a binary operator; 0 means "not
// a binary operator" and stops precedence climbing.
func precedence(op string) int {
	switch op {
	case "||":
		return 1
	case "&&":
		return 2
	case "==", "===", "!=", ">=", ">", "<=", "<":
		return 3
	case "+", "-":
		return 4
	case "*", "/", "%":
		return 5
	default:
		return 0
	}
}

func (p *Parser) parseExpr(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.cur()
		if tok.Type == TokArrow {
			// bare-identifier lambda shorthand: x => body, only valid
			// when left is a single Ident and minPrec permits a fresh parse.
			ident, ok := left.(Ident)
			if !ok {
				break
			}
			p.advance()
			body, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			return Lambda{Params: []string{ident.Name}, Body: body}, nil
		}
		if tok.Type != TokOp {
			break
		}
		prec := precedence(tok.Text)
		if prec == 0 || prec < minPrec {
			break
		}
		op := tok.Text
		p.advance()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	tok := p.cur()
	if tok.Type == TokOp && (tok.Text == "!" || tok.Text == "-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: tok.Text, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Type {
		case TokDot:
			p.advance()
			field, err := p.expect(TokIdent)
			if err != nil {
				return nil, err
			}
			n = FieldAccess{Object: n, Field: field.Text}
		case TokLBracket:
			p.advance()
			idx, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokRBracket); err != nil {
				return nil, err
			}
			n = IndexAccess{Object: n, Index: idx}
		case TokLParen:
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			n = Call{Callee: n, Args: args}
		default:
			return n, nil
		}
	}
}

func (p *Parser) parseArgs() ([]Node, error) {
	p.advance() // (
	var args []Node
	if p.cur().Type == TokRParen {
		p.advance()
		return args, nil
	}
	for {
		a, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.cur().Type == TokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.cur()
	switch tok.Type {
	case TokNumber:
		p.advance()
		if strings.Contains(tok.Text, ".") {
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return nil, err
			}
			return Literal{Value: f}, nil
		}
		i, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, err
		}
		return Literal{Value: i}, nil
	case TokString:
		p.advance()
		return Literal{Value: tok.Text}, nil
	case TokHole:
		p.advance()
		return Hole{Index: tok.Index}, nil
	case TokDollarIdent:
		p.advance()
		name := strings.TrimLeft(tok.Text, "$")
		if tok.Double {
			return ReservedIdent{Name: name}, nil
		}
		return DollarParam{Suffix: name}, nil
	case TokIdent:
		return p.parseIdentOrLambda()
	case TokLParen:
		return p.parseParenOrLambda()
	case TokLBrace:
		return p.parseRecordLiteral()
	default:
		return nil, fmt.Errorf("expr: unexpected token %s", tok)
	}
}

func (p *Parser) parseIdentOrLambda() (Node, error) {
	tok := p.advance()
	if tok.Text == "this" {
		return This{}, nil
	}
	if tok.Text == "true" {
		return Literal{Value: true}, nil
	}
	if tok.Text == "false" {
		return Literal{Value: false}, nil
	}
	if tok.Text == "null" {
		return Literal{Value: nil}, nil
	}
	return Ident{Name: tok.Text}, nil
}

// parseParenOrLambda disambiguates `(expr)`, `()=>body` and
// `(a, b)=>body` by scanning ahead for an immediate TokArrow after the
// closing paren when every element inside is a bare identifier.
func (p *Parser) parseParenOrLambda() (Node, error) {
	start := p.pos
	p.advance() // (
	var idents []string
	isIdentList := true
	if p.cur().Type != TokRParen {
		for {
			if p.cur().Type != TokIdent {
				isIdentList = false
				break
			}
			idents = append(idents, p.advance().Text)
			if p.cur().Type == TokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if isIdentList && p.cur().Type == TokRParen {
		closeAt := p.pos
		p.advance()
		if p.cur().Type == TokArrow {
			p.advance()
			body, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			return Lambda{Params: idents, Body: body}, nil
		}
		p.pos = closeAt // fall through to parenthesised-expression parse
	}
	p.pos = start
	p.advance() // (
	n, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *Parser) parseRecordLiteral() (Node, error) {
	p.advance() // {
	rl := RecordLiteral{}
	if p.cur().Type == TokRBrace {
		p.advance()
		return rl, nil
	}
	for {
		key, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokColon); err != nil {
			return nil, err
		}
		val, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		rl.Keys = append(rl.Keys, key.Text)
		rl.Values = append(rl.Values, val)
		if p.cur().Type == TokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return nil, err
	}
	return rl, nil
}
