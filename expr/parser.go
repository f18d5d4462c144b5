package expr

import (
	"fmt"
	"strconv"

	"github.com/duskdb/duskdb/dberr"
)

// Parser turns a token stream into an Expr tree by recursive descent,
// precedence climbing from OR down to primaries: OR, AND, NOT,
// comparison/IN/LIKE, additive, multiplicative, unary, primary.
type Parser struct {
	lexer      *Lexer
	current    Token
	peek       Token
	paramIndex int
}

// NewParser creates a parser over input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.current = p.lexer.NextToken()
	p.peek = p.lexer.NextToken()
	return p
}

func (p *Parser) advance() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) expect(t TokenType) (Token, error) {
	if p.current.Type != t {
		return Token{}, fmt.Errorf("%w: unexpected token %q at position %d", dberr.ErrUsage, p.current.Literal, p.current.Pos)
	}
	tok := p.current
	p.advance()
	return tok, nil
}

// Parse parses input as a single expression and requires it to consume the
// whole string.
func Parse(input string) (Expr, error) {
	p := NewParser(input)
	e, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("%w: unexpected trailing input %q at position %d", dberr.ErrUsage, p.current.Literal, p.current.Pos)
	}
	return e, nil
}

// ParseExpr parses one full expression starting at OR precedence.
func (p *Parser) ParseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.current.Type == TokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch p.current.Type {
	case TokenEQ, TokenNEQ, TokenLT, TokenLTE, TokenGT, TokenGTE:
		op := p.current.Type
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil

	case TokenIn:
		p.advance()
		return p.parseInList(left, false)

	case TokenNot:
		// NOT IN / NOT LIKE as a single infix operator; NOT has no other
		// meaning in comparator position.
		p.advance()
		switch p.current.Type {
		case TokenIn:
			p.advance()
			return p.parseInList(left, true)
		case TokenLike:
			p.advance()
			return p.parseLike(left, true)
		default:
			return nil, fmt.Errorf("%w: expected IN or LIKE after NOT at position %d", dberr.ErrUsage, p.current.Pos)
		}

	case TokenLike:
		p.advance()
		return p.parseLike(left, false)
	}

	return left, nil
}

func (p *Parser) parseInList(left Expr, negate bool) (Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var values []Expr
	for p.current.Type != TokenRParen {
		v, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &InExpr{Left: left, Values: values, Negate: negate}, nil
}

func (p *Parser) parseLike(left Expr, negate bool) (Expr, error) {
	tok, err := p.expect(TokenString)
	if err != nil {
		return nil, err
	}
	return &LikeExpr{Left: left, Pattern: tok.Literal, Negate: negate}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current.Type
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenStar || p.current.Type == TokenSlash || p.current.Type == TokenPct {
		op := p.current.Type
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.current.Type == TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: TokenMinus, Left: &LiteralExpr{Value: int64(0)}, Right: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.current.Type {
	case TokenDollar:
		return p.parsePath()

	case TokenAny, TokenAll:
		return p.parseQuantifier()

	case TokenInt:
		v, err := strconv.ParseInt(p.current.Literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid integer literal %q", dberr.ErrUsage, p.current.Literal)
		}
		p.advance()
		return &LiteralExpr{Value: v}, nil

	case TokenFloat:
		v, err := strconv.ParseFloat(p.current.Literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid float literal %q", dberr.ErrUsage, p.current.Literal)
		}
		p.advance()
		return &LiteralExpr{Value: v}, nil

	case TokenString:
		v := p.current.Literal
		p.advance()
		return &LiteralExpr{Value: v}, nil

	case TokenTrue:
		p.advance()
		return &LiteralExpr{Value: true}, nil

	case TokenFalse:
		p.advance()
		return &LiteralExpr{Value: false}, nil

	case TokenNull:
		p.advance()
		return &LiteralExpr{Value: nil}, nil

	case TokenLBrack:
		return p.parseVectorLiteral()

	case TokenParam:
		p.advance()
		idx := p.paramIndex
		p.paramIndex++
		return &ParamExpr{Index: idx}, nil

	case TokenLParen:
		p.advance()
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil

	case TokenIdent:
		name := p.current.Literal
		p.advance()
		if p.current.Type == TokenLParen {
			return p.parseFuncCall(name)
		}
		return nil, fmt.Errorf("%w: bare identifier %q is not a valid expression (use $.%s for a field)", dberr.ErrUsage, name, name)
	}

	return nil, fmt.Errorf("%w: unexpected token %q at position %d", dberr.ErrUsage, p.current.Literal, p.current.Pos)
}

// parsePath parses a path expression: $ . field ( . field | [ * ] )*
func (p *Parser) parsePath() (Expr, error) {
	if _, err := p.expect(TokenDollar); err != nil {
		return nil, err
	}
	var segs []PathSegment
	for p.current.Type == TokenDot || p.current.Type == TokenLBrack {
		if p.current.Type == TokenDot {
			p.advance()
			if p.current.Type == TokenStar {
				p.advance()
				segs = append(segs, PathSegment{Wildcard: true})
				continue
			}
			tok, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			segs = append(segs, PathSegment{Field: tok.Literal})
			continue
		}
		// TokenLBrack
		p.advance()
		if p.current.Type == TokenStar {
			p.advance()
			if _, err := p.expect(TokenRBrack); err != nil {
				return nil, err
			}
			segs = append(segs, PathSegment{Wildcard: true})
			continue
		}
		return nil, fmt.Errorf("%w: only [*] is supported as an index expression", dberr.ErrUsage)
	}
	return &PathExpr{Segments: segs}, nil
}

func (p *Parser) parseQuantifier() (Expr, error) {
	kind := QuantifierAny
	if p.current.Type == TokenAll {
		kind = QuantifierAll
	}
	p.advance()
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	pathExpr, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	path, ok := pathExpr.(*PathExpr)
	if !ok {
		return nil, fmt.Errorf("%w: ANY/ALL requires a path expression", dberr.ErrUsage)
	}
	if _, err := p.expect(TokenComma); err != nil {
		return nil, err
	}
	pred, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &QuantifierExpr{Kind: kind, Path: path, Predicate: pred}, nil
}

func (p *Parser) parseVectorLiteral() (Expr, error) {
	if _, err := p.expect(TokenLBrack); err != nil {
		return nil, err
	}
	var values []float32
	for p.current.Type != TokenRBrack {
		neg := false
		if p.current.Type == TokenMinus {
			neg = true
			p.advance()
		}
		switch p.current.Type {
		case TokenInt:
			v, _ := strconv.ParseFloat(p.current.Literal, 32)
			if neg {
				v = -v
			}
			values = append(values, float32(v))
			p.advance()
		case TokenFloat:
			v, _ := strconv.ParseFloat(p.current.Literal, 32)
			if neg {
				v = -v
			}
			values = append(values, float32(v))
			p.advance()
		default:
			return nil, fmt.Errorf("%w: expected number in vector literal, got %q", dberr.ErrUsage, p.current.Literal)
		}
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRBrack); err != nil {
		return nil, err
	}
	return &VectorLiteralExpr{Values: values}, nil
}

func (p *Parser) parseFuncCall(name string) (Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var args []Expr
	for p.current.Type != TokenRParen {
		if p.current.Type == TokenStar {
			p.advance()
			args = append(args, &PathExpr{})
			if p.current.Type == TokenComma {
				p.advance()
				continue
			}
			break
		}
		a, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &FuncCallExpr{Name: name, Args: args}, nil
}
