package expr

import "testing"

func TestLexerTokenizesPathExpression(t *testing.T) {
	toks := NewLexer("$.items[*].price").Tokenize()
	want := []TokenType{TokenDollar, TokenDot, TokenIdent, TokenLBrack, TokenStar, TokenRBrack, TokenDot, TokenIdent, TokenEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Fatalf("token %d: got type %d, want %d (%+v)", i, toks[i].Type, tt, toks[i])
		}
	}
}

func TestLexerRecognizesOperators(t *testing.T) {
	toks := NewLexer("= != <> < <= > >=").Tokenize()
	want := []TokenType{TokenEQ, TokenNEQ, TokenNEQ, TokenLT, TokenLTE, TokenGT, TokenGTE, TokenEOF}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Fatalf("token %d: got %d want %d", i, toks[i].Type, tt)
		}
	}
}

func TestLexerRecognizesKeywordsCaseInsensitively(t *testing.T) {
	toks := NewLexer("AND or Not IN Like any ALL true FALSE null").Tokenize()
	want := []TokenType{TokenAnd, TokenOr, TokenNot, TokenIn, TokenLike, TokenAny, TokenAll, TokenTrue, TokenFalse, TokenNull, TokenEOF}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Fatalf("token %d (%q): got %d want %d", i, toks[i].Literal, toks[i].Type, tt)
		}
	}
}

func TestLexerPreservesIdentifierCaseForFunctionNames(t *testing.T) {
	toks := NewLexer("VECTOR_SIM").Tokenize()
	if toks[0].Type != TokenIdent || toks[0].Literal != "VECTOR_SIM" {
		t.Fatalf("expected ident VECTOR_SIM, got %+v", toks[0])
	}
}

func TestLexerReadsStringAndNumberLiterals(t *testing.T) {
	toks := NewLexer(`'hello' 42 3.14`).Tokenize()
	if toks[0].Type != TokenString || toks[0].Literal != "hello" {
		t.Fatalf("expected string literal, got %+v", toks[0])
	}
	if toks[1].Type != TokenInt || toks[1].Literal != "42" {
		t.Fatalf("expected int literal, got %+v", toks[1])
	}
	if toks[2].Type != TokenFloat || toks[2].Literal != "3.14" {
		t.Fatalf("expected float literal, got %+v", toks[2])
	}
}

func TestLexerFlagsUnknownCharacterAsIllegal(t *testing.T) {
	toks := NewLexer("@").Tokenize()
	if toks[0].Type != TokenIllegal {
		t.Fatalf("expected illegal token, got %+v", toks[0])
	}
}
