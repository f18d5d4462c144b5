package expr

import "testing"

func TestParsePathExpression(t *testing.T) {
	e, err := Parse("$.a.b")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := e.(*PathExpr)
	if !ok {
		t.Fatalf("expected *PathExpr, got %T", e)
	}
	if len(p.Segments) != 2 || p.Segments[0].Field != "a" || p.Segments[1].Field != "b" {
		t.Fatalf("unexpected segments: %+v", p.Segments)
	}
	if p.Enumerable() {
		t.Fatal("plain path should not be enumerable")
	}
}

func TestParseWildcardPathIsEnumerable(t *testing.T) {
	e, err := Parse("$.items[*].price")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !e.(*PathExpr).Enumerable() {
		t.Fatal("wildcard path should be enumerable")
	}
}

func TestParseComparisonPrecedence(t *testing.T) {
	e, err := Parse("$.a = 1 AND $.b > 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, ok := e.(*BinaryExpr)
	if !ok || b.Op != TokenAnd {
		t.Fatalf("expected top-level AND, got %+v", e)
	}
	left, ok := b.Left.(*BinaryExpr)
	if !ok || left.Op != TokenEQ {
		t.Fatalf("expected left side EQ, got %+v", b.Left)
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	e, err := Parse("$.a + 2 * 3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	top, ok := e.(*BinaryExpr)
	if !ok || top.Op != TokenPlus {
		t.Fatalf("expected top-level +, got %+v", e)
	}
	right, ok := top.Right.(*BinaryExpr)
	if !ok || right.Op != TokenStar {
		t.Fatalf("expected right side *, got %+v", top.Right)
	}
}

func TestParseInList(t *testing.T) {
	e, err := Parse("$.status IN ('open', 'pending')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in, ok := e.(*InExpr)
	if !ok || in.Negate || len(in.Values) != 2 {
		t.Fatalf("unexpected IN expr: %+v", e)
	}
}

func TestParseNotInList(t *testing.T) {
	e, err := Parse("$.status NOT IN ('closed')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in, ok := e.(*InExpr)
	if !ok || !in.Negate {
		t.Fatalf("expected negated IN, got %+v", e)
	}
}

func TestParseLikeAndNotLike(t *testing.T) {
	e, err := Parse("$.name LIKE 'a%'")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	like, ok := e.(*LikeExpr)
	if !ok || like.Negate || like.Pattern != "a%" {
		t.Fatalf("unexpected LIKE expr: %+v", e)
	}

	e2, err := Parse("$.name NOT LIKE 'a%'")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !e2.(*LikeExpr).Negate {
		t.Fatal("expected negated LIKE")
	}
}

func TestParseAnyAllQuantifier(t *testing.T) {
	e, err := Parse("ANY($.items[*], $ > 10)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q, ok := e.(*QuantifierExpr)
	if !ok || q.Kind != QuantifierAny {
		t.Fatalf("expected ANY quantifier, got %+v", e)
	}

	e2, err := Parse("ALL($.items[*], $ > 10)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e2.(*QuantifierExpr).Kind != QuantifierAll {
		t.Fatal("expected ALL quantifier")
	}
}

func TestParseFunctionCall(t *testing.T) {
	e, err := Parse("VECTOR_SIM($.embedding, [1, 0.5, -2])")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := e.(*FuncCallExpr)
	if !ok || f.Name != "VECTOR_SIM" || len(f.Args) != 2 {
		t.Fatalf("unexpected func call: %+v", e)
	}
	vec, ok := f.Args[1].(*VectorLiteralExpr)
	if !ok || len(vec.Values) != 3 {
		t.Fatalf("expected 3-element vector literal, got %+v", f.Args[1])
	}
}

func TestParseCountStar(t *testing.T) {
	e, err := Parse("COUNT(*)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := e.(*FuncCallExpr)
	if !ok || f.Name != "COUNT" || len(f.Args) != 1 {
		t.Fatalf("unexpected func call: %+v", e)
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := Parse("$.a = 1 )"); err == nil {
		t.Fatal("expected error on trailing garbage")
	}
}

func TestParseRejectsBareIdentifier(t *testing.T) {
	if _, err := Parse("foo"); err == nil {
		t.Fatal("expected error: bare identifiers are not valid expressions")
	}
}
