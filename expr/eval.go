package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/storage"
)

// fanout wraps every value a wildcard path segment resolved to, so a
// comparison or predicate built on top of it can apply itself to each one
// in turn ("at least one matches" semantics, the same fallback a bare
// wildcard comparison gets without an explicit ANY/ALL quantifier).
type fanout struct {
	values []interface{}
}

// EvalBool evaluates expression e against doc and coerces the result to a
// boolean, as a WHERE predicate does. params supplies values for any `?`
// placeholders encountered.
func EvalBool(e Expr, doc *storage.Document, params []interface{}) (bool, error) {
	if e == nil {
		return true, nil
	}
	v, err := Eval(e, doc, params)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// Eval evaluates expression e against doc and returns its Go value.
func Eval(e Expr, doc *storage.Document, params []interface{}) (interface{}, error) {
	switch node := e.(type) {
	case *LiteralExpr:
		return node.Value, nil

	case *VectorLiteralExpr:
		return node.Values, nil

	case *ParamExpr:
		if node.Index < 0 || node.Index >= len(params) {
			return nil, fmt.Errorf("%w: parameter index %d out of range", dberr.ErrUsage, node.Index)
		}
		return params[node.Index], nil

	case *PathExpr:
		return evalPath(node, doc)

	case *BinaryExpr:
		return evalBinary(node, doc, params)

	case *NotExpr:
		v, err := Eval(node.Operand, doc, params)
		if err != nil {
			return nil, err
		}
		return !toBool(v), nil

	case *InExpr:
		return evalIn(node, doc, params)

	case *LikeExpr:
		return evalLike(node, doc, params)

	case *QuantifierExpr:
		return evalQuantifier(node, doc, params)

	case *FuncCallExpr:
		return evalFuncCall(node, doc, params)

	default:
		return nil, fmt.Errorf("%w: unsupported expression type %T", dberr.ErrUsage, e)
	}
}

// evalPath resolves a path expression against doc. A path without a
// wildcard segment returns the field's raw value (or nil if absent); a
// path crossing a [*] segment returns a *fanout of every value reached.
func evalPath(p *PathExpr, doc *storage.Document) (interface{}, error) {
	if len(p.Segments) == 0 {
		return doc, nil
	}
	if !p.Enumerable() {
		names := make([]string, len(p.Segments))
		for i, s := range p.Segments {
			names[i] = s.Field
		}
		v, _ := doc.GetNested(names)
		return v, nil
	}
	return &fanout{values: resolveWildcard(doc, p.Segments)}, nil
}

func resolveWildcard(doc *storage.Document, segs []PathSegment) []interface{} {
	if doc == nil || len(segs) == 0 {
		return nil
	}
	head := segs[0]
	rest := segs[1:]

	if head.Wildcard {
		var out []interface{}
		for _, f := range doc.Fields {
			if len(rest) == 0 {
				out = append(out, f.Value)
				continue
			}
			if sub, ok := f.Value.(*storage.Document); ok {
				out = append(out, resolveWildcard(sub, rest)...)
			}
		}
		return out
	}

	val, ok := doc.Get(head.Field)
	if !ok {
		return nil
	}
	if arr, isArr := val.([]interface{}); isArr && len(rest) > 0 && rest[0].Wildcard {
		var out []interface{}
		for _, e := range arr {
			if len(rest) == 1 {
				out = append(out, e)
				continue
			}
			if sub, ok := e.(*storage.Document); ok {
				out = append(out, resolveWildcard(sub, rest[1:])...)
			}
		}
		return out
	}
	if len(rest) == 0 {
		return []interface{}{val}
	}
	sub, ok := val.(*storage.Document)
	if !ok {
		return nil
	}
	return resolveWildcard(sub, rest)
}

func evalBinary(b *BinaryExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	if b.Op == TokenAnd {
		left, err := Eval(b.Left, doc, params)
		if err != nil {
			return nil, err
		}
		if !toBool(left) {
			return false, nil
		}
		right, err := Eval(b.Right, doc, params)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil
	}
	if b.Op == TokenOr {
		left, err := Eval(b.Left, doc, params)
		if err != nil {
			return nil, err
		}
		if toBool(left) {
			return true, nil
		}
		right, err := Eval(b.Right, doc, params)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil
	}

	left, err := Eval(b.Left, doc, params)
	if err != nil {
		return nil, err
	}
	right, err := Eval(b.Right, doc, params)
	if err != nil {
		return nil, err
	}

	if fo, ok := left.(*fanout); ok {
		return fanoutApply(fo, func(v interface{}) (interface{}, bool) {
			r, err := applyOp(v, right, b.Op)
			if err != nil {
				return nil, false
			}
			return r, true
		}), nil
	}
	if fo, ok := right.(*fanout); ok {
		return fanoutApply(fo, func(v interface{}) (interface{}, bool) {
			r, err := applyOp(left, v, b.Op)
			if err != nil {
				return nil, false
			}
			return r, true
		}), nil
	}

	return applyOp(left, right, b.Op)
}

func fanoutApply(fo *fanout, f func(v interface{}) (interface{}, bool)) bool {
	for _, v := range fo.values {
		if _, isDoc := v.(*storage.Document); isDoc {
			continue
		}
		r, ok := f(v)
		if ok && toBool(r) {
			return true
		}
	}
	return false
}

func applyOp(left, right interface{}, op TokenType) (interface{}, error) {
	switch op {
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPct:
		return evalArithmetic(left, right, op)
	default:
		return compare(left, right, op), nil
	}
}

func evalArithmetic(left, right interface{}, op TokenType) (interface{}, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: non-numeric operand in arithmetic expression", dberr.ErrUsage)
	}

	var result float64
	switch op {
	case TokenPlus:
		result = lf + rf
	case TokenMinus:
		result = lf - rf
	case TokenStar:
		result = lf * rf
	case TokenSlash:
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", dberr.ErrUsage)
		}
		result = lf / rf
	case TokenPct:
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", dberr.ErrUsage)
		}
		result = math.Mod(lf, rf)
	}

	if isIntVal(left) && isIntVal(right) && op != TokenSlash && result == math.Trunc(result) {
		return int64(result), nil
	}
	return result, nil
}

func isIntVal(v interface{}) bool {
	switch v.(type) {
	case int64, int32, int:
		return true
	default:
		return false
	}
}

func evalIn(in *InExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	left, err := Eval(in.Left, doc, params)
	if err != nil {
		return nil, err
	}

	test := func(v interface{}) (bool, error) {
		for _, ve := range in.Values {
			candidate, err := Eval(ve, doc, params)
			if err != nil {
				return false, err
			}
			if toBool(compare(v, candidate, TokenEQ)) {
				return true, nil
			}
		}
		return false, nil
	}

	if fo, ok := left.(*fanout); ok {
		for _, v := range fo.values {
			if _, isDoc := v.(*storage.Document); isDoc {
				continue
			}
			found, err := test(v)
			if err != nil {
				return nil, err
			}
			if found {
				return !in.Negate, nil
			}
		}
		return in.Negate, nil
	}

	found, err := test(left)
	if err != nil {
		return nil, err
	}
	if in.Negate {
		return !found, nil
	}
	return found, nil
}

func evalLike(l *LikeExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	left, err := Eval(l.Left, doc, params)
	if err != nil {
		return nil, err
	}

	test := func(v interface{}) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		return matchLikePattern(strings.ToLower(s), strings.ToLower(l.Pattern))
	}

	if fo, ok := left.(*fanout); ok {
		for _, v := range fo.values {
			if test(v) {
				return !l.Negate, nil
			}
		}
		return l.Negate, nil
	}

	matched := test(left)
	if l.Negate {
		return !matched, nil
	}
	return matched, nil
}

// matchLikePattern implements SQL LIKE matching: % is zero-or-more
// characters, _ is exactly one.
func matchLikePattern(s, pattern string) bool {
	si, pi := 0, 0
	starSi, starPi := -1, -1

	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '_' || pattern[pi] == s[si]) {
			si++
			pi++
		} else if pi < len(pattern) && pattern[pi] == '%' {
			starSi = si
			starPi = pi
			pi++
		} else if starPi >= 0 {
			starSi++
			si = starSi
			pi = starPi + 1
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '%' {
		pi++
	}
	return pi == len(pattern)
}

func evalQuantifier(q *QuantifierExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	names := make([]string, 0, len(q.Path.Segments))
	values, err := resolveQuantifierValues(doc, q.Path.Segments, names)
	if err != nil {
		return nil, err
	}

	switch q.Kind {
	case QuantifierAll:
		for _, v := range values {
			ok, err := predicateOverValue(q.Predicate, v, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default: // QuantifierAny
		for _, v := range values {
			ok, err := predicateOverValue(q.Predicate, v, params)
			if err != nil {
				return nil, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func resolveQuantifierValues(doc *storage.Document, segs []PathSegment, _ []string) ([]interface{}, error) {
	return resolveWildcard(doc, segs), nil
}

// predicateOverValue evaluates pred with the fanned-out scalar value bound
// in place of every bare "$" path reference in pred.
func predicateOverValue(pred Expr, value interface{}, params []interface{}) (bool, error) {
	wrapped := storage.NewDocument()
	wrapped.Set("$value", value)
	substituted := substituteDollar(pred)
	return EvalBool(substituted, wrapped, params)
}

// substituteDollar rewrites a bare "$" path reference (an empty-segment
// PathExpr) into $.{"$value"}, the synthetic field predicateOverValue binds
// the quantified element to.
func substituteDollar(e Expr) Expr {
	switch node := e.(type) {
	case *PathExpr:
		if len(node.Segments) == 0 {
			return &PathExpr{Segments: []PathSegment{{Field: "$value"}}}
		}
		return node
	case *BinaryExpr:
		return &BinaryExpr{Op: node.Op, Left: substituteDollar(node.Left), Right: substituteDollar(node.Right)}
	case *NotExpr:
		return &NotExpr{Operand: substituteDollar(node.Operand)}
	case *InExpr:
		values := make([]Expr, len(node.Values))
		for i, v := range node.Values {
			values[i] = substituteDollar(v)
		}
		return &InExpr{Left: substituteDollar(node.Left), Values: values, Negate: node.Negate}
	case *LikeExpr:
		return &LikeExpr{Left: substituteDollar(node.Left), Pattern: node.Pattern, Negate: node.Negate}
	default:
		return e
	}
}

func evalFuncCall(f *FuncCallExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	name := upper(f.Name)
	switch name {
	case "EXTEND":
		return evalExtend(f, doc, params)
	case "VECTOR_SIM":
		return evalVectorSim(f, doc, params)
	case "COUNT", "SUM", "MAX", "MIN":
		return nil, fmt.Errorf("%w: aggregate function %s must be evaluated over a group, not a single document", dberr.ErrUsage, name)
	default:
		return nil, fmt.Errorf("%w: unknown function %s", dberr.ErrUsage, f.Name)
	}
}

func evalExtend(f *FuncCallExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	result := storage.NewDocument()
	for _, arg := range f.Args {
		v, err := Eval(arg, doc, params)
		if err != nil {
			return nil, err
		}
		sub, ok := v.(*storage.Document)
		if !ok {
			return nil, fmt.Errorf("%w: EXTEND arguments must be documents", dberr.ErrUsage)
		}
		for _, field := range sub.Fields {
			result.Set(field.Name, field.Value)
		}
	}
	return result, nil
}

func evalVectorSim(f *FuncCallExpr, doc *storage.Document, params []interface{}) (interface{}, error) {
	if len(f.Args) != 2 {
		return nil, fmt.Errorf("%w: VECTOR_SIM requires exactly 2 arguments", dberr.ErrUsage)
	}
	fieldVal, err := Eval(f.Args[0], doc, params)
	if err != nil {
		return nil, err
	}
	constVal, err := Eval(f.Args[1], doc, params)
	if err != nil {
		return nil, err
	}
	a, ok1 := toFloat32Slice(fieldVal)
	b, ok2 := toFloat32Slice(constVal)
	if !ok1 || !ok2 || len(a) != len(b) || len(a) == 0 {
		return nil, fmt.Errorf("%w: VECTOR_SIM operands must be equal-length vectors", dberr.ErrValidation)
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0.0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func toFloat32Slice(v interface{}) ([]float32, bool) {
	switch val := v.(type) {
	case []float32:
		return val, true
	case []interface{}:
		out := make([]float32, len(val))
		for i, e := range val {
			f, ok := toFloat64(e)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

// compare compares two scalar values under op, falling back to "not equal"
// / "false" for incomparable types rather than erroring — a predicate over
// mismatched types should filter the document out, not abort the query.
func compare(left, right interface{}, op TokenType) bool {
	if left == nil && right == nil {
		return op == TokenEQ
	}
	if left == nil || right == nil {
		return op == TokenNEQ
	}

	if lf, lok := toFloat64(left); lok {
		if rf, rok := toFloat64(right); rok {
			return compareOrdered(lf, rf, op)
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return compareOrdered(strings.Compare(ls, rs), 0, op)
		}
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case TokenEQ:
				return lb == rb
			case TokenNEQ:
				return lb != rb
			}
			return false
		}
	}

	switch op {
	case TokenEQ:
		return false
	case TokenNEQ:
		return true
	default:
		return false
	}
}

type ordered interface{ ~float64 | ~int }

func compareOrdered[T ordered](l, r T, op TokenType) bool {
	switch op {
	case TokenEQ:
		return l == r
	case TokenNEQ:
		return l != r
	case TokenLT:
		return l < r
	case TokenGT:
		return l > r
	case TokenLTE:
		return l <= r
	case TokenGTE:
		return l >= r
	default:
		return false
	}
}

func toBool(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case int32:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case *fanout:
		for _, e := range val.values {
			if toBool(e) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	default:
		return 0, false
	}
}

// Aggregate folds a column of values for a planner group-by step (COUNT,
// SUM, MAX, MIN); values with incompatible types are skipped rather than
// aborting the aggregate.
func Aggregate(name string, values []interface{}) (interface{}, error) {
	switch upper(name) {
	case "COUNT":
		return int64(len(values)), nil
	case "SUM":
		var sum float64
		allInt := true
		for _, v := range values {
			f, ok := toFloat64(v)
			if !ok {
				continue
			}
			if !isIntVal(v) {
				allInt = false
			}
			sum += f
		}
		if allInt {
			return int64(sum), nil
		}
		return sum, nil
	case "MAX":
		return foldExtreme(values, func(a, b float64) bool { return a > b })
	case "MIN":
		return foldExtreme(values, func(a, b float64) bool { return a < b })
	default:
		return nil, fmt.Errorf("%w: unknown aggregate function %s", dberr.ErrUsage, name)
	}
}

func foldExtreme(values []interface{}, better func(a, b float64) bool) (interface{}, error) {
	var best interface{}
	var bestF float64
	have := false
	for _, v := range values {
		f, ok := toFloat64(v)
		if !ok {
			continue
		}
		if !have || better(f, bestF) {
			best, bestF, have = v, f, true
		}
	}
	return best, nil
}

// FormatNumber renders a numeric value the way LIKE/compare debug output
// and the Dump surface expect.
func FormatNumber(v interface{}) string {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
