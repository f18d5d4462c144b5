package expr

import (
	"fmt"

	"github.com/duskdb/duskdb/dberr"
)

// CountParams counts the `?` placeholders in an expression tree, so a
// caller can validate it supplied exactly as many values as Eval expects.
func CountParams(e Expr) int {
	count := 0
	countParams(e, &count)
	return count
}

func countParams(e Expr, count *int) {
	switch node := e.(type) {
	case *ParamExpr:
		*count++
	case *BinaryExpr:
		countParams(node.Left, count)
		countParams(node.Right, count)
	case *NotExpr:
		countParams(node.Operand, count)
	case *InExpr:
		countParams(node.Left, count)
		for _, v := range node.Values {
			countParams(v, count)
		}
	case *LikeExpr:
		countParams(node.Left, count)
	case *QuantifierExpr:
		countParams(node.Predicate, count)
	case *FuncCallExpr:
		for _, a := range node.Args {
			countParams(a, count)
		}
	}
}

// CheckParamCount returns a UsageError if params does not have exactly as
// many entries as e references `?` placeholders.
func CheckParamCount(e Expr, params []interface{}) error {
	want := CountParams(e)
	if want != len(params) {
		return fmt.Errorf("%w: expression expects %d parameters, got %d", dberr.ErrUsage, want, len(params))
	}
	return nil
}
