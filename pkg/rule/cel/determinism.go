package cel

import (
	celgo "github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// nondeterminismError reports a CEL construct that would make a rule's
// match outcome depend on something other than the content it was handed:
// wall-clock time, or map iteration order. A rule that isn't deterministic
// can't be re-evaluated identically in a replayed scan or compared across
// scanner versions, so CELRule rejects it at compile time rather than
// letting it through to Match.
type nondeterminismError struct {
	reason string
}

func (e *nondeterminismError) Error() string {
	return "cel: expression is not deterministic: " + e.reason
}

// checkDeterministic walks ast's parse tree (the unchecked result of
// env.Parse, not env.Compile) looking for constructs whose result isn't a
// pure function of the bound variables: now() reads the system clock, and
// map key/value iteration is unordered in CEL's data model. Working from
// the parse tree rather than a type-checked one means the same constructs
// are rejected regardless of which functions happen to be declared in the
// evaluation environment. It reports the first violation found.
func checkDeterministic(ast *celgo.Ast) error {
	return walkDeterminism(ast.Expr()) //nolint:staticcheck // deprecated but no replacement for AST traversal
}

func walkDeterminism(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			return &nondeterminismError{reason: "now() reads the system clock"}
		case "keys", "values":
			return &nondeterminismError{reason: "map iteration (keys/values) has no defined order"}
		}
		if call.Target != nil {
			if err := walkDeterminism(call.Target); err != nil {
				return err
			}
		}
		for _, arg := range call.Args {
			if err := walkDeterminism(arg); err != nil {
				return err
			}
		}

	case *exprpb.Expr_SelectExpr:
		return walkDeterminism(k.SelectExpr.Operand)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := walkDeterminism(el); err != nil {
				return err
			}
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if mapKey := entry.GetMapKey(); mapKey != nil {
				if err := walkDeterminism(mapKey); err != nil {
					return err
				}
			}
			if err := walkDeterminism(entry.Value); err != nil {
				return err
			}
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{comp.IterRange, comp.AccuInit, comp.LoopCondition, comp.LoopStep, comp.Result} {
			if err := walkDeterminism(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
