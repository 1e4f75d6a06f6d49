package compiler

import (
	"fmt"
	"strconv"
	"strings"

	celgo "github.com/google/cel-go/cel"

	"github.com/petal-labs/flowcanvas/varref"
)

// exprChecker validates condition expressions as CEL. Reference tokens are
// rewritten to nodes["<id>"]["<field>"] before parsing, so an expression
// like `<<llm-1.outputs.score>> > 0.5` checks as a dynamic map lookup.
type exprChecker struct {
	env *celgo.Env
	err error
}

func newExprChecker() *exprChecker {
	env, err := celgo.NewEnv(
		celgo.Variable("nodes", celgo.DynType),
	)
	return &exprChecker{env: env, err: err}
}

// RewriteExpression replaces every reference token in expr with the CEL
// lookup the backend binds it to.
func RewriteExpression(expr string) string {
	return varref.Replace(expr, func(r varref.Reference) string {
		return "nodes[" + strconv.Quote(r.Identifier) + "][" + strconv.Quote(r.FieldName) + "]"
	})
}

// Check parses and type-checks expr. An empty expression is an error.
func (c *exprChecker) Check(expr string) error {
	if c.err != nil {
		return fmt.Errorf("cel environment: %w", c.err)
	}
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("expression is empty")
	}

	ast, issues := c.env.Parse(RewriteExpression(expr))
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("cel parse error: %w", issues.Err())
	}
	if _, issues = c.env.Check(ast); issues != nil && issues.Err() != nil {
		return fmt.Errorf("cel type-check error: %w", issues.Err())
	}
	return nil
}
