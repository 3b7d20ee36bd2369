// Package application contains the reconcile worker logic: routing policy
// evaluation and task handling.
package application

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"atlas/internal/service/checkout/domain"
)

// Severity routes a reconcile task to a handling channel.
const (
	SeverityTicket = "ticket"
	SeverityPage   = "page"
)

// Policy decides the severity of a reconcile task with a configurable CEL
// expression over the task fields. Operators tune the expression without a
// redeploy.
type Policy struct {
	program cel.Program
}

// NewPolicy compiles expr. The expression sees `order_id`, `reason`
// and `amount_cents` and must evaluate to a severity string.
func NewPolicy(expr string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("order_id", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("amount_cents", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "compile policy expression")
	}
	if ast.OutputType() != cel.StringType {
		return nil, errors.Errorf("policy expression must yield a string, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build policy program")
	}
	return &Policy{program: program}, nil
}

// Evaluate returns the severity for task. Unknown severities degrade to
// "page" so a misconfigured policy fails loud, not quiet.
func (p *Policy) Evaluate(task domain.ReconcileTask) (string, error) {
	out, _, err := p.program.Eval(map[string]interface{}{
		"order_id":     task.OrderID,
		"reason":       task.Reason,
		"amount_cents": task.AmountCents,
	})
	if err != nil {
		return "", errors.Wrap(err, "evaluate policy")
	}
	severity, ok := out.Value().(string)
	if !ok {
		return "", errors.Errorf("policy yielded non-string value: %v", out.Value())
	}
	if severity != SeverityTicket && severity != SeverityPage {
		return SeverityPage, nil
	}
	return severity, nil
}
