package rule

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"stockledger/internal/service/payment/domain"
)

// CELClassifier 用 CEL 表达式把渠道事件映射为支付结果
// 表达式可用变量：event_type、intent_id，结果必须是 bool
// 两条规则都不命中时视为 ignored
type CELClassifier struct {
	succeeded cel.Program
	failed    cel.Program
}

// NewCELClassifier 编译规则，表达式为空表示该结果永不命中
func NewCELClassifier(succeededExpr, failedExpr string) (*CELClassifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("intent_id", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	c := &CELClassifier{}
	if c.succeeded, err = compile(env, succeededExpr); err != nil {
		return nil, errors.Wrap(err, "succeeded rule")
	}
	if c.failed, err = compile(env, failedExpr); err != nil {
		return nil, errors.Wrap(err, "failed rule")
	}
	return c, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	return env.Program(ast)
}

// Classify 实现 port.EventClassifier，succeeded 规则优先
func (c *CELClassifier) Classify(ctx context.Context, e domain.PaymentEvent) (domain.Outcome, error) {
	vars := map[string]any{"event_type": e.Type, "intent_id": e.IntentID}
	for _, r := range []struct {
		prg     cel.Program
		outcome domain.Outcome
	}{
		{c.succeeded, domain.OutcomeSucceeded},
		{c.failed, domain.OutcomeFailed},
	} {
		if r.prg == nil {
			continue
		}
		out, _, err := r.prg.ContextEval(ctx, vars)
		if err != nil {
			return domain.OutcomeIgnored, errors.Wrapf(err, "evaluate %s rule", r.outcome)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.outcome, nil
		}
	}
	return domain.OutcomeIgnored, nil
}
