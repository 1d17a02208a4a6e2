package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.atm.limits"

// DefaultRegoPolicy allows a transaction unless a non-zero limit is exceeded.
// Custom policies must declare package atm.limits with the same allow/deny rules.
const DefaultRegoPolicy = `package atm.limits

default allow := false

allow if count(deny) == 0

deny contains "max_withdrawal" if {
	input.kind == "withdraw"
	input.limits.max_withdrawal > 0
	input.amount > input.limits.max_withdrawal
}

deny contains "max_deposit" if {
	input.kind == "deposit"
	input.limits.max_deposit > 0
	input.amount > input.limits.max_deposit
}
`

// OPAEvaluator evaluates the limit policy with a prepared Rego query.
type OPAEvaluator struct {
	limits Limits
	query  rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module (DefaultRegoPolicy when empty) and binds limits.
func NewOPAEvaluator(ctx context.Context, module string, limits Limits) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	pq, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("limits.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile limit policy: %w", err)
	}
	return &OPAEvaluator{limits: limits, query: pq}, nil
}

// LoadModule reads a Rego module from path; an empty path yields DefaultRegoPolicy.
func LoadModule(path string) (string, error) {
	if path == "" {
		return DefaultRegoPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read limit policy: %w", err)
	}
	return string(b), nil
}

// Evaluate returns the policy decision for req. Amounts are passed in cents.
func (e *OPAEvaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	input := map[string]interface{}{
		"kind":    string(req.Kind),
		"amount":  int64(req.Amount),
		"balance": int64(req.Balance),
		"limits": map[string]interface{}{
			"max_withdrawal": int64(e.limits.MaxWithdrawal),
			"max_deposit":    int64(e.limits.MaxDeposit),
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval limit policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errors.New("limit policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("limit policy result has type %T", rs[0].Expressions[0].Value)
	}
	allow, ok := doc["allow"].(bool)
	if !ok {
		return Decision{}, errors.New("limit policy does not define a boolean allow")
	}
	out := Decision{Allowed: allow}
	if deny, ok := doc["deny"].([]interface{}); ok {
		for _, d := range deny {
			if s, ok := d.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
		sort.Strings(out.Reasons)
	}
	return out, nil
}

// HealthCheck evaluates a zero-value request against the compiled policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.Evaluate(ctx, Request{Kind: "deposit", Amount: 1}); err != nil {
		return err
	}
	return nil
}
