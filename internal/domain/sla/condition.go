package sla

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// conditionParams exposes the ticket fields pause expressions may reference.
func conditionParams(t *ticket.Ticket) map[string]interface{} {
	params := map[string]interface{}{
		"status":          string(t.Status),
		"priority":        string(t.Priority),
		"escalationLevel": float64(t.EscalationLevel),
		"assigned":        t.AssigneeID != nil,
	}
	return params
}

// EvaluateCondition evaluates expression against t. Empty expressions are false.
// Supports "true"/"false" literals.
func EvaluateCondition(expression string, t *ticket.Ticket) (bool, error) {
	cond := strings.TrimSpace(expression)
	if cond == "" {
		return false, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, fmt.Errorf("parse pause condition %q: %w", cond, err)
	}
	result, err := expr.Evaluate(conditionParams(t))
	if err != nil {
		return false, fmt.Errorf("evaluate pause condition %q: %w", cond, err)
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("pause condition did not evaluate to boolean")
	}
}

// MatchPause returns the first pause condition of p that holds for t.
func (p *Policy) MatchPause(t *ticket.Ticket) (*PauseCondition, error) {
	for i := range p.PauseConditions {
		ok, err := EvaluateCondition(p.PauseConditions[i].Expression, t)
		if err != nil {
			return nil, err
		}
		if ok {
			return &p.PauseConditions[i], nil
		}
	}
	return nil, nil
}
