package sla

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/bizrules/internal/domain/calendar"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

var (
	ErrTrackerNotFound    = errors.New("sla tracker not found")
	ErrPolicyNotFound     = errors.New("sla policy not found")
	ErrNoApplicablePolicy = errors.New("no applicable sla policy")
	ErrNoTarget           = errors.New("sla policy has no target for priority")
	ErrVersionConflict    = errors.New("sla tracker modified concurrently")
	ErrTrackerClosed      = errors.New("sla tracker closed")
)

// Target holds the time allowances for one ticket priority.
type Target struct {
	Priority              ticket.Priority `json:"priority"`
	FirstResponseMinutes  int             `json:"firstResponseMinutes"`
	ResolutionMinutes     int             `json:"resolutionMinutes"`
	UpdateIntervalMinutes *int            `json:"updateIntervalMinutes,omitempty"`
	BusinessHoursOnly     bool            `json:"businessHoursOnly"`
}

// Trigger selects which tracker event fires an escalation rule.
type Trigger string

const (
	TriggerBreach      Trigger = "breach"
	TriggerWarning     Trigger = "warning"
	TriggerApproaching Trigger = "approaching"
)

// ActionType is the kind of escalation action.
type ActionType string

const (
	ActionNotify     ActionType = "notify"
	ActionReassign   ActionType = "reassign"
	ActionEscalate   ActionType = "escalate"
	ActionCreateTask ActionType = "create_task"
)

// EscalationAction is one step executed when a rule fires.
type EscalationAction struct {
	Type ActionType `json:"type"`
	// Targets are user ids or role names, resolved by the dispatcher.
	Targets []string `json:"targets,omitempty"`
	// Role restricts reassignment candidates; defaults to support_agent.
	Role        string `json:"role,omitempty"`
	WorkloadCap int    `json:"workloadCap,omitempty"`
	Message     string `json:"message,omitempty"`
}

// EscalationRule fires its actions on a trigger. ThresholdPct is ignored for breach rules
// and must match the crossed threshold for warning and approaching rules.
type EscalationRule struct {
	Trigger      Trigger            `json:"trigger"`
	ThresholdPct int                `json:"thresholdPct,omitempty"`
	Actions      []EscalationAction `json:"actions"`
}

// PauseCondition pauses the clock while Expression holds for the ticket.
type PauseCondition struct {
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

// Policy is a set of SLA targets and escalation rules.
type Policy struct {
	ID              uuid.UUID               `json:"id"`
	Name            string                  `json:"name"`
	Active          bool                    `json:"active"`
	IsDefault       bool                    `json:"isDefault"`
	ContractID      *string                 `json:"contractId,omitempty"`
	AccountID       *string                 `json:"accountId,omitempty"`
	Targets         []Target                `json:"targets"`
	BusinessHours   *calendar.BusinessHours `json:"businessHours,omitempty"`
	EscalationRules []EscalationRule        `json:"escalationRules,omitempty"`
	PauseConditions []PauseCondition        `json:"pauseConditions,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// TargetFor returns the target for priority, falling back to medium.
func (p *Policy) TargetFor(priority ticket.Priority) (Target, bool) {
	var fallback *Target
	for i := range p.Targets {
		if p.Targets[i].Priority == priority {
			return p.Targets[i], true
		}
		if p.Targets[i].Priority == ticket.PriorityMedium {
			fallback = &p.Targets[i]
		}
	}
	if fallback != nil {
		t := *fallback
		return t, true
	}
	return Target{}, false
}

// Calendar builds the business calendar for the policy, defaulting to Mon-Fri 09:00-18:00 UTC.
func (p *Policy) Calendar() (*calendar.Calendar, error) {
	if p.BusinessHours == nil {
		return calendar.New(calendar.DefaultBusinessHours())
	}
	return calendar.New(*p.BusinessHours)
}

// RulesFor returns rules with the given trigger. For non-breach triggers only rules whose
// threshold equals pct are returned.
func (p *Policy) RulesFor(trigger Trigger, pct int) []EscalationRule {
	var out []EscalationRule
	for _, r := range p.EscalationRules {
		if r.Trigger != trigger {
			continue
		}
		if trigger != TriggerBreach && r.ThresholdPct != pct {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ApproachingThresholds lists the distinct approaching thresholds configured on the policy.
func (p *Policy) ApproachingThresholds() []int {
	seen := map[int]bool{}
	var out []int
	for _, r := range p.EscalationRules {
		if r.Trigger != TriggerApproaching || r.ThresholdPct <= 0 || seen[r.ThresholdPct] {
			continue
		}
		seen[r.ThresholdPct] = true
		out = append(out, r.ThresholdPct)
	}
	return out
}

// MatchesContract reports whether the policy is bound to the ticket's contract.
func (p *Policy) MatchesContract(contractID *string) bool {
	return contractID != nil && p.ContractID != nil && *p.ContractID == *contractID
}

func (p *Policy) MatchesAccount(accountID *string) bool {
	return accountID != nil && p.AccountID != nil && *p.AccountID == *accountID
}

// Resolve picks the applicable policy from candidates: contract-specific first, then
// account-specific, then the active default. Inactive policies are ignored.
func Resolve(policies []*Policy, t *ticket.Ticket) (*Policy, error) {
	var byAccount, byDefault *Policy
	for _, p := range policies {
		if !p.Active {
			continue
		}
		if p.MatchesContract(t.ContractID) {
			return p, nil
		}
		if byAccount == nil && p.MatchesAccount(t.AccountID) {
			byAccount = p
		}
		if byDefault == nil && p.IsDefault {
			byDefault = p
		}
	}
	if byAccount != nil {
		return byAccount, nil
	}
	if byDefault != nil {
		return byDefault, nil
	}
	return nil, ErrNoApplicablePolicy
}
