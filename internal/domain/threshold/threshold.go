// Package threshold maps a numeric business value to the approver chain it requires.
package threshold

import (
	"math"

	"github.com/execution-hub/bizrules/internal/domain/approval"
)

// BudgetAlertRatio is the change-to-current ratio above which finance is alerted.
const BudgetAlertRatio = 0.8

// Tier is one row of a threshold table. Values up to and including MaxValue fall
// into the tier.
type Tier struct {
	MaxValue  float64
	Approvers []approval.ApproverConfig
}

// Table is an ordered set of tiers. The last tier should be unbounded.
type Table []Tier

// Lookup returns the chain for value. An empty chain means auto-approve.
func (t Table) Lookup(value float64) []approval.ApproverConfig {
	for _, tier := range t {
		if value <= tier.MaxValue {
			return clone(tier.Approvers)
		}
	}
	if len(t) == 0 {
		return nil
	}
	return clone(t[len(t)-1].Approvers)
}

func clone(in []approval.ApproverConfig) []approval.ApproverConfig {
	if len(in) == 0 {
		return nil
	}
	out := make([]approval.ApproverConfig, len(in))
	copy(out, in)
	return out
}

var unbounded = math.Inf(1)

// Discount is keyed by discount percent.
var Discount = Table{
	{MaxValue: 10},
	{MaxValue: 20, Approvers: []approval.ApproverConfig{
		approval.Role("sales_manager", 1),
	}},
	{MaxValue: 30, Approvers: []approval.ApproverConfig{
		approval.Role("sales_manager", 1),
		approval.Role("finance_manager", 2),
	}},
	{MaxValue: unbounded, Approvers: []approval.ApproverConfig{
		approval.Role("sales_manager", 1),
		approval.Role("finance_manager", 2),
		approval.Role("admin", 3),
	}},
}

// Budget is keyed by the absolute budget change.
var Budget = Table{
	{MaxValue: 5000, Approvers: []approval.ApproverConfig{
		approval.Role("project_manager", 1),
	}},
	{MaxValue: 20000, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
	}},
	{MaxValue: 50000, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
		approval.Role("finance_manager", 2),
	}},
	{MaxValue: unbounded, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
		approval.Role("finance_manager", 2),
		approval.Role("admin", 3),
	}},
}

// Hiring is keyed by proposed salary.
var Hiring = Table{
	{MaxValue: 50000, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
		approval.Role("hr_manager", 2),
	}},
	{MaxValue: 100000, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
		approval.Role("hr_manager", 2),
		approval.Role("finance_manager", 3),
	}},
	{MaxValue: unbounded, Approvers: []approval.ApproverConfig{
		approval.DepartmentHead(1),
		approval.Role("hr_manager", 2),
		approval.Role("finance_manager", 3),
		approval.Role("admin", 4),
	}},
}

// Expense is keyed by expense amount.
var Expense = Table{
	{MaxValue: 500},
	{MaxValue: 2000, Approvers: []approval.ApproverConfig{
		approval.Manager(1),
	}},
	{MaxValue: 10000, Approvers: []approval.ApproverConfig{
		approval.Manager(1),
		approval.DepartmentHead(2),
	}},
	{MaxValue: unbounded, Approvers: []approval.ApproverConfig{
		approval.Manager(1),
		approval.DepartmentHead(2),
		approval.Role("finance_manager", 3),
		approval.Role("admin", 4),
	}},
}

// ForDomain returns the table for an approval domain.
func ForDomain(d approval.Domain) (Table, bool) {
	switch d {
	case approval.DomainDiscount:
		return Discount, true
	case approval.DomainBudget:
		return Budget, true
	case approval.DomainHiring:
		return Hiring, true
	case approval.DomainExpense:
		return Expense, true
	default:
		return nil, false
	}
}

// DiscountAmount is the monetary value of a percentage discount.
func DiscountAmount(total, pct float64) float64 {
	return total * pct / 100
}

// BudgetChange returns the absolute change and whether it warrants a finance alert.
func BudgetChange(current, requested float64) (delta float64, alert bool) {
	delta = math.Abs(requested - current)
	if current <= 0 {
		// Any change from an empty budget is an unbounded relative change.
		return delta, delta > 0
	}
	return delta, delta/current > BudgetAlertRatio
}
