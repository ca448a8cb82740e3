package business

import (
	"context"
	"errors"
)

// CandidateStageOffer is the hiring stage a candidate moves to once the hire is approved.
const CandidateStageOffer = "offer"

// Record statuses written by approved-action executors.
const (
	QuoteStatusApproved   = "approved"
	ExpenseStatusApproved = "approved"
)

var ErrEntityNotFound = errors.New("business entity not found")

// Quote is a sales quote that may carry a discount.
type Quote struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
	DiscountPct float64 `json:"discountPct"`
}

// Project owns a budget.
type Project struct {
	ID     string  `json:"id"`
	Budget float64 `json:"budget"`
}

// Candidate is a hiring pipeline entry.
type Candidate struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
}

// Expense is an expense claim.
type Expense struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// Store mutates the business records that approvals unlock. Missing records fail with
// ErrEntityNotFound.
type Store interface {
	ApproveQuote(ctx context.Context, quoteID string, discountPct float64) error
	SetProjectBudget(ctx context.Context, projectID string, budget float64) error
	SetCandidateStage(ctx context.Context, candidateID, stage string) error
	ApproveExpense(ctx context.Context, expenseID string) error
}
