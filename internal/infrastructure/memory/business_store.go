package memory

import (
	"context"
	"sync"

	"github.com/execution-hub/bizrules/internal/domain/business"
)

// BusinessStore implements business.Store
type BusinessStore struct {
	mu         sync.RWMutex
	quotes     map[string]*business.Quote
	projects   map[string]*business.Project
	candidates map[string]*business.Candidate
	expenses   map[string]*business.Expense
}

func NewBusinessStore() *BusinessStore {
	return &BusinessStore{
		quotes:     map[string]*business.Quote{},
		projects:   map[string]*business.Project{},
		candidates: map[string]*business.Candidate{},
		expenses:   map[string]*business.Expense{},
	}
}

func (s *BusinessStore) PutQuote(q *business.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.ID] = clone(q)
}

func (s *BusinessStore) PutProject(p *business.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = clone(p)
}

func (s *BusinessStore) PutCandidate(c *business.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = clone(c)
}

func (s *BusinessStore) PutExpense(e *business.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses[e.ID] = clone(e)
}

func (s *BusinessStore) Quote(id string) *business.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.quotes[id])
}

func (s *BusinessStore) Project(id string) *business.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.projects[id])
}

func (s *BusinessStore) Candidate(id string) *business.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.candidates[id])
}

func (s *BusinessStore) Expense(id string) *business.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.expenses[id])
}

func (s *BusinessStore) ApproveQuote(_ context.Context, quoteID string, discountPct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return business.ErrEntityNotFound
	}
	q.Status = business.QuoteStatusApproved
	q.DiscountPct = discountPct
	return nil
}

func (s *BusinessStore) SetProjectBudget(_ context.Context, projectID string, budget float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return business.ErrEntityNotFound
	}
	p.Budget = budget
	return nil
}

func (s *BusinessStore) SetCandidateStage(_ context.Context, candidateID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return business.ErrEntityNotFound
	}
	c.Stage = stage
	return nil
}

func (s *BusinessStore) ApproveExpense(_ context.Context, expenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[expenseID]
	if !ok {
		return business.ErrEntityNotFound
	}
	e.Status = business.ExpenseStatusApproved
	return nil
}
