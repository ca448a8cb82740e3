package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/business"
)

// BusinessRepository implements business.Store.
type BusinessRepository struct {
	pool *pgxpool.Pool
}

func NewBusinessRepository(pool *pgxpool.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

func (r *BusinessRepository) ApproveQuote(ctx context.Context, quoteID string, discountPct float64) error {
	return r.exec(ctx, "quote", quoteID, `UPDATE quotes SET status=$1, discount_pct=$2 WHERE id=$3`,
		business.QuoteStatusApproved, discountPct, quoteID)
}

func (r *BusinessRepository) SetProjectBudget(ctx context.Context, projectID string, budget float64) error {
	return r.exec(ctx, "project", projectID, `UPDATE projects SET budget=$1 WHERE id=$2`, budget, projectID)
}

func (r *BusinessRepository) SetCandidateStage(ctx context.Context, candidateID, stage string) error {
	return r.exec(ctx, "candidate", candidateID, `UPDATE candidates SET stage=$1 WHERE id=$2`, stage, candidateID)
}

func (r *BusinessRepository) ApproveExpense(ctx context.Context, expenseID string) error {
	return r.exec(ctx, "expense", expenseID, `UPDATE expenses SET status=$1 WHERE id=$2`,
		business.ExpenseStatusApproved, expenseID)
}

func (r *BusinessRepository) exec(ctx context.Context, kind, id, sql string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", business.ErrEntityNotFound, kind, id)
	}
	return nil
}
