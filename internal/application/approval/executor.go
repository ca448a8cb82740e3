package approval

import (
	"context"
	"errors"
	"fmt"

	domainApproval "github.com/execution-hub/bizrules/internal/domain/approval"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/business"
)

// Executor performs the business effect of a fully approved request.
type Executor interface {
	Execute(ctx context.Context, req *domainApproval.Request) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req *domainApproval.Request) error

func (f ExecutorFunc) Execute(ctx context.Context, req *domainApproval.Request) error {
	return f(ctx, req)
}

var errMissingAmount = errors.New("approval request has no amount")

// DefaultExecutors maps each entity type to its effect on biz.
func DefaultExecutors(biz business.Store) map[domainApproval.EntityType]Executor {
	return map[domainApproval.EntityType]Executor{
		domainApproval.EntityQuote: ExecutorFunc(func(ctx context.Context, req *domainApproval.Request) error {
			return biz.ApproveQuote(ctx, req.EntityID, req.Metadata.Value)
		}),
		domainApproval.EntityProject: ExecutorFunc(func(ctx context.Context, req *domainApproval.Request) error {
			if req.Amount == nil {
				return errMissingAmount
			}
			return biz.SetProjectBudget(ctx, req.EntityID, *req.Amount)
		}),
		domainApproval.EntityCandidate: ExecutorFunc(func(ctx context.Context, req *domainApproval.Request) error {
			return biz.SetCandidateStage(ctx, req.EntityID, business.CandidateStageOffer)
		}),
		domainApproval.EntityExpense: ExecutorFunc(func(ctx context.Context, req *domainApproval.Request) error {
			return biz.ApproveExpense(ctx, req.EntityID)
		}),
	}
}

// execute runs the executor for an approved request once and records the outcome in
// its metadata. Executor failure never reverts the approved status.
func (s *Service) execute(ctx context.Context, req *domainApproval.Request) *domainApproval.Request {
	var execErr error
	if exec, ok := s.executors[req.EntityType]; ok {
		execErr = exec.Execute(ctx, req)
	} else {
		execErr = fmt.Errorf("unsupported approval entity type: %s", req.EntityType)
	}

	at := s.now()
	if execErr != nil {
		s.logger.Error().Err(execErr).
			Str("requestId", req.RequestID.String()).
			Str("entityType", string(req.EntityType)).
			Str("entityId", req.EntityID).
			Msg("approved action failed")
		s.audit(ctx, req, audit.ActionExecuteFailed, audit.SystemActor, map[string]any{"error": execErr.Error()})
	} else {
		s.audit(ctx, req, audit.ActionExecute, audit.SystemActor, map[string]any{"entityId": req.EntityID})
	}

	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		if execErr != nil {
			msg := execErr.Error()
			req.Metadata.ExecutionError = &msg
		} else {
			req.Metadata.ExecutedAt = &at
		}
		req.UpdatedAt = at
		err := s.repo.Update(ctx, req)
		if err == nil {
			return req
		}
		if !errors.Is(err, domainApproval.ErrVersionConflict) {
			s.logger.Warn().Err(err).Str("requestId", req.RequestID.String()).Msg("failed to record execution result")
			return req
		}
		fresh, err := s.repo.GetByID(ctx, req.RequestID)
		if err != nil || fresh == nil {
			s.logger.Warn().Err(err).Str("requestId", req.RequestID.String()).Msg("failed to reload approval request")
			return req
		}
		req = fresh
	}
	s.logger.Warn().Str("requestId", req.RequestID.String()).Msg("gave up recording execution result")
	return req
}
