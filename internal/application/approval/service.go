package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/execution-hub/bizrules/internal/application/audit"
	"github.com/execution-hub/bizrules/internal/application/notify"
	domainApproval "github.com/execution-hub/bizrules/internal/domain/approval"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/business"
	"github.com/execution-hub/bizrules/internal/domain/directory"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	"github.com/execution-hub/bizrules/internal/domain/threshold"
)

const (
	maxConflictRetries = 5
	pendingScanLimit   = 500
)

// Service routes approval requests through their approver chains.
type Service struct {
	repo      domainApproval.Repository
	dir       directory.Directory
	notifier  *notify.Service
	auditSvc  *appAudit.Service
	executors map[domainApproval.EntityType]Executor
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates an approval service with the default executors over biz.
func NewService(
	repo domainApproval.Repository,
	dir directory.Directory,
	biz business.Store,
	notifier *notify.Service,
	auditSvc *appAudit.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		dir:       dir,
		notifier:  notifier,
		auditSvc:  auditSvc,
		executors: DefaultExecutors(biz),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("service", "approval").Logger(),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterExecutor replaces the approved-action executor for an entity type.
func (s *Service) RegisterExecutor(entityType domainApproval.EntityType, exec Executor) {
	s.executors[entityType] = exec
}

// DiscountInput requests approval for a quote discount.
type DiscountInput struct {
	QuoteID     string  `json:"quoteId"`
	RequesterID string  `json:"requesterId"`
	TotalAmount float64 `json:"totalAmount"`
	DiscountPct float64 `json:"discountPct"`
	Description string  `json:"description"`
}

// BudgetInput requests approval for a project budget change.
type BudgetInput struct {
	ProjectID       string  `json:"projectId"`
	RequesterID     string  `json:"requesterId"`
	CurrentBudget   float64 `json:"currentBudget"`
	RequestedBudget float64 `json:"requestedBudget"`
	Description     string  `json:"description"`
}

// HiringInput requests approval for a hire.
type HiringInput struct {
	CandidateID    string  `json:"candidateId"`
	RequesterID    string  `json:"requesterId"`
	ExpectedSalary float64 `json:"expectedSalary"`
	Description    string  `json:"description"`
}

// ExpenseInput requests approval for an expense claim.
type ExpenseInput struct {
	ExpenseID   string  `json:"expenseId"`
	RequesterID string  `json:"requesterId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// CreateInput is a fully resolved approval request.
type CreateInput struct {
	EntityType  domainApproval.EntityType
	EntityID    string
	RequesterID string
	Amount      *float64
	Description string
	Metadata    domainApproval.Metadata
}

// RequestDiscountApproval routes a discount by percentage.
func (s *Service) RequestDiscountApproval(ctx context.Context, in DiscountInput) (*domainApproval.Request, error) {
	amount := threshold.DiscountAmount(in.TotalAmount, in.DiscountPct)
	return s.route(ctx, threshold.Discount, CreateInput{
		EntityType:  domainApproval.EntityQuote,
		EntityID:    in.QuoteID,
		RequesterID: in.RequesterID,
		Amount:      &amount,
		Description: describe(in.Description, "Discount of %.2f%% on quote %s", in.DiscountPct, in.QuoteID),
		Metadata: domainApproval.Metadata{
			Domain: domainApproval.DomainDiscount,
			Value:  in.DiscountPct,
			Extra: map[string]any{
				"totalAmount":    in.TotalAmount,
				"discountPct":    in.DiscountPct,
				"discountAmount": amount,
			},
		},
	})
}

// RequestBudgetApproval routes a budget change by its absolute delta and raises a budget
// alert for large relative changes regardless of the chain.
func (s *Service) RequestBudgetApproval(ctx context.Context, in BudgetInput) (*domainApproval.Request, error) {
	delta, alert := threshold.BudgetChange(in.CurrentBudget, in.RequestedBudget)
	requested := in.RequestedBudget
	req, err := s.route(ctx, threshold.Budget, CreateInput{
		EntityType:  domainApproval.EntityProject,
		EntityID:    in.ProjectID,
		RequesterID: in.RequesterID,
		Amount:      &requested,
		Description: describe(in.Description, "Budget change on project %s from %.2f to %.2f", in.ProjectID, in.CurrentBudget, in.RequestedBudget),
		Metadata: domainApproval.Metadata{
			Domain: domainApproval.DomainBudget,
			Value:  delta,
			Extra: map[string]any{
				"currentBudget":   in.CurrentBudget,
				"requestedBudget": in.RequestedBudget,
				"budgetDelta":     delta,
				"budgetAlert":     alert,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if alert {
		s.notifyBudgetAlert(ctx, req, in, delta)
	}
	return req, nil
}

// RequestHiringApproval routes a hire by expected salary.
func (s *Service) RequestHiringApproval(ctx context.Context, in HiringInput) (*domainApproval.Request, error) {
	salary := in.ExpectedSalary
	return s.route(ctx, threshold.Hiring, CreateInput{
		EntityType:  domainApproval.EntityCandidate,
		EntityID:    in.CandidateID,
		RequesterID: in.RequesterID,
		Amount:      &salary,
		Description: describe(in.Description, "Hire candidate %s at %.2f", in.CandidateID, in.ExpectedSalary),
		Metadata: domainApproval.Metadata{
			Domain: domainApproval.DomainHiring,
			Value:  in.ExpectedSalary,
		},
	})
}

// RequestExpenseApproval routes an expense by amount.
func (s *Service) RequestExpenseApproval(ctx context.Context, in ExpenseInput) (*domainApproval.Request, error) {
	amount := in.Amount
	return s.route(ctx, threshold.Expense, CreateInput{
		EntityType:  domainApproval.EntityExpense,
		EntityID:    in.ExpenseID,
		RequesterID: in.RequesterID,
		Amount:      &amount,
		Description: describe(in.Description, "Expense %s of %.2f", in.ExpenseID, in.Amount),
		Metadata: domainApproval.Metadata{
			Domain: domainApproval.DomainExpense,
			Value:  in.Amount,
		},
	})
}

func (s *Service) route(ctx context.Context, table threshold.Table, in CreateInput) (*domainApproval.Request, error) {
	if in.EntityID == "" || in.RequesterID == "" {
		return nil, fmt.Errorf("%w: entity and requester are required", domainApproval.ErrInvalidChain)
	}
	chain := table.Lookup(in.Metadata.Value)
	if len(chain) == 0 {
		return s.autoApprove(ctx, in)
	}
	in.Metadata.Chain = chain
	return s.CreateApprovalRequest(ctx, in)
}

// CreateApprovalRequest persists a pending request and notifies the level-1 approvers.
func (s *Service) CreateApprovalRequest(ctx context.Context, in CreateInput) (*domainApproval.Request, error) {
	req, err := domainApproval.NewRequest(in.EntityType, in.EntityID, in.RequesterID, in.Amount, in.Description, in.Metadata, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.auditSvc.Log(ctx, &audit.Entry{
		EntityType: audit.EntityTypeApprovalRequest,
		EntityID:   req.RequestID.String(),
		Action:     audit.ActionCreate,
		Actor:      req.RequesterID,
		Details: map[string]any{
			"entityType": req.EntityType,
			"entityId":   req.EntityID,
			"domain":     req.Metadata.Domain,
			"value":      req.Metadata.Value,
			"levels":     req.RequiredLevels(),
		},
	})
	s.logger.Info().
		Str("requestId", req.RequestID.String()).
		Str("entityType", string(req.EntityType)).
		Str("entityId", req.EntityID).
		Int("levels", req.RequiredLevels()).
		Msg("approval request created")

	s.notifyLevel(ctx, req, 1)
	return req, nil
}

func (s *Service) autoApprove(ctx context.Context, in CreateInput) (*domainApproval.Request, error) {
	now := s.now()
	in.Metadata.Chain = []domainApproval.ApproverConfig{domainApproval.User(domainApproval.SystemApproverID, 1)}
	in.Metadata.AutoApproved = true
	req, err := domainApproval.NewRequest(in.EntityType, in.EntityID, in.RequesterID, in.Amount, in.Description, in.Metadata, now)
	if err != nil {
		return nil, err
	}
	if _, err := req.Apply(domainApproval.Record{
		ApproverID:   domainApproval.SystemApproverID,
		ApproverName: domainApproval.SystemApproverName,
		Action:       domainApproval.ActionApproved,
		Timestamp:    now,
		Level:        1,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.auditSvc.Log(ctx, &audit.Entry{
		EntityType: audit.EntityTypeApprovalRequest,
		EntityID:   req.RequestID.String(),
		Action:     audit.ActionAutoApprove,
		Actor:      audit.SystemActor,
		Details:    map[string]any{"domain": req.Metadata.Domain, "value": req.Metadata.Value},
	})
	s.logger.Info().Str("requestId", req.RequestID.String()).Str("entityId", req.EntityID).Msg("approval request auto-approved")

	req = s.execute(ctx, req)
	s.notifyRequester(ctx, req, notification.TypeApprovalApproved, "Request approved",
		fmt.Sprintf("%s was approved automatically", req.Description), nil)
	return req, nil
}

// CanApprove reports whether userID may decide req at level.
func (s *Service) CanApprove(ctx context.Context, userID string, req *domainApproval.Request, level int) (bool, error) {
	cfg, ok := req.ApproverAt(level)
	if !ok {
		return false, nil
	}
	u, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get approver: %w", err)
	}
	if u == nil {
		return false, nil
	}
	return cfg.Eligible(ctx, s.dir, u, req.RequesterID)
}

// ProcessApproval records approverID's decision at the request's current level. Version
// conflicts are retried against the reloaded request so two approvers racing on one
// level cannot both succeed.
func (s *Service) ProcessApproval(ctx context.Context, requestID uuid.UUID, approverID string, action domainApproval.Action, comment *string) (*domainApproval.Request, error) {
	var (
		req     *domainApproval.Request
		outcome domainApproval.Outcome
		rec     domainApproval.Record
	)
	for attempt := 1; ; attempt++ {
		var err error
		req, err = s.repo.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, domainApproval.ErrNotFound
		}
		if req.IsTerminal() {
			return nil, domainApproval.ErrAlreadyTerminal
		}
		level := req.CurrentLevel()
		ok, err := s.CanApprove(ctx, approverID, req, level)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s at level %d", domainApproval.ErrUnauthorized, approverID, level)
		}

		rec = domainApproval.Record{
			ApproverID:   approverID,
			ApproverName: s.userName(ctx, approverID),
			Action:       action,
			Comment:      comment,
			Timestamp:    s.now(),
			Level:        level,
		}
		outcome, err = req.Apply(rec)
		if err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, domainApproval.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
		s.logger.Debug().Str("requestId", requestID.String()).Int("attempt", attempt).Msg("approval version conflict, retrying")
	}

	details := map[string]any{"level": rec.Level, "comment": rec.Comment}
	switch outcome {
	case domainApproval.OutcomeRejected:
		s.audit(ctx, req, audit.ActionReject, approverID, details)
		reason := "no reason given"
		if comment != nil && *comment != "" {
			reason = *comment
		}
		s.notifyRequester(ctx, req, notification.TypeApprovalRejected, "Request rejected",
			fmt.Sprintf("%s was rejected at level %d: %s", req.Description, rec.Level, reason),
			map[string]any{"reason": reason, "rejectedBy": approverID})
	case domainApproval.OutcomeApproved:
		s.audit(ctx, req, audit.ActionApprove, approverID, details)
		req = s.execute(ctx, req)
		s.notifyRequester(ctx, req, notification.TypeApprovalApproved, "Request approved",
			fmt.Sprintf("%s was fully approved", req.Description), nil)
	default:
		s.audit(ctx, req, audit.ActionLevelApprove, approverID, details)
		s.notifyRequester(ctx, req, notification.TypeApprovalProgress, "Approval progressing",
			fmt.Sprintf("%s approved at level %d of %d", req.Description, rec.Level, req.RequiredLevels()), nil)
		s.notifyLevel(ctx, req, req.CurrentLevel())
	}

	s.logger.Info().
		Str("requestId", req.RequestID.String()).
		Str("approverId", approverID).
		Str("action", string(action)).
		Int("level", rec.Level).
		Str("status", string(req.Status)).
		Msg("approval decision recorded")
	return req, nil
}

// GetApprovalRequest retrieves a request by id.
func (s *Service) GetApprovalRequest(ctx context.Context, requestID uuid.UUID) (*domainApproval.Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domainApproval.ErrNotFound
	}
	return req, nil
}

// ListApprovalRequests returns requests matching filter.
func (s *Service) ListApprovalRequests(ctx context.Context, filter domainApproval.Filter, limit, offset int) ([]*domainApproval.Request, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// PendingForApprover returns pending requests whose current level userID may decide.
func (s *Service) PendingForApprover(ctx context.Context, userID string) ([]*domainApproval.Request, error) {
	status := domainApproval.StatusPending
	pending, err := s.repo.List(ctx, domainApproval.Filter{Status: &status}, pendingScanLimit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*domainApproval.Request, 0, len(pending))
	for _, req := range pending {
		ok, err := s.CanApprove(ctx, userID, req, req.CurrentLevel())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *Service) userName(ctx context.Context, userID string) string {
	u, err := s.dir.GetUser(ctx, userID)
	if err != nil || u == nil || u.Name == "" {
		return userID
	}
	return u.Name
}

func (s *Service) audit(ctx context.Context, req *domainApproval.Request, action audit.Action, actor string, details map[string]any) {
	s.auditSvc.Log(ctx, &audit.Entry{
		EntityType: audit.EntityTypeApprovalRequest,
		EntityID:   req.RequestID.String(),
		Action:     action,
		Actor:      actor,
		Details:    details,
	})
}

func (s *Service) notifyLevel(ctx context.Context, req *domainApproval.Request, level int) {
	cfg, ok := req.ApproverAt(level)
	if !ok {
		return
	}
	ids, err := cfg.Recipients(ctx, s.dir, req.RequesterID)
	if err != nil {
		s.logger.Warn().Err(err).Str("requestId", req.RequestID.String()).Int("level", level).Msg("failed to resolve approvers")
		return
	}
	if len(ids) == 0 {
		s.logger.Warn().Str("requestId", req.RequestID.String()).Int("level", level).Msg("no approvers resolved for level")
		return
	}
	tmpl := notification.NewNotification("", notification.TypeApprovalRequired, notification.PriorityHigh,
		"Approval required", fmt.Sprintf("%s needs your approval (level %d of %d)", req.Description, level, req.RequiredLevels())).
		ForEntity(string(req.EntityType), req.EntityID).
		WithMetadata(s.notificationMetadata(req, level))
	s.notifier.NotifyUsers(ctx, ids, tmpl)
}

func (s *Service) notifyRequester(ctx context.Context, req *domainApproval.Request, typ notification.Type, title, message string, extra map[string]any) {
	priority := notification.PriorityNormal
	if typ == notification.TypeApprovalRejected {
		priority = notification.PriorityHigh
	}
	s.notifier.Notify(ctx, notification.NewNotification(req.RequesterID, typ, priority, title, message).
		ForEntity(string(req.EntityType), req.EntityID).
		WithMetadata(s.notificationMetadata(req, len(req.Approvals))).
		WithMetadata(extra))
}

func (s *Service) notifyBudgetAlert(ctx context.Context, req *domainApproval.Request, in BudgetInput, delta float64) {
	var ids []string
	for _, role := range []string{"finance_manager", "admin"} {
		users, err := s.dir.ListUsers(ctx, directory.ActiveWithRole(role))
		if err != nil {
			s.logger.Warn().Err(err).Str("role", role).Msg("failed to list budget alert recipients")
			continue
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	}
	md := map[string]any{
		"requestId":       req.RequestID.String(),
		"currentBudget":   in.CurrentBudget,
		"requestedBudget": in.RequestedBudget,
	}
	message := fmt.Sprintf("Project %s budget change of %.2f starts from an empty budget", in.ProjectID, delta)
	if in.CurrentBudget > 0 {
		pct := delta / in.CurrentBudget * 100
		md["changePct"] = pct
		message = fmt.Sprintf("Project %s budget change of %.2f is %.0f%% of the current budget", in.ProjectID, delta, pct)
	}
	tmpl := notification.NewNotification("", notification.TypeBudgetAlert, notification.PriorityHigh, "Budget alert", message).
		ForEntity(string(domainApproval.EntityProject), in.ProjectID).
		WithMetadata(md)
	s.notifier.NotifyUsers(ctx, ids, tmpl)
}

func (s *Service) notificationMetadata(req *domainApproval.Request, level int) map[string]any {
	md := map[string]any{
		"requestId": req.RequestID.String(),
		"status":    string(req.Status),
		"level":     level,
		"levels":    req.RequiredLevels(),
		"domain":    string(req.Metadata.Domain),
	}
	if req.Amount != nil {
		md["amount"] = *req.Amount
	}
	return md
}

func describe(desc, format string, args ...any) string {
	if desc != "" {
		return desc
	}
	return fmt.Sprintf(format, args...)
}
