package httpapi

import (
	"net/http"

	appApproval "github.com/execution-hub/bizrules/internal/application/approval"
	domainApproval "github.com/execution-hub/bizrules/internal/domain/approval"
)

type approvalDecisionRequest struct {
	ApproverID string  `json:"approverId"`
	Action     string  `json:"action"`
	Comment    *string `json:"comment,omitempty"`
}

func (s *Server) requestDiscount(w http.ResponseWriter, r *http.Request) {
	var in appApproval.DiscountInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if in.QuoteID == "" || in.RequesterID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "quoteId and requesterId are required")
		return
	}
	req, err := s.approvalSvc.RequestDiscountApproval(r.Context(), in)
	s.respondRequest(w, req, err)
}

func (s *Server) requestBudget(w http.ResponseWriter, r *http.Request) {
	var in appApproval.BudgetInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if in.ProjectID == "" || in.RequesterID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "projectId and requesterId are required")
		return
	}
	req, err := s.approvalSvc.RequestBudgetApproval(r.Context(), in)
	s.respondRequest(w, req, err)
}

func (s *Server) requestHiring(w http.ResponseWriter, r *http.Request) {
	var in appApproval.HiringInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if in.CandidateID == "" || in.RequesterID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "candidateId and requesterId are required")
		return
	}
	req, err := s.approvalSvc.RequestHiringApproval(r.Context(), in)
	s.respondRequest(w, req, err)
}

func (s *Server) requestExpense(w http.ResponseWriter, r *http.Request) {
	var in appApproval.ExpenseInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if in.ExpenseID == "" || in.RequesterID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "expenseId and requesterId are required")
		return
	}
	req, err := s.approvalSvc.RequestExpenseApproval(r.Context(), in)
	s.respondRequest(w, req, err)
}

// respondRequest answers 201 for requests that still wait on approvers and 200 for
// auto-approved ones.
func (s *Server) respondRequest(w http.ResponseWriter, req *domainApproval.Request, err error) {
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if req.Status == domainApproval.StatusPending {
		status = http.StatusCreated
	}
	respondJSON(w, status, req)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	filter := domainApproval.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domainApproval.Status(v)
		filter.Status = &st
	}
	if v := r.URL.Query().Get("entity_type"); v != "" {
		et := domainApproval.EntityType(v)
		filter.EntityType = &et
	}
	if v := r.URL.Query().Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := r.URL.Query().Get("requester_id"); v != "" {
		filter.RequesterID = &v
	}
	items, err := s.approvalSvc.ListApprovalRequests(r.Context(), filter, limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"approvals": items})
}

func (s *Server) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "approver_id required")
		return
	}
	items, err := s.approvalSvc.PendingForApprover(r.Context(), approverID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"approvals": items})
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "requestId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid requestId")
		return
	}
	item, err := s.approvalSvc.GetApprovalRequest(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "requestId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid requestId")
		return
	}
	var req approvalDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ApproverID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "approverId required")
		return
	}
	action, err := domainApproval.ParseAction(req.Action)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "action must be approved or rejected")
		return
	}
	item, err := s.approvalSvc.ProcessApproval(r.Context(), id, req.ApproverID, action, req.Comment)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
