package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/execution-hub/bizrules/internal/domain/calendar"
	domainSLA "github.com/execution-hub/bizrules/internal/domain/sla"
)

type policyCreateRequest struct {
	Name            string                     `json:"name"`
	IsDefault       bool                       `json:"isDefault"`
	ContractID      *string                    `json:"contractId,omitempty"`
	AccountID       *string                    `json:"accountId,omitempty"`
	Targets         []domainSLA.Target         `json:"targets"`
	BusinessHours   *calendar.BusinessHours    `json:"businessHours,omitempty"`
	EscalationRules []domainSLA.EscalationRule `json:"escalationRules,omitempty"`
	PauseConditions []domainSLA.PauseCondition `json:"pauseConditions,omitempty"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.slaSvc.CreatePolicy(r.Context(), &domainSLA.Policy{
		Name:            req.Name,
		Active:          true,
		IsDefault:       req.IsDefault,
		ContractID:      req.ContractID,
		AccountID:       req.AccountID,
		Targets:         req.Targets,
		BusinessHours:   req.BusinessHours,
		EscalationRules: req.EscalationRules,
		PauseConditions: req.PauseConditions,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "policyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid policyId")
		return
	}
	p, err := s.slaSvc.GetPolicy(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) getTracker(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.GetTracker(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) initializeSLA(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.InitializeSLA(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) checkSLA(w http.ResponseWriter, r *http.Request) {
	findings, err := s.slaSvc.CheckSLAStatus(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if findings == nil {
		findings = []domainSLA.Finding{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"findings": findings})
}

func (s *Server) recordFirstResponse(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.RecordFirstResponse(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) recordResolution(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.RecordResolution(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) pauseSLA(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "reason required")
		return
	}
	tr, err := s.slaSvc.PauseSLA(r.Context(), chi.URLParam(r, "ticketId"), req.Reason)
	s.respondTracker(w, tr, err)
}

func (s *Server) resumeSLA(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.ResumeSLA(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) statusChanged(w http.ResponseWriter, r *http.Request) {
	tr, err := s.slaSvc.HandleStatusChanged(r.Context(), chi.URLParam(r, "ticketId"))
	s.respondTracker(w, tr, err)
}

func (s *Server) respondTracker(w http.ResponseWriter, tr *domainSLA.Tracker, err error) {
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tr)
}

func (s *Server) slaReport(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "to must be RFC3339")
		return
	}
	report, err := s.reportSvc.GenerateSLAReport(r.Context(), from, to)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) processChecks(w http.ResponseWriter, r *http.Request) {
	limit := s.checkBatch
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid limit")
			return
		}
		limit = l
	}
	res, err := s.slaSvc.ProcessDueChecks(r.Context(), s.now(), limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
