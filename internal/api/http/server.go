package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appApproval "github.com/execution-hub/bizrules/internal/application/approval"
	appAudit "github.com/execution-hub/bizrules/internal/application/audit"
	appReport "github.com/execution-hub/bizrules/internal/application/report"
	appSLA "github.com/execution-hub/bizrules/internal/application/sla"
	"github.com/execution-hub/bizrules/internal/domain/approval"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/business"
	"github.com/execution-hub/bizrules/internal/domain/calendar"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	"github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
	"github.com/execution-hub/bizrules/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	approvalSvc *appApproval.Service
	slaSvc      *appSLA.Service
	reportSvc   *appReport.Service
	auditSvc    *appAudit.Service
	sseHub      *sse.Hub
	inbox       notification.Inbox
	checkBatch  int
	now         func() time.Time
	logger      zerolog.Logger
}

func NewServer(
	approvalSvc *appApproval.Service,
	slaSvc *appSLA.Service,
	reportSvc *appReport.Service,
	auditSvc *appAudit.Service,
	sseHub *sse.Hub,
	checkBatch int,
	logger zerolog.Logger,
) *Server {
	if checkBatch <= 0 {
		checkBatch = 100
	}
	return &Server{
		approvalSvc: approvalSvc,
		slaSvc:      slaSvc,
		reportSvc:   reportSvc,
		auditSvc:    auditSvc,
		sseHub:      sseHub,
		checkBatch:  checkBatch,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// WithClock overrides the time used to select due check points.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// WithInbox enables the notification history endpoint.
func (s *Server) WithInbox(inbox notification.Inbox) *Server {
	s.inbox = inbox
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		// The notification stream is long-lived and stays outside the request timeout.
		r.Get("/notifications/stream", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/approvals", func(r chi.Router) {
				r.Post("/discount", s.requestDiscount)
				r.Post("/budget", s.requestBudget)
				r.Post("/hiring", s.requestHiring)
				r.Post("/expense", s.requestExpense)
				r.Get("/", s.listApprovals)
				r.Get("/pending", s.pendingApprovals)
				r.Get("/{requestId}", s.getApproval)
				r.Post("/{requestId}/decide", s.decideApproval)
			})

			r.Route("/sla", func(r chi.Router) {
				r.Post("/policies", s.createPolicy)
				r.Get("/policies/{policyId}", s.getPolicy)

				r.Get("/tickets/{ticketId}", s.getTracker)
				r.Post("/tickets/{ticketId}/initialize", s.initializeSLA)
				r.Post("/tickets/{ticketId}/check", s.checkSLA)
				r.Post("/tickets/{ticketId}/first-response", s.recordFirstResponse)
				r.Post("/tickets/{ticketId}/resolution", s.recordResolution)
				r.Post("/tickets/{ticketId}/pause", s.pauseSLA)
				r.Post("/tickets/{ticketId}/resume", s.resumeSLA)
				r.Post("/tickets/{ticketId}/status-changed", s.statusChanged)

				r.Get("/reports", s.slaReport)
				r.Post("/checks/process", s.processChecks)
			})

			r.Get("/audit/{entityType}/{entityId}", s.auditHistory)
			if s.inbox != nil {
				r.Get("/notifications", s.listNotifications)
			}
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps domain sentinel errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, sla.ErrTrackerNotFound),
		errors.Is(err, sla.ErrPolicyNotFound),
		errors.Is(err, ticket.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, approval.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, approval.ErrAlreadyTerminal),
		errors.Is(err, approval.ErrVersionConflict),
		errors.Is(err, sla.ErrVersionConflict),
		errors.Is(err, sla.ErrTrackerClosed):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, approval.ErrInvalidChain),
		errors.Is(err, approval.ErrInvalidAction),
		errors.Is(err, sla.ErrNoApplicablePolicy),
		errors.Is(err, sla.ErrNoTarget),
		errors.Is(err, appSLA.ErrInvalidPolicy),
		errors.Is(err, appReport.ErrInvalidPeriod),
		errors.Is(err, calendar.ErrInvalidCalendar),
		errors.Is(err, calendar.ErrCalendarExhausted),
		errors.Is(err, business.ErrEntityNotFound):
		respondError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"sse_clients": s.sseHub.GetClientCount(),
	})
}

// Audit handlers
func (s *Server) auditHistory(w http.ResponseWriter, r *http.Request) {
	entityType := audit.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityId")
	events, err := s.auditSvc.History(r.Context(), entityType, entityID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	type verifiedEvent struct {
		*audit.Event
		Verified bool `json:"verified"`
	}
	out := make([]verifiedEvent, 0, len(events))
	for _, e := range events {
		ok, _ := s.auditSvc.Verify(e)
		out = append(out, verifiedEvent{Event: e, Verified: ok})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "user_id is required")
		return
	}
	limit, _ := parseLimitOffset(r, 50, 200)
	items, err := s.inbox.ListForUser(r.Context(), userID, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

// Notification stream
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "user_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	client := notification.NewSSEClient(clientID, &userID)
	s.sseHub.Register(client)
	defer s.sseHub.Remove(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
