package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

// Ledger is the queue surface the HTTP layer drives. *queue.Ledger
// satisfies it.
type Ledger interface {
	Admit(ctx context.Context, actor models.Actor, serviceID string) (models.Entry, error)
	AdmitWalkin(ctx context.Context, serviceID string) (models.Entry, error)
	ListActive(ctx context.Context, actor models.Actor, serviceID string) ([]models.Entry, error)
	WalkinBoard(ctx context.Context) ([]models.Entry, error)
	ListWalkins(ctx context.Context, actor models.Actor, serviceID string) ([]models.Entry, error)
	MyEntries(ctx context.Context, actor models.Actor) ([]models.Entry, error)
	GetEntry(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error)
	Transition(ctx context.Context, actor models.Actor, entryID, targetStatus string) (models.Entry, error)
	Cancel(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error)
	DeleteEntry(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error)
	ResetWalkins(ctx context.Context, actor models.Actor) (int, error)
	Stats(ctx context.Context, actor models.Actor, queueDate time.Time) (models.DailyStats, error)
	Completions(ctx context.Context, actor models.Actor, serviceID string, limit int) ([]models.Completion, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	CreateService(ctx context.Context, actor models.Actor, input store.ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, actor models.Actor, serviceID string, input store.ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, actor models.Actor, serviceID string, cascade bool) (int, error)
}

type Handler struct {
	ledger   Ledger
	verifier *TokenVerifier
	limiter  *RateLimiter
	logger   logrus.FieldLogger
	metrics  http.Handler
}

type admitRequest struct {
	ServiceID string `json:"service_id"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type serviceRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	MaxDailyQueue    int    `json:"max_daily_queue"`
	Active           *bool  `json:"active"`
}

type entriesResponse struct {
	Entries []models.Entry `json:"entries"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	Logger    logrus.FieldLogger
	RateLimit RateLimitConfig
	// RateLimitBucket overrides the in-process bucket built from RateLimit.
	RateLimitBucket Bucket
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

func NewHandler(ledger Ledger, verifier *TokenVerifier, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bucket := options.RateLimitBucket
	if bucket == nil {
		bucket = NewMemoryBucket(options.RateLimit)
	}
	return &Handler{
		ledger:   ledger,
		verifier: verifier,
		limiter:  NewRateLimiter(bucket, logger),
		logger:   logger,
		metrics:  options.Metrics,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(h.logger))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/services", h.handleListServices)
		r.Get("/services/{serviceID}", h.handleGetService)
		r.Get("/walkin", h.handleWalkinBoard)
		r.With(h.limiter.Middleware).Post("/walkin", h.handleWalkinAdmit)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/queue", h.handleAdmit)
			r.Get("/queue/mine", h.handleMyEntries)
			r.Get("/queue/entries/{entryID}", h.handleGetEntry)
			r.Post("/queue/entries/{entryID}/cancel", h.handleCancel)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/queue", h.handleListActive)
				r.Get("/queue/stats", h.handleStats)
				r.Get("/walkin", h.handleListWalkins)
				r.Post("/queue/entries/{entryID}/transition", h.handleTransition)
				r.Delete("/queue/entries/{entryID}", h.handleDeleteEntry)
				r.Get("/completions", h.handleCompletions)
				r.Post("/walkin/reset", h.handleResetWalkins)
				r.Post("/services", h.handleCreateService)
				r.Put("/services/{serviceID}", h.handleUpdateService)
				r.Delete("/services/{serviceID}", h.handleDeleteService)
			})
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	services, err := h.ledger.ListServices(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if services == nil {
		services = []models.Service{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	service, err := h.ledger.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (h *Handler) handleWalkinAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	entry, err := h.ledger.AdmitWalkin(r.Context(), req.ServiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleWalkinBoard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.WalkinBoard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	entry, err := h.ledger.Admit(r.Context(), actor, req.ServiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleMyEntries(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	entries, err := h.ledger.MyEntries(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	entry, err := h.ledger.GetEntry(r.Context(), actor, chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	entry, err := h.ledger.Cancel(r.Context(), actor, chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	entries, err := h.ledger.ListActive(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("service_id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func (h *Handler) handleListWalkins(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	entries, err := h.ledger.ListWalkins(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("service_id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	var queueDate time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		queueDate = parsed
	}
	actor, _ := actorFromContext(r.Context())
	stats, err := h.ledger.Stats(r.Context(), actor, queueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	entry, err := h.ledger.Transition(r.Context(), actor, chi.URLParam(r, "entryID"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if _, err := h.ledger.DeleteEntry(r.Context(), actor, chi.URLParam(r, "entryID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	actor, _ := actorFromContext(r.Context())
	records, err := h.ledger.Completions(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("service_id")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []models.Completion{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"completions": records})
}

func (h *Handler) handleResetWalkins(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	deleted, err := h.ledger.ResetWalkins(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	service, err := h.ledger.CreateService(r.Context(), actor, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, service)
}

func (h *Handler) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	service, err := h.ledger.UpdateService(r.Context(), actor, chi.URLParam(r, "serviceID"), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"
	actor, _ := actorFromContext(r.Context())
	deleted, err := h.ledger.DeleteService(r.Context(), actor, chi.URLParam(r, "serviceID"), cascade)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted_entries": deleted})
}

func (req serviceRequest) input() store.ServiceInput {
	return store.ServiceInput{
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		EstimatedMinutes: req.EstimatedMinutes,
		MaxDailyQueue:    req.MaxDailyQueue,
		Active:           req.Active,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("request_id", requestIDFromRequest(r)).Error("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, message)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}

	switch t := target.(type) {
	case *admitRequest:
		t.ServiceID = strings.TrimSpace(t.ServiceID)
		if t.ServiceID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "service_id is required")
			return false
		}
	case *transitionRequest:
		t.Status = strings.ToLower(strings.TrimSpace(t.Status))
		if t.Status == "" {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "status is required")
			return false
		}
	}
	return true
}

func requestIDFromRequest(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrServiceInactive):
		return http.StatusUnprocessableEntity, "service_inactive", "service is not accepting queue entries"
	case errors.Is(err, store.ErrActiveEntry):
		return http.StatusConflict, "active_entry_exists", "you already have an active queue entry today"
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "queue_full", "the queue for this service is full today"
	case errors.Is(err, store.ErrNumberExhausted):
		return http.StatusConflict, "numbers_exhausted", "could not issue a queue number, try again"
	case errors.Is(err, store.ErrDuplicateCode):
		return http.StatusConflict, "duplicate_code", "service code already exists"
	case errors.Is(err, store.ErrServiceInUse):
		return http.StatusConflict, "service_in_use", "service still has queue entries"
	case errors.Is(err, store.ErrState):
		return http.StatusConflict, "invalid_state", "queue entry state does not allow this action"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden", "you are not allowed to perform this action"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "conflict"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeEntries(w http.ResponseWriter, entries []models.Entry) {
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
