// Package api exposes the assistant over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/assistant"
	"github.com/nidhogg/ramify/internal/gateway"
	"github.com/nidhogg/ramify/internal/provider"
	"github.com/nidhogg/ramify/internal/session"
	"go.uber.org/zap"
)

// SessionHeader names the session when the body does not.
const SessionHeader = "X-Session-ID"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc         *assistant.Service
	providers   *provider.Router
	gw          *gateway.Gateway
	restGW      *gateway.RESTAdapter
	broadcaster *gateway.Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a new API handler. providers and the gateway pieces may
// be nil; their routes then report empty state.
func NewHandler(
	svc *assistant.Service,
	providers *provider.Router,
	gw *gateway.Gateway,
	restGW *gateway.RESTAdapter,
	broadcaster *gateway.Broadcaster,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		svc:         svc,
		providers:   providers,
		gw:          gw,
		restGW:      restGW,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", SessionHeader},
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.Post("/ramification-calculator", h.ramification)
	r.Post("/task-manager", h.taskManager)
	r.Post("/medication-reminder", h.medicationReminder)
	r.Post("/update-schedule", h.updateSchedule)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/schedule", h.getSchedule)
		r.Get("/context", h.getContext)
		r.Get("/sessions/{id}/history", h.getHistory)
		r.Post("/medications/{name}/acknowledge", h.acknowledge)

		r.Get("/gateway/status", h.gatewayStatus)
		r.Get("/broadcasts", h.listBroadcasts)
		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
	})

	return r
}

type assistantRequest struct {
	UserInput   string `json:"userInput"`
	CurrentTime string `json:"currentTime,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

type scheduleRequest struct {
	Schedule json.RawMessage `json:"schedule"`
}

type resultResponse struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ramification(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssistant(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.Ramification(r.Context(), sessionID(r, req.SessionID), req.UserInput)
	h.respond(w, r, reply, err)
}

func (h *Handler) taskManager(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssistant(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.TaskManager(r.Context(), sessionID(r, req.SessionID), req.UserInput)
	h.respond(w, r, reply, err)
}

func (h *Handler) medicationReminder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssistant(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.MedicationReminder(r.Context(), sessionID(r, req.SessionID), req.UserInput, req.CurrentTime)
	h.respond(w, r, reply, err)
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, r, "", apperr.Validation(session.InvalidScheduleMessage))
		return
	}
	result, err := h.svc.UpdateSchedule(r.Context(), req.Schedule)
	h.respond(w, r, result, err)
}

func (h *Handler) decodeAssistant(w http.ResponseWriter, r *http.Request) (assistantRequest, bool) {
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, r, "", apperr.Validation("invalid request body"))
		return req, false
	}
	return req, true
}

// respond writes {result} on success. Errors are logged with full detail and
// mapped to a status and a caller-safe message.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, result string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, resultResponse{Result: result})
		return
	}

	status := apperr.StatusCode(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("code", apperr.CodeOf(err)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	writeJSON(w, status, errorResponse{Error: apperr.PublicMessage(err)})
}

// sessionID picks the body field, then the header, then the shared default.
func sessionID(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	return session.DefaultSessionID
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if h.providers != nil {
		for _, p := range h.providers.ListProviders() {
			ids = append(ids, p.ID())
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "ramify",
		"providers": ids,
		"sessions":  len(h.svc.Store().Sessions()),
	})
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Schedule())
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	c := h.svc.ReminderContext()
	if c.Pending == nil {
		c.Pending = []string{}
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns := h.svc.Store().History(id)
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": id,
		"turns":     turns,
	})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.Acknowledge(r.Context(), name); err != nil {
		h.respond(w, r, "", err)
		return
	}
	h.respond(w, r, "Acknowledged "+name, nil)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	statuses := []gateway.AdapterStatus{}
	if h.gw != nil {
		statuses = h.gw.Statuses()
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	records := []gateway.BroadcastRecord{}
	if h.broadcaster != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records = h.broadcaster.History(limit)
	}
	writeJSON(w, http.StatusOK, records)
}

// requestLogger logs one line per request with zap.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
