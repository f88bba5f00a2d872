package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/auth"
	"github.com/facturaIA/nfse-chat-service/internal/logger"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

const (
	MaxBodySize = 64 * 1024
	Version     = "1.0.0"
)

// MessageProcessor answers one inbound chat message
type MessageProcessor interface {
	Process(ctx context.Context, phone, text string) string
}

// SessionReader looks up the active session of a phone
type SessionReader interface {
	GetActive(ctx context.Context, phone string) (*session.Session, error)
}

// Checker reports whether a dependency is reachable
type Checker func(ctx context.Context) error

// Handler serves the chat gateway API
type Handler struct {
	processor MessageProcessor
	sessions  SessionReader
	auth      *auth.Authenticator
	validate  *validator.Validate
	checks    map[string]Checker
	log       zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(processor MessageProcessor, sessions SessionReader, authenticator *auth.Authenticator, log zerolog.Logger) *Handler {
	return &Handler{
		processor: processor,
		sessions:  sessions,
		auth:      authenticator,
		validate:  validator.New(),
		checks:    make(map[string]Checker),
		log:       log,
	}
}

// AddHealthCheck registers a dependency shown by /health
func (h *Handler) AddHealthCheck(name string, check Checker) {
	h.checks[name] = check
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/api/auth/token", h.auth.LoginHandler).Methods("POST")

	// everything else under /api needs a gateway token
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(h.auth.Middleware)
	protected.HandleFunc("/messages", h.ProcessMessage).Methods("POST")
	protected.HandleFunc("/sessions/{phone}", h.GetSession).Methods("GET")

	return router
}

// MessageRequest is the body of POST /api/messages
type MessageRequest struct {
	Phone   string `json:"phone" validate:"required,numeric,min=10,max=15"`
	Message string `json:"message" validate:"required,max=4096"`
}

// MessageResponse carries the reply to send back on the chat channel
type MessageResponse struct {
	Phone string `json:"phone"`
	Reply string `json:"reply"`
}

// ProcessMessage handles one inbound message for an authorized phone
func (h *Handler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize)).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = auth.NormalizePhone(req.Phone)
	req.Message = strings.TrimSpace(req.Message)

	if err := h.validate.Struct(req); err != nil {
		h.sendError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if !h.authorize(w, r, req.Phone) {
		return
	}

	reply := h.processor.Process(r.Context(), req.Phone, req.Message)
	h.sendJSON(w, http.StatusOK, MessageResponse{Phone: req.Phone, Reply: reply})
}

// GetSession returns the active session of a phone
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	phone := auth.NormalizePhone(mux.Vars(r)["phone"])
	if phone == "" {
		h.sendError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if !h.authorize(w, r, phone) {
		return
	}

	s, err := h.sessions.GetActive(r.Context(), phone)
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "no active session")
		return
	case err != nil:
		h.log.Error().Err(err).Str("phone", logger.MaskPhone(phone)).Msg("session lookup failed")
		h.sendError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	h.sendJSON(w, http.StatusOK, s)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, phone string) bool {
	claims, err := auth.ClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if err := h.auth.Authorize(claims, phone); err != nil {
		h.log.Warn().
			Str("client_id", claims.ClientID).
			Str("tenant", claims.Tenant).
			Str("phone", logger.MaskPhone(phone)).
			Msg("phone not authorized")
		h.sendError(w, http.StatusForbidden, "phone not authorized")
		return false
	}
	return true
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp string                   `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Memory    MemoryStats              `json:"memory"`
	Services  map[string]ServiceStatus `json:"services"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports the service and its dependencies. Any unavailable
// dependency marks the service degraded but still answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Services: make(map[string]ServiceStatus, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		status := ServiceStatus{Available: true}
		if err := h.checks[name](ctx); err != nil {
			status = ServiceStatus{Error: err.Error()}
			resp.Status = "degraded"
		}
		resp.Services[name] = status
	}

	h.sendJSON(w, http.StatusOK, resp)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to write response")
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, map[string]string{"error": message})
}
