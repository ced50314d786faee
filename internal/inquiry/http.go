package inquiry

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/concierge/internal/leadstore"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/types"
)

// MaxBodyBytes caps the size of a submitted inquiry.
const MaxBodyBytes = 64 << 10

// DefaultListLimit is used by GET /api/inquiries without a limit parameter.
const DefaultListLimit = 50

// Handler serves the inquiry API.
type Handler struct {
	svc        *Service
	adminToken string
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithAdminToken enables the read-only lead endpoints, guarded by a bearer
// token.
func WithAdminToken(token string) HandlerOption {
	return func(h *Handler) { h.adminToken = token }
}

// NewHandler returns an HTTP handler for svc.
func NewHandler(svc *Service, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the endpoints on mux:
//
//	POST /api/inquiries       submit an inquiry
//	GET  /api/services        list event types and service options
//	GET  /api/inquiries       list stored leads (admin token)
//	GET  /api/inquiries/{id}  fetch one lead (admin token)
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/inquiries", h.Submit)
	mux.HandleFunc("GET /api/services", h.Services)
	if h.adminToken != "" {
		mux.HandleFunc("GET /api/inquiries", h.requireAdmin(h.List))
		mux.HandleFunc("GET /api/inquiries/{id}", h.requireAdmin(h.Get))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit handles POST /api/inquiries.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var inq types.Inquiry
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&inq); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	receipt, err := h.svc.Submit(r.Context(), inq)
	switch {
	case errors.Is(err, ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		observe.Logger(r.Context()).Error("inquiry submission failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "the inquiry could not be delivered, please try again later"})
	default:
		writeJSON(w, http.StatusCreated, receipt)
	}
}

type servicesResponse struct {
	EventTypes []types.EventType `json:"eventTypes"`
	Services   []string          `json:"services"`
}

// Services handles GET /api/services.
func (h *Handler) Services(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, servicesResponse{
		EventTypes: types.EventTypes,
		Services:   types.ServiceOptions,
	})
}

// List handles GET /api/inquiries?limit=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	leads, err := h.svc.List(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("listing leads", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "listing leads failed"})
		return
	}
	if leads == nil {
		leads = []types.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

// Get handles GET /api/inquiries/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	lead, err := h.svc.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, leadstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "lead not found"})
	case err != nil:
		observe.Logger(r.Context()).Error("fetching lead", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "fetching lead failed"})
	default:
		writeJSON(w, http.StatusOK, lead)
	}
}

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	want := []byte(h.adminToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="concierge"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("inquiry: writing response", "err", err)
	}
}
