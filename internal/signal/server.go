package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
)

const maxLeaseTTL = 5 * time.Minute

type claimRequest struct {
	Endpoint   string `json:"endpoint"`
	Supersedes string `json:"supersedes,omitempty"`
	TTLMillis  int64  `json:"ttlMillis"`
}

type refreshRequest struct {
	Token     string `json:"token"`
	TTLMillis int64  `json:"ttlMillis"`
}

type resolveResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves a Registry over HTTP.
type Handler struct {
	registry Registry
	logger   telemetry.Logger
}

// NewHandler wraps registry for HTTP access.
func NewHandler(registry Registry, logger telemetry.Logger) *Handler {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Handler{registry: registry, logger: logger}
}

// Routes mounts the peer endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/peers/{id}", func(r chi.Router) {
		r.Post("/", h.claim)
		r.Put("/", h.refresh)
		r.Get("/", h.resolve)
		r.Delete("/", h.release)
	})
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var (
		lease Lease
		err   error
	)
	if req.Supersedes != "" {
		lease, err = h.registry.Supersede(r.Context(), id, req.Supersedes, req.Endpoint, clampTTL(req.TTLMillis))
	} else {
		lease, err = h.registry.Claim(r.Context(), id, req.Endpoint, clampTTL(req.TTLMillis))
	}
	if err != nil {
		h.logger.Printf("[signal] claim %s refused: %v", id, err)
		writeError(w, statusFor(err), err)
		return
	}
	h.logger.Printf("[signal] claimed %s endpoint=%q", id, req.Endpoint)
	writeJSON(w, http.StatusCreated, lease)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.Refresh(r.Context(), Lease{ID: id, Token: req.Token}, clampTTL(req.TTLMillis)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	endpoint, err := h.registry.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{ID: id, Endpoint: endpoint})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lease := Lease{ID: id, Token: r.URL.Query().Get("token")}
	if err := h.registry.Release(r.Context(), lease); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.logger.Printf("[signal] released %s", id)
	w.WriteHeader(http.StatusNoContent)
}

func clampTTL(millis int64) time.Duration {
	ttl := time.Duration(millis) * time.Millisecond
	if ttl <= 0 {
		return 10 * time.Second
	}
	if ttl > maxLeaseTTL {
		return maxLeaseTTL
	}
	return ttl
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrIdentityTaken):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoEndpoint):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrLeaseLost):
		return http.StatusGone
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorFor(status int, message string) error {
	switch status {
	case http.StatusConflict:
		return ErrIdentityTaken
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrNoEndpoint
	case http.StatusGone:
		return ErrLeaseLost
	case http.StatusBadRequest:
		return ErrInvalidID
	default:
		return errors.New("signal: " + message)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
