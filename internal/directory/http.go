package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type registerRequest struct {
	DisplayName string `json:"displayName"`
}

type listResponse struct {
	Sessions []Session `json:"sessions"`
}

// Handler serves a Directory over HTTP.
type Handler struct {
	dir Directory
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sessions", h.list)
	r.Post("/sessions", h.register)
	r.Delete("/sessions/{id}", h.unregister)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.dir.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listResponse{Sessions: sessions})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := h.dir.Register(r.Context(), req.DisplayName)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidName) {
			status = http.StatusBadRequest
		} else if errors.Is(err, ErrDuplicateID) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Client is a Directory backed by a remote directory service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) List(ctx context.Context) ([]Session, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/sessions", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Register(ctx context.Context, displayName string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, c.baseURL+"/sessions", registerRequest{DisplayName: displayName}, http.StatusCreated, &session)
	return session, err
}

func (c *Client) Unregister(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

func (c *Client) do(ctx context.Context, method, target string, body any, want int, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory: encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == want:
	case resp.StatusCode == http.StatusNotFound:
		return ErrSessionNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrDuplicateID
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidName
	default:
		return fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}
