package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a Registry backed by a remote signaling server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets the signaling server at baseURL. A nil httpClient uses a
// client with a short timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Claim(ctx context.Context, id, endpoint string, ttl time.Duration) (Lease, error) {
	if id == "" {
		return Lease{}, ErrInvalidID
	}
	var lease Lease
	err := c.do(ctx, http.MethodPost, c.peerURL(id, ""), claimRequest{Endpoint: endpoint, TTLMillis: ttl.Milliseconds()}, http.StatusCreated, &lease)
	return lease, err
}

func (c *Client) Supersede(ctx context.Context, id, stale, endpoint string, ttl time.Duration) (Lease, error) {
	if id == "" {
		return Lease{}, ErrInvalidID
	}
	if stale == "" {
		return c.Claim(ctx, id, endpoint, ttl)
	}
	var lease Lease
	req := claimRequest{Endpoint: endpoint, Supersedes: stale, TTLMillis: ttl.Milliseconds()}
	err := c.do(ctx, http.MethodPost, c.peerURL(id, ""), req, http.StatusCreated, &lease)
	return lease, err
}

func (c *Client) Refresh(ctx context.Context, lease Lease, ttl time.Duration) error {
	return c.do(ctx, http.MethodPut, c.peerURL(lease.ID, ""), refreshRequest{Token: lease.Token, TTLMillis: ttl.Milliseconds()}, http.StatusNoContent, nil)
}

func (c *Client) Resolve(ctx context.Context, id string) (string, error) {
	var resp resolveResponse
	if err := c.do(ctx, http.MethodGet, c.peerURL(id, ""), nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Endpoint, nil
}

func (c *Client) Release(ctx context.Context, lease Lease) error {
	return c.do(ctx, http.MethodDelete, c.peerURL(lease.ID, lease.Token), nil, http.StatusNoContent, nil)
}

func (c *Client) peerURL(id, token string) string {
	target := c.baseURL + "/peers/" + url.PathEscape(id) + "/"
	if token != "" {
		target += "?token=" + url.QueryEscape(token)
	}
	return target
}

func (c *Client) do(ctx context.Context, method, target string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("signal: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("signal: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signal: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr errorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return errorFor(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("signal: decode response: %w", err)
	}
	return nil
}
