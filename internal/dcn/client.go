// Package dcn is a client for the DCN feature, particle and execution service.
package dcn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrAuth is returned when login does not yield an access token.
var ErrAuth = errors.New("dcn: authentication failed")

// Client talks to one DCN deployment on behalf of one account.
// It logs in lazily and re-authenticates once when a request is rejected with 401.
type Client struct {
	baseURL string
	http    *http.Client
	signer  Signer

	mu    sync.Mutex
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// New constructs a client for baseURL.
func New(baseURL string, signer Signer, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("dcn: signer is required")
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("dcn: base url is required")
	}
	c := &Client{baseURL: base, http: &http.Client{Timeout: 10 * time.Second}, signer: signer}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the account address used for login.
func (c *Client) Address() string { return c.signer.Address() }

// Authenticate performs a fresh nonce/sign/auth exchange.
func (c *Client) Authenticate(ctx context.Context) error {
	address := c.signer.Address()
	var nonce struct {
		Nonce json.RawMessage `json:"nonce"`
	}
	status, body, err := c.do(ctx, http.MethodGet, "/nonce/"+url.PathEscape(address), nil, false)
	if err != nil {
		return err
	}
	if err := expectOK(http.MethodGet, "/nonce", status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, &nonce); err != nil || len(nonce.Nonce) == 0 {
		return fmt.Errorf("%w: unexpected nonce response: %s", ErrAuth, preview(body, 300))
	}
	message := "Login nonce: " + rawString(nonce.Nonce)
	signature, err := c.signer.SignText(message)
	if err != nil {
		return err
	}

	payload := map[string]string{"address": address, "message": message, "signature": signature}
	status, body, err = c.do(ctx, http.MethodPost, "/auth", payload, false)
	if err != nil {
		return err
	}
	if err := expectOK(http.MethodPost, "/auth", status, body); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &auth); err != nil || auth.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrAuth)
	}
	c.mu.Lock()
	c.token = auth.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureAuth(ctx context.Context) error {
	c.mu.Lock()
	has := c.token != ""
	c.mu.Unlock()
	if has {
		return nil
	}
	return c.Authenticate(ctx)
}

// PostFeature registers a feature and returns the service's response body.
func (c *Client) PostFeature(ctx context.Context, feature Feature) (json.RawMessage, error) {
	return c.postJSON(ctx, "/feature", feature)
}

// PostParticle registers a particle and returns the service's response body.
func (c *Client) PostParticle(ctx context.Context, particle Particle) (json.RawMessage, error) {
	return c.postJSON(ctx, "/particle", particle)
}

// Execute runs a particle. The response must be a JSON array of samples.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) ([]json.RawMessage, error) {
	body, err := c.postJSON(ctx, "/execute", req)
	if err != nil {
		return nil, err
	}
	var samples []json.RawMessage
	if err := json.Unmarshal(body, &samples); err != nil {
		return nil, fmt.Errorf("dcn: unexpected /execute response shape: %s", preview(body, 300))
	}
	return samples, nil
}

// HasTransformation reports whether a named transformation exists.
func (c *Client) HasTransformation(ctx context.Context, name string) (bool, error) {
	path := "/transformation/" + url.PathEscape(name)
	status, body, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status >= 200 && status < 300:
		return true, nil
	default:
		return false, fmt.Errorf("dcn: check transformation %q: %w", name,
			&StatusError{Method: http.MethodGet, Path: path, Status: status, Body: preview(body, 300)})
	}
}

// CreateTransformation registers a transformation from its source.
func (c *Client) CreateTransformation(ctx context.Context, name, source string) error {
	_, err := c.postJSON(ctx, "/transformation", map[string]string{"name": name, "sol_src": source})
	return err
}

// Probe posts payload to path and returns the status without judging it.
func (c *Client) Probe(ctx context.Context, path string, payload any) (int, string, error) {
	status, body, err := c.authedPost(ctx, path, payload)
	if err != nil {
		return 0, "", err
	}
	return status, preview(body, 500), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	status, body, err := c.authedPost(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if err := expectOK(http.MethodPost, path, status, body); err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		raw, _ := json.Marshal(map[string]string{"raw": string(body)})
		return raw, nil
	}
	return body, nil
}

func (c *Client) authedPost(ctx context.Context, path string, payload any) (int, []byte, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return 0, nil, err
	}
	status, body, err := c.do(ctx, http.MethodPost, path, payload, true)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.Authenticate(ctx); err != nil {
			return 0, nil, err
		}
		return c.do(ctx, http.MethodPost, path, payload, true)
	}
	return status, body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, authed bool) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("dcn: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("dcn: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		c.mu.Unlock()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("dcn: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("dcn: read %s %s: %w", method, path, err)
	}
	return resp.StatusCode, body, nil
}

func expectOK(method, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &StatusError{Method: method, Path: path, Status: status, Body: preview(body, 300)}
}

// rawString renders a JSON scalar without quotes.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
