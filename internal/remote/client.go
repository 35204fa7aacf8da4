// Package remote provides the HTTP client consuming the two interfaces
// of the remote authority: the snapshot fetch and the mutation
// endpoints used by the uploader.
//
// The engine never inspects credentials; callers supply a ready-made
// header name and value that every request carries unchanged. Errors
// are classified into the taxonomy the uploader needs: authentication
// failures (fatal to a sync pass), validation rejections (per-mutation)
// and everything else (transient, retried on a later pass).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/agrosync/harvest/internal/model"
)

// AuthError reports that the remote service rejected the credential.
// A sync pass aborts immediately when it sees one.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote: authentication rejected (status %d)", e.Status)
}

// ValidationError reports that the remote service rejected a payload as
// malformed or conflicting. The affected mutation stays queued; other
// mutations still attempt.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: payload rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("remote: payload rejected (status %d): %s", e.Status, e.Message)
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the remote service, without trailing slash.
	BaseURL string

	// AuthHeader is the header name the credential travels in
	// (default: "Authorization").
	AuthHeader string

	// AuthToken is the ready-made credential value, sent unchanged.
	AuthToken string

	// Country is the tenant scope attached to every request.
	Country string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration
}

// Client talks to the remote service.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *log.Logger
}

// NewClient creates a Client. If logger is nil, a default logger
// writing to stderr is used.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchSnapshot retrieves the full authoritative dataset for the
// configured country scope.
func (c *Client) FetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/snapshot", nil, &snap); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return &snap, nil
}

// ListCrates returns all crates of the country scope. An empty result
// is valid.
func (c *Client) ListCrates(ctx context.Context) ([]model.Crate, error) {
	var crates []model.Crate
	if err := c.do(ctx, http.MethodGet, "/api/v1/crates", nil, &crates); err != nil {
		return nil, fmt.Errorf("failed to list crates: %w", err)
	}
	return crates, nil
}

// CreateCrate creates a crate with the given human code and returns it
// with its canonical id assigned.
func (c *Client) CreateCrate(ctx context.Context, code string) (*model.Crate, error) {
	req := struct {
		Code string `json:"code"`
	}{Code: code}

	var crate model.Crate
	if err := c.do(ctx, http.MethodPost, "/api/v1/crates", req, &crate); err != nil {
		return nil, fmt.Errorf("failed to create crate %q: %w", code, err)
	}
	return &crate, nil
}

// CreatePickRequest is the payload of the "create relation" endpoint.
type CreatePickRequest struct {
	CrateID  int64   `json:"crate_id"`
	PlotID   int64   `json:"plot_id"`
	WeightKg float64 `json:"weight_kg"`
	Reserved bool    `json:"reserved,omitempty"`
	Notes    string  `json:"notes,omitempty"`
	TagIDs   []int64 `json:"tag_ids,omitempty"`
}

// CreatePick creates a crate-to-plot assignment and returns it with
// resolved denormalized display fields.
func (c *Client) CreatePick(ctx context.Context, req CreatePickRequest) (*model.Pick, error) {
	var pick model.Pick
	if err := c.do(ctx, http.MethodPost, "/api/v1/picks", req, &pick); err != nil {
		return nil, fmt.Errorf("failed to create pick for crate %d: %w", req.CrateID, err)
	}
	return &pick, nil
}

// CreateActivityRequest is the payload of the "create activity"
// endpoint.
type CreateActivityRequest struct {
	PlotID       int64     `json:"plot_id"`
	TreeID       int64     `json:"tree_id,omitempty"`
	TypeID       int64     `json:"type_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationSecs int64     `json:"duration_secs,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// CreateActivity creates a timed field activity and returns it with
// resolved denormalized display fields.
func (c *Client) CreateActivity(ctx context.Context, req CreateActivityRequest) (*model.Activity, error) {
	var act model.Activity
	if err := c.do(ctx, http.MethodPost, "/api/v1/activities", req, &act); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}
	return &act, nil
}

// do executes one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return fmt.Errorf("invalid request URL: %w", err)
	}
	if c.cfg.Country != "" {
		q := u.Query()
		q.Set("country", c.cfg.Country)
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.AuthToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}

	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the error field of a JSON error body, if any.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}
