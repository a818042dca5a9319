// Package backend is the typed client for the upstream tax-platform
// endpoints this subsystem consumes. Transport is plain net/http; every
// request carries a bearer token from the credential store and a
// correlation id.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// TokenSource supplies the access token for outbound requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config holds client configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. https://api.example.com.
	BaseURL string
	// Tokens supplies the bearer token. Required.
	Tokens TokenSource
	// Timeout for each request. Defaults to 15s.
	Timeout time.Duration
	// Logger for request diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client calls the six upstream endpoints.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	logger *slog.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("backend: token source is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: cfg.Tokens,
		logger: cfg.Logger,
	}, nil
}

// APIError is a non-2xx response from upstream.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	endpoint := c.base.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		c.logger.Warn("upstream request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"request_id", requestID,
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(buf, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(buf))
}

// Memberships refreshes the raw membership list.
func (c *Client) Memberships(ctx context.Context) ([]domain.RawMembership, error) {
	var memberships []domain.RawMembership
	if err := c.do(ctx, http.MethodGet, "/v1/account/memberships", nil, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

// AvailableContexts fetches a fresh pending context, used by flows that
// arrive without pre-populated firm data (invite acceptance).
func (c *Client) AvailableContexts(ctx context.Context) (*ContextResponse, error) {
	var resp ContextResponse
	if err := c.do(ctx, http.MethodGet, "/v1/account/contexts", nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrContextFetchFailed, err)
	}
	return &resp, nil
}

type selectRoleRequest struct {
	Role string `json:"role"`
}

// SelectRole resolves a role choice for rotated credentials.
func (c *Client) SelectRole(ctx context.Context, role string) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/select-role", selectRoleRequest{Role: role}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExchangeFailed, err)
	}
	return &resp, nil
}

type selectFirmRequest struct {
	MembershipID string `json:"membership_id"`
}

// SelectFirm resolves a firm choice for rotated credentials.
func (c *Client) SelectFirm(ctx context.Context, membershipID string) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/select-firm", selectFirmRequest{MembershipID: membershipID}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExchangeFailed, err)
	}
	return &resp, nil
}

type switchFirmRequest struct {
	FirmID int64  `json:"firm_id"`
	Role   string `json:"role"`
}

// SwitchFirm performs a runtime cross-firm switch.
func (c *Client) SwitchFirm(ctx context.Context, firmID int64, role string) (*SwitchResponse, error) {
	var resp SwitchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/switch-firm", switchFirmRequest{FirmID: firmID, Role: role}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSwitchFailed, err)
	}
	return &resp, nil
}

type switchRoleRequest struct {
	Role string `json:"role"`
}

// SwitchRole performs a runtime same-firm role switch. The role is the API
// role code, not the UI role.
func (c *Client) SwitchRole(ctx context.Context, apiRole string) (*SwitchResponse, error) {
	var resp SwitchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/switch-role", switchRoleRequest{Role: apiRole}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSwitchFailed, err)
	}
	return &resp, nil
}
