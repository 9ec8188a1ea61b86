// Package webapi is the HTTP/JSON client for the vault server. It owns
// transport concerns only: request encoding, bearer authorization, token
// refresh, and bounded retry with backoff for transient failures.
// Authentication and cryptographic errors are never retried here.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"

	"github.com/aliasvault/client-go/logging"
)

// ClientVersion is sent on every request so the server can gate
// incompatible clients.
const ClientVersion = "1.0.0"

const clientHeader = "X-Vault-Client"

// tokens are refreshed when they expire within this window, so that a
// long-running call does not start with a token about to lapse.
const refreshLeeway = 30 * time.Second

// Client talks to one vault server. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logging.Logger

	maxRetries uint64
	baseDelay  time.Duration

	mu     sync.Mutex
	tokens TokenPair
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMaxRetries bounds retries of transient failures. Zero disables
// retrying entirely.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the initial backoff delay between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// New creates a client for the given base URL, e.g. "https://vault.example.com/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("webapi: base URL is required")
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logging.Discard(),
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetTokens installs the token pair obtained from login or refresh.
func (c *Client) SetTokens(t TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
}

// Tokens returns the current token pair.
func (c *Client) Tokens() TokenPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// ClearTokens drops the session tokens, e.g. on logout.
func (c *Client) ClearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = TokenPair{}
}

// InitiateLogin starts the SRP handshake for the given username.
func (c *Client) InitiateLogin(ctx context.Context, req LoginInitiateRequest) (*LoginInitiateResponse, error) {
	var out LoginInitiateResponse
	if err := c.do(ctx, http.MethodPost, "/auth/initiate", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateLogin submits the client proof.
func (c *Client) ValidateLogin(ctx context.Context, req ValidateLoginRequest) (*ValidateLoginResponse, error) {
	var out ValidateLoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/validate", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateLogin2FA re-submits the proof together with a TOTP code.
func (c *Client) ValidateLogin2FA(ctx context.Context, req ValidateLogin2FARequest) (*ValidateLoginResponse, error) {
	var out ValidateLoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/validate2fa", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new account with its initial encrypted vault.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/register", req, nil, false)
}

// GetStatus probes server health and compatibility.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVault fetches the current envelope.
func (c *Client) GetVault(ctx context.Context) (*VaultEnvelope, error) {
	var out VaultEnvelope
	if err := c.do(ctx, http.MethodGet, "/vault", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutVault pushes a new envelope. Returns ErrConflict (via *Error) when
// the base revision no longer matches the server's current revision.
func (c *Client) PutVault(ctx context.Context, req VaultUpdateRequest) (*VaultUpdateResponse, error) {
	var out VaultUpdateResponse
	if err := c.do(ctx, http.MethodPut, "/vault", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges the refresh token for a new pair and installs it.
// Also used to restore a remembered session across process restarts.
func (c *Client) Refresh(ctx context.Context) error {
	t := c.Tokens()
	if t.RefreshToken == "" {
		return ErrUnauthorized
	}

	var out TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{
		Token:        t.AccessToken,
		RefreshToken: t.RefreshToken,
	}, &out, false)
	if err != nil {
		return err
	}
	c.SetTokens(out)
	return nil
}

// ensureFreshToken refreshes the access token if it is about to expire.
// The token is parsed without verification: the client only reads the
// expiry claim, the server remains the authority on validity.
func (c *Client) ensureFreshToken(ctx context.Context) error {
	t := c.Tokens()
	if t.AccessToken == "" {
		return ErrUnauthorized
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, &claims); err != nil {
		// Opaque (non-JWT) tokens are used as-is.
		return nil
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > refreshLeeway {
		return nil
	}

	c.log.Debug(ctx, "access token expiring, refreshing")
	return c.Refresh(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, authorized bool) error {
	if authorized {
		if err := c.ensureFreshToken(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("webapi: marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, payload, result, authorized)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			c.log.Warn(ctx, "transient request failure, will retry", "method", method, "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, result any, authorized bool) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("webapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(clientHeader, ClientVersion)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+c.Tokens().AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("webapi: decode response: %w", err)
		}
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg = errResp.Error
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}

// isTransient reports whether err is worth retrying: transport failures
// and throttling/server-side statuses. Everything else (auth failures,
// conflicts, validation errors) surfaces immediately.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		default:
			return apiErr.StatusCode >= 500
		}
	}
	return false
}
