// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/kvstore"
)

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the root of the hosted service.
	BaseURL string

	// AnonKey is the public API key sent as the apikey header and as the
	// bearer token when no session exists.
	AnonKey string

	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration

	// Store persists the session across invocations.
	Store kvstore.Store

	// Logger may be nil.
	Logger *zap.Logger
}

// HTTPClient implements Client against the hosted service's REST surface.
type HTTPClient struct {
	baseURL    string
	host       string
	anonKey    string
	store      kvstore.Store
	logger     *zap.Logger
	httpClient *http.Client
}

// NewHTTPClient creates a client for the hosted service.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if opts.AnonKey == "" {
		return nil, errors.New("anon key is required")
	}
	if opts.Store == nil {
		return nil, errors.New("storage is required")
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: opts.BaseURL,
		host:    parsed.Host,
		anonKey: opts.AnonKey,
		store:   opts.Store,
		logger:  opts.Logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SessionStorageKey is the client-local storage key the session persists
// under.
func (c *HTTPClient) SessionStorageKey() string {
	return SessionKeyPrefix + c.host + "-auth-token"
}

// GetSession returns the persisted session, or nil when absent or expired.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	raw, ok := c.store.Get(c.SessionStorageKey())
	if !ok {
		return nil, nil
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		// An unreadable session means signed out, not failure.
		c.logger.Warn("failed to parse stored session", zap.Error(err))
		return nil, nil
	}
	if session.AccessToken == "" || session.Expired(time.Now()) {
		return nil, nil
	}
	return &session, nil
}

// persistSession stores the session under the service key convention.
func (c *HTTPClient) persistSession(session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return c.store.Set(c.SessionStorageKey(), string(raw))
}

// signUpResponse covers both response shapes: the bare user when email
// confirmation is pending, or a full session envelope when autoconfirmed.
type signUpResponse struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Identities   []json.RawMessage `json:"identities"`
	User         *SessionUser      `json:"user"`
	AccessToken  string            `json:"access_token"`
	TokenType    string            `json:"token_type"`
	ExpiresAt    int64             `json:"expires_at"`
	RefreshToken string            `json:"refresh_token"`
}

func (c *HTTPClient) SignUp(ctx context.Context, email, password string) (*SessionUser, error) {
	reqBody := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{"email_confirm": true},
	}

	var resp signUpResponse
	if err := c.call(ctx, http.MethodPost, "/auth/v1/signup", nil, reqBody, &resp, true); err != nil {
		return nil, err
	}

	user := resp.User
	if user == nil {
		user = &SessionUser{ID: resp.ID, Email: resp.Email, Identities: resp.Identities}
	}

	// The service reports an existing account as a user with no identities
	// rather than an error status.
	if len(user.Identities) == 0 {
		return nil, apperr.New(apperr.KindWrite,
			"this email is already registered, please sign in instead")
	}

	if resp.AccessToken != "" {
		session := &Session{
			AccessToken:  resp.AccessToken,
			TokenType:    resp.TokenType,
			ExpiresAt:    resp.ExpiresAt,
			RefreshToken: resp.RefreshToken,
			User:         *user,
		}
		if err := c.persistSession(session); err != nil {
			return nil, apperr.Wrap(apperr.KindWrite, "failed to persist session", err)
		}
	}

	return user, nil
}

func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	reqBody := map[string]string{
		"email":    email,
		"password": password,
	}

	var session Session
	query := url.Values{"grant_type": {"password"}}
	if err := c.call(ctx, http.MethodPost, "/auth/v1/token", query, reqBody, &session, true); err != nil {
		return nil, err
	}
	if err := c.persistSession(&session); err != nil {
		return nil, apperr.Wrap(apperr.KindWrite, "failed to persist session", err)
	}
	return &session, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	session, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil, true)
}

func (c *HTTPClient) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	if code == "" {
		return nil, apperr.New(apperr.KindValidation, "verification code is required")
	}
	reqBody := map[string]string{"auth_code": code}

	var session Session
	query := url.Values{"grant_type": {"pkce"}}
	if err := c.call(ctx, http.MethodPost, "/auth/v1/token", query, reqBody, &session, true); err != nil {
		return nil, err
	}
	if err := c.persistSession(&session); err != nil {
		return nil, apperr.Wrap(apperr.KindWrite, "failed to persist session", err)
	}
	return &session, nil
}

func (c *HTTPClient) SelectPosts(ctx context.Context) ([]Row, error) {
	query := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}

	var rows []Row
	if err := c.call(ctx, http.MethodGet, "/rest/v1/posts", query, nil, &rows, false); err != nil {
		return nil, err
	}
	return rows, nil
}

// insertRow is the field subset sent on insert; id and created_at are
// server-assigned.
type insertRow struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	UserID      string `json:"user_id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (c *HTTPClient) InsertPost(ctx context.Context, row Row) (*Row, error) {
	reqBody := []insertRow{{
		Title:       row.Title,
		Body:        row.Body,
		UserID:      row.UserID,
		IsAnonymous: row.IsAnonymous,
	}}

	var rows []Row
	if err := c.call(ctx, http.MethodPost, "/rest/v1/posts", nil, reqBody, &rows, true); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindWrite, "no row returned from insert")
	}
	return &rows[0], nil
}

func (c *HTTPClient) UpdatePost(ctx context.Context, id string, row Row) (*Row, error) {
	query := url.Values{"id": {"eq." + id}}
	reqBody := insertRow{
		Title:       row.Title,
		Body:        row.Body,
		UserID:      row.UserID,
		IsAnonymous: row.IsAnonymous,
	}

	var rows []Row
	if err := c.call(ctx, http.MethodPatch, "/rest/v1/posts", query, reqBody, &rows, true); err != nil {
		return nil, err
	}
	// A successful call that matched no row is a failure, not a success.
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindWrite, "no row returned from update")
	}
	return &rows[0], nil
}

func (c *HTTPClient) DeletePost(ctx context.Context, id string) error {
	query := url.Values{"id": {"eq." + id}}
	return c.call(ctx, http.MethodDelete, "/rest/v1/posts", query, nil, nil, true)
}

func (c *HTTPClient) SetGuestContext(ctx context.Context, guestID string) error {
	reqBody := map[string]string{"anonymous_user_id": guestID}
	return c.call(ctx, http.MethodPost, "/rest/v1/rpc/set_anonymous_user", nil, reqBody, nil, true)
}

// call issues one request and decodes the response into out (when non-nil).
// write selects the failure kind for non-credential errors.
func (c *HTTPClient) call(ctx context.Context, method, path string, query url.Values, reqBody, out any, write bool) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken(ctx))
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport("remote call failed", err, write)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport("failed to read response", err, write)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var decoded remoteError
		_ = json.Unmarshal(respBody, &decoded)
		msg := remoteMessage(respBody, decoded)
		c.logger.Debug("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return classifyStatus(resp.StatusCode, msg, write)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return classifyTransport("unexpected response shape", err, write)
		}
	}
	return nil
}

// bearerToken returns the session access token when one exists, otherwise
// the anon key.
func (c *HTTPClient) bearerToken(ctx context.Context) string {
	session, err := c.GetSession(ctx)
	if err == nil && session != nil {
		return session.AccessToken
	}
	return c.anonKey
}
