package callback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/backend"
)

type fakeExchanger struct {
	session *backend.Session
	err     error
	codes   []string
}

func (f *fakeExchanger) ExchangeCodeForSession(ctx context.Context, code string) (*backend.Session, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestServer(t *testing.T, exchanger CodeExchanger) *Server {
	t.Helper()
	srv, err := NewServer(Config{
		Addr:          ":0",
		RedirectDelay: 3 * time.Second,
	}, exchanger, nil)
	require.NoError(t, err)
	return srv
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Addr: ":0"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code exchanger is required")

	_, err = NewServer(Config{}, &fakeExchanger{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestCallback_Success(t *testing.T) {
	exchanger := &fakeExchanger{session: &backend.Session{
		User: backend.SessionUser{ID: "u1", Email: "a@b.co"},
	}}
	srv := newTestServer(t, exchanger)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=one-time", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"one-time"}, exchanger.codes)
	// The success page reloads home after the fixed delay.
	assert.Contains(t, rec.Body.String(), `http-equiv="refresh" content="3;url=/"`)
	assert.Contains(t, rec.Body.String(), "a@b.co")
}

func TestCallback_MissingCode(t *testing.T) {
	exchanger := &fakeExchanger{}
	srv := newTestServer(t, exchanger)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Verification failed")
	assert.Contains(t, rec.Body.String(), `<a href="/">`)
	// No exchange is attempted without a code.
	assert.Empty(t, exchanger.codes)
}

func TestCallback_ExchangeFailure(t *testing.T) {
	exchanger := &fakeExchanger{err: apperr.New(apperr.KindAuthRequired, "code expired")}
	srv := newTestServer(t, exchanger)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=stale", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification failed")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeExchanger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStart_GracefulShutdown(t *testing.T) {
	srv := newTestServer(t, &fakeExchanger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, http.ErrServerClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
