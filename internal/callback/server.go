// Package callback serves the email-verification redirect.
//
// The auth service sends verified users back with a one-time code query
// parameter; the handler exchanges it for a session and then sends the
// browser home after a short fixed delay. Missing or unexchangeable codes
// render an error state with a manual return link.
package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/backend"
)

// CodeExchanger trades a one-time verification code for a session.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*backend.Session, error)
}

// Config configures the callback listener.
type Config struct {
	// Addr is the listen address.
	Addr string

	// RedirectDelay is how long the success page waits before sending the
	// browser back to the home route.
	RedirectDelay time.Duration

	// ShutdownTimeout bounds graceful shutdown. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Server is the HTTP listener for the verification redirect.
type Server struct {
	config    Config
	exchanger CodeExchanger
	logger    *zap.Logger
	echo      *echo.Echo
}

// NewServer creates the callback server.
func NewServer(cfg Config, exchanger CodeExchanger, logger *zap.Logger) (*Server, error) {
	if exchanger == nil {
		return nil, errors.New("code exchanger is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config:    cfg,
		exchanger: exchanger,
		logger:    logger,
		echo:      e,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/auth/callback", s.handleCallback)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleCallback exchanges the one-time code for a session.
func (s *Server) handleCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		s.logger.Warn("verification callback without code")
		return c.HTML(http.StatusBadRequest, errorPage("Verification link is missing its code."))
	}

	session, err := s.exchanger.ExchangeCodeForSession(c.Request().Context(), code)
	if err != nil {
		s.logger.Warn("code exchange failed", zap.Error(err))
		return c.HTML(http.StatusBadRequest, errorPage("Email verification failed. The link may have expired."))
	}

	s.logger.Info("email verified", zap.String("user_id", session.User.ID))
	delay := int(s.config.RedirectDelay.Seconds())
	return c.HTML(http.StatusOK, successPage(session.User.Email, delay))
}

func successPage(email string, delaySeconds int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="%d;url=/">
<title>Email verified</title>
</head>
<body>
<h1>Email verified</h1>
<p>Signed in as %s. Taking you back in %d seconds&hellip;</p>
<p><a href="/">Return now</a></p>
</body>
</html>`, delaySeconds, html.EscapeString(email), delaySeconds)
}

func errorPage(message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Verification failed</title></head>
<body>
<h1>Verification failed</h1>
<p>%s</p>
<p><a href="/">Back to sign in</a></p>
</body>
</html>`, html.EscapeString(message))
}

// Start starts the server and blocks until the context is cancelled.
//
// Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(s.config.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.config.ShutdownTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
