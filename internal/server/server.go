package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/neboloop/nexus/internal/config"
	"github.com/neboloop/nexus/internal/handler"
	"github.com/neboloop/nexus/internal/handler/ask"
	"github.com/neboloop/nexus/internal/handler/session"
	"github.com/neboloop/nexus/internal/lifecycle"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/middleware"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/websocket"
)

// ServerOptions holds optional dependencies for the server
type ServerOptions struct {
	SvcCtx *svc.ServiceContext // Pre-initialized service context
	Quiet  bool                // Suppress startup messages and request logs
}

// Run starts the HTTP server with the given configuration.
// It blocks until the context is cancelled or the listener fails.
func Run(ctx context.Context, c config.Config, opts ...ServerOptions) error {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	svcCtx := o.SvcCtx
	if svcCtx == nil {
		var err error
		svcCtx, err = svc.NewServiceContext(c)
		if err != nil {
			return err
		}
		defer svcCtx.Close()
	}

	addr := c.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	// ReadTimeout/WriteTimeout are omitted: asks stream for minutes and
	// websocket connections are hijacked.
	httpServer := &http.Server{
		Handler:     NewRouter(svcCtx, o.Quiet),
		IdleTimeout: 120 * time.Second,
	}

	if !o.Quiet {
		fmt.Printf("Server ready at http://%s\n", addr)
	}
	if c.Server.AuthSecret == "" {
		logging.Warnf("[Server] No auth secret configured, API is unauthenticated")
	}

	svcCtx.Lifecycle.Emit(lifecycle.EventServerStarted, addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if !o.Quiet {
		fmt.Println("\nShutting down server gracefully...")
	}
	svcCtx.Lifecycle.Emit(lifecycle.EventShutdownStarted, nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// NewRouter builds the chi router for svcCtx.
func NewRouter(svcCtx *svc.ServiceContext, quiet bool) http.Handler {
	c := svcCtx.Config
	r := chi.NewRouter()

	if !quiet {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handler.HealthCheckHandler(svcCtx))

	limiter := middleware.NewRateLimiter(c.Server.RateLimitPerMinute, c.Server.RateLimitBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTMiddleware(c.Server.AuthSecret))
		r.Use(limiter.Middleware())

		r.Post("/ask", ask.AskHandler(svcCtx))
		r.Post("/cancel", ask.CancelHandler(svcCtx))
		r.Post("/context/reset", ask.ResetContextHandler(svcCtx))

		r.Get("/sessions", session.ListSessionsHandler(svcCtx))
		r.Post("/sessions", session.CreateSessionHandler(svcCtx))
		r.Get("/sessions/{id}", session.GetSessionHandler(svcCtx))
		r.Delete("/sessions/{id}", session.DeleteSessionHandler(svcCtx))
		r.Get("/sessions/{id}/export", session.ExportSessionHandler(svcCtx))

		r.Get("/ws", websocket.Handler(svcCtx))
	})

	return r
}
