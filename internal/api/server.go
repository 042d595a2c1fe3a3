// Package api serves the HTTP surface: the GitHub webhook receiver and
// the operator-facing CI endpoints.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkessler/dossier/internal/worker"
	"gorm.io/gorm"
)

// RefResolver turns a symbolic ref into a commit SHA. Satisfied by
// gh.Client; nil disables ref resolution on manual enqueues.
type RefResolver interface {
	ResolveRef(ctx context.Context, owner, repo, ref string) (string, error)
}

// Ticker runs one worker cycle on demand. Satisfied by worker.Loop.
type Ticker interface {
	Tick(ctx context.Context) (worker.TickResult, error)
}

// Opts holds server configuration and handler dependencies.
type Opts struct {
	DB            *gorm.DB
	Port          int
	WebhookSecret string
	DedupWindow   time.Duration
	MaxAttempts   int
	Resolver      RefResolver // optional
	Ticker        Ticker      // optional
	Out           io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Opts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
