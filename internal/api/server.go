package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/leadpilot/internal/api/auth"
	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/channels"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/inbound"
	"github.com/leadpilot/internal/learning"
	"github.com/leadpilot/internal/logging"
	"github.com/leadpilot/internal/orchestrator"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// InboundSubmitter queues an inbound message for the pipeline
type InboundSubmitter interface {
	Submit(ctx context.Context, job autopilot.Job) error
}

// Briefer builds briefing snapshots
type Briefer interface {
	BuildBriefing(ctx context.Context, tenantID int64, kind orchestrator.BriefingKind) (*orchestrator.Briefing, error)
}

// Reactivator is the part of the agent the API drives
type Reactivator interface {
	Run(ctx context.Context, tenantID int64, leadID string) (*models.ReactivationRun, error)
	Resume(ctx context.Context, tenantID int64, runID string) (*models.ReactivationRun, error)
	RunBatch(ctx context.Context, tenantID int64, leadIDs []string) ([]reactivation.BatchResult, error)
	DormantLeads(ctx context.Context, tenantID int64, minDays, limit int) ([]models.Lead, error)
	ReactivateDormant(ctx context.Context, tenantID int64, minDays, maxLeads int) ([]reactivation.BatchResult, error)
}

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Store       storage.Gateway
	Router      *inbound.Router
	Inbound     InboundSubmitter
	Briefer     Briefer
	Learning    *learning.Service
	Reactivator Reactivator
	Sender      channels.Sender
	Bus         eventbus.Publisher
	Tokens      *auth.TokenService
}

// Options tunes request handling
type Options struct {
	// WebhookWait bounds how long a webhook waits for the pipeline before
	// answering 202 and leaving the work to the pool
	WebhookWait time.Duration
	// SendTimeout bounds the channel send of an approved draft
	SendTimeout time.Duration
	// DormantAfterDays is the default minimum dormancy for batch reactivation
	DormantAfterDays int
	// MaxBodyBytes caps webhook payloads
	MaxBodyBytes int64
}

func DefaultOptions() Options {
	return Options{
		WebhookWait:      90 * time.Second,
		SendTimeout:      30 * time.Second,
		DormantAfterDays: 30,
		MaxBodyBytes:     1 << 20,
	}
}

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	port   int
	deps   Deps
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewServer creates a new API server
func NewServer(port int, d Deps, opts Options) *Server {
	def := DefaultOptions()
	if opts.WebhookWait <= 0 {
		opts.WebhookWait = def.WebhookWait
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.DormantAfterDays <= 0 {
		opts.DormantAfterDays = def.DormantAfterDays
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if d.Bus == nil {
		d.Bus = eventbus.Discard{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:   e,
		port:   port,
		deps:   d,
		opts:   opts,
		now:    time.Now,
		logger: logging.For("api"),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Echo exposes the router for tests and embedding
func (s *Server) Echo() *echo.Echo { return s.echo }

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// Webhooks authenticate by signature, not bearer token
	hooks := s.echo.Group("/webhooks", middleware.BodyLimit(fmt.Sprintf("%dB", s.opts.MaxBodyBytes)))
	hooks.GET("/:channel", s.verifyWebhook)
	hooks.POST("/:channel", s.receiveWebhook)

	requireAuth := auth.RequireAuth(s.deps.Tokens)

	ap := s.echo.Group("/autopilot", requireAuth)
	ap.GET("/settings", s.getSettings)
	ap.PUT("/settings", s.updateSettings)
	ap.PUT("/mappings", s.upsertMapping)
	ap.GET("/leads/:lead/override", s.getOverride)
	ap.POST("/leads/:lead/override", s.saveOverride)
	ap.PUT("/leads/:lead/override", s.saveOverride)
	ap.DELETE("/leads/:lead/override", s.deleteOverride)
	ap.GET("/drafts", s.listDrafts)
	ap.GET("/drafts/:id", s.getDraft)
	ap.POST("/drafts/:id/approve", s.approveDraft)
	ap.POST("/drafts/:id/reject", s.rejectDraft)
	ap.GET("/actions", s.listActions)
	ap.GET("/briefing/:kind", s.getBriefing)
	ap.GET("/stats", s.getStats)

	an := s.echo.Group("/analytics", requireAuth)
	an.GET("/dashboard", s.getDashboard)
	an.GET("/templates", s.listTemplates)
	an.GET("/templates/:id", s.getTemplate)
	an.GET("/aggregates", s.listAggregates)
	an.POST("/events", s.recordEvent)
	an.POST("/events/:id/outcome", s.attachOutcome)
	an.POST("/track/template-used", s.trackTemplateUsed)
	an.POST("/track/response", s.trackResponse)
	an.POST("/track/outcome", s.trackOutcome)

	re := s.echo.Group("/reactivation", requireAuth)
	re.GET("/dormant-leads", s.listDormantLeads)
	re.POST("/start", s.startReactivation)
	re.POST("/batch", s.batchReactivation)
	re.GET("/runs", s.listRuns)
	re.GET("/runs/:id", s.getRun)
	re.POST("/runs/:id/resume", s.resumeRun)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
