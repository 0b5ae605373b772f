// Package httpapi serves the board operations as JSON over HTTP. Bodies are
// always an api.Result; the HTTP status mirrors the error kind.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kpiboard/internal/api"
	"kpiboard/internal/apperr"
	"kpiboard/internal/logger"
)

// RouterConfig wires the router to a board. Logger may be nil.
type RouterConfig struct {
	Board          *api.Board
	Logger         *logger.Logger
	AllowedOrigins []string
	// MaxUploadBytes bounds a multipart request; zero means 32 MiB.
	MaxUploadBytes int64
	// Location reads meeting dates given without an offset; nil means UTC.
	Location *time.Location
}

// NewRouter builds the gin engine with middleware and every board route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(Identity())

	h := &handler{board: cfg.Board, maxUpload: cfg.MaxUploadBytes, loc: cfg.Location}
	if h.maxUpload <= 0 {
		h.maxUpload = 32 << 20
	}
	if h.loc == nil {
		h.loc = time.UTC
	}

	r.GET("/healthz", h.health)

	deliverables := r.Group("/deliverables")
	{
		deliverables.GET("/:id", h.getDeliverable)
		deliverables.GET("/:id/status-options", h.statusOptions)
		deliverables.POST("/:id/assignee-score", h.submitAssigneeScore)
		deliverables.POST("/:id/creator-score", h.submitCreatorScore)
		deliverables.POST("/:id/status", h.changeStatus)
	}

	discrepancies := r.Group("/discrepancies")
	{
		discrepancies.GET("", h.listDiscrepancies)
		discrepancies.GET("/:id", h.getDiscrepancy)
		discrepancies.POST("/:id/meeting", h.bookMeeting)
		discrepancies.POST("/:id/resolve", h.resolveDiscrepancy)
	}

	return r
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case apperr.KindValidation, apperr.KindMissingOccurrence:
		return http.StatusBadRequest
	case apperr.KindNotAuthorized:
		return http.StatusForbidden
	case apperr.KindAlreadyScored, apperr.KindAssigneeScoreMissing:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUploadError:
		return http.StatusBadGateway
	case apperr.KindUploadTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, res api.Result) {
	status := http.StatusOK
	if res.Error != nil {
		status = StatusFor(res.Error.Kind)
	}
	c.JSON(status, res)
}

// Server runs the router until its context is cancelled.
type Server struct {
	Engine *gin.Engine
	log    *logger.Logger
}

// NewServer builds the router for cfg; call Run to serve it.
func NewServer(cfg RouterConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Server{Engine: NewRouter(cfg), log: log}
}

// Run listens on address and shuts down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
