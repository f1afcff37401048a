// Package server exposes the pipeline over HTTP (gin) and a gRPC health service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

// Jobs is the part of the orchestrator the HTTP boundary drives.
type Jobs interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (entity.JobView, error)
	List(ctx context.Context, filter repository.ListFilter) ([]entity.JobView, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Monitor is the part of the job monitor the HTTP boundary drives.
type Monitor interface {
	Statistics(ctx context.Context) (entity.Statistics, error)
	CheckHealth(ctx context.Context) (entity.Health, error)
	RecoverStalled(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (int64, error)
}

type Server struct {
	jobs      Jobs
	monitor   Monitor
	ingestor  ingest.Ingestor
	maxUpload int64
	logger    *slog.Logger
}

type Option func(*Server)

// WithIngestor enables the server-side path ingest endpoints.
func WithIngestor(i ingest.Ingestor) Option {
	return func(s *Server) { s.ingestor = i }
}

// WithMaxUpload caps multipart bodies; the validator still enforces the file limit.
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

func New(jobs Jobs, monitor Monitor, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{jobs: jobs, monitor: monitor, logger: logger, maxUpload: 64 << 20}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	v1 := r.Group("/v1")
	v1.POST("/jobs", s.submitJob)
	v1.GET("/jobs", s.listJobs)
	v1.GET("/jobs/:id", s.getJob)
	v1.POST("/jobs/:id/cancel", s.cancelJob)
	v1.DELETE("/jobs/:id", s.cancelJob)

	v1.GET("/health", s.health)
	v1.GET("/stats", s.stats)
	v1.POST("/monitor/recover", s.recoverStalled)
	v1.POST("/monitor/cleanup", s.cleanup)

	if s.ingestor != nil {
		v1.POST("/ingest/file", s.ingestFile)
		v1.POST("/ingest/directory", s.ingestDirectory)
	}
	return r
}

// HTTPServer wraps the router with the timeouts the daemon uses.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), reqID))
		c.Next()
		s.logger.Info("http request",
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the AppError taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
	}
	resp := errorResponse{Code: "INTERNAL", Message: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		resp.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, resp)
}

func parseJobID(c *gin.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("id", raw, common.UUID)); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}
