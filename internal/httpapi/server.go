// Package httpapi exposes the discovery and matching pipeline over HTTP:
// starting and inspecting discovery runs, listing per-user matches, and the
// two-phase upload handshake.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/discovery"
	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/matcher"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/internal/uploadstate"
)

const (
	defaultMatchPageSize = 50
	maxMatchPageSize     = 200
)

// DiscoveryService prepares and executes discovery runs.
type DiscoveryService interface {
	Prepare(ctx context.Context, req discovery.RunRequest) (store.DiscoveryJob, error)
	Execute(ctx context.Context, job store.DiscoveryJob, req discovery.RunRequest) (discovery.RunResult, error)
}

// MatcherService runs the hybrid matching pass for one user.
type MatcherService interface {
	RunForUser(ctx context.Context, userID string, kind match.Kind) (matcher.UserResult, error)
}

// Storage is the read surface the handlers need.
type Storage interface {
	GetJobByUUID(ctx context.Context, jobUUID string) (store.DiscoveryJob, bool, error)
	ListMatchesForUser(ctx context.Context, userID string, limit int) ([]store.MatchRow, error)
	GetOpportunity(ctx context.Context, opportunityID int64) (store.OpportunityRow, bool, error)
	GetUserProfile(ctx context.Context, userID string) (*store.ProfileRow, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	UploadTTL       time.Duration
}

type Server struct {
	storage   Storage
	discovery DiscoveryService
	matcher   MatcherService
	uploads   uploadstate.Store
	logger    zerolog.Logger
	opts      Options
}

func NewServer(
	storage Storage,
	discoverySvc DiscoveryService,
	matcherSvc MatcherService,
	uploads uploadstate.Store,
	logger zerolog.Logger,
	opts Options,
) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	uploadTTL := opts.UploadTTL
	if uploadTTL <= 0 {
		uploadTTL = 15 * time.Minute
	}

	return &Server{
		storage:   storage,
		discovery: discoverySvc,
		matcher:   matcherSvc,
		uploads:   uploads,
		logger:    logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			UploadTTL:       uploadTTL,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("stipend api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("stipend api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/discovery/runs", s.handleCreateDiscoveryRun)
	api.GET("/discovery/runs/:job_uuid", s.handleGetDiscoveryRun)
	api.GET("/users/:user_id/matches", s.handleListUserMatches)
	api.POST("/users/:user_id/matches/run", s.handleRunUserMatches)
	api.POST("/uploads", s.handleCreateUpload)
	api.POST("/uploads/confirm", s.handleConfirmUpload)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
