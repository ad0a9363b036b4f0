package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/connection"
	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/telemetry"
	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/pkg/config"
)

const reaperTaskID = "viewer-session-reaper"

// DailyArchive serves archived daily summaries
type DailyArchive interface {
	GetDailySummaries(ctx context.Context, device string, since time.Time) ([]*database.DailySummary, error)
}

// Server is the dashboard's HTTP and WebSocket front end
type Server struct {
	cfg       *config.Config
	poller    *telemetry.Poller
	scheduler *timer.Scheduler
	sessions  *connection.Manager
	archive   DailyArchive
	loc       *time.Location
	upgrader  websocket.Upgrader
	http      *http.Server
	log       zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the server. archive may be nil when the archive is disabled.
func NewServer(cfg *config.Config, poller *telemetry.Poller, scheduler *timer.Scheduler, archive DailyArchive) (*Server, error) {
	loc, err := cfg.Aggregation.Location()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		poller:    poller,
		scheduler: scheduler,
		sessions:  connection.NewManager(cfg.Viewer.MaxSessions),
		archive:   archive,
		loc:       loc,
		log:       logging.With("server"),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s, nil
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/viewer", s.handleViewer)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.HTTP.RateLimit, time.Minute))

		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/token", s.handleToken)
		r.Get("/chart/{metric}.svg", s.handleChart)
		r.Get("/sparkline/{metric}.svg", s.handleSparkline)
		r.Get("/detail/{metric}", s.handleDetail)
		r.Get("/history/daily", s.handleDailyHistory)
	})

	return r
}

// Start begins serving and reaping idle viewer sessions
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTP.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	timeout := s.cfg.Viewer.InactivityTimeout
	if err := s.scheduler.Every(reaperTaskID, timeout/2, func() {
		s.sessions.ReapInactive(timeout)
	}); err != nil {
		return fmt.Errorf("failed to schedule session reaper: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("HTTP server listening")
	return nil
}

// Stop shuts the server down and closes every viewer session
func (s *Server) Stop(ctx context.Context) error {
	s.scheduler.Cancel(reaperTaskID)
	s.cancel()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.sessions.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Int("sessions", s.sessions.Count()).Msg("Viewer sessions still open at shutdown deadline")
		if err == nil {
			err = ctx.Err()
		}
	}

	s.log.Info().Msg("HTTP server stopped")
	return err
}

// dataReady gates the detail panel until the first poll has settled
func (s *Server) dataReady() bool {
	return !s.poller.Snapshot().IsLoading
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.HTTP.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.log.Warn().Str("origin", origin).Msg("Rejected WebSocket origin")
	return false
}
