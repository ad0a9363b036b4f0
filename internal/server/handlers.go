package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/smukkama/sensor-dashboard/internal/chart"
	"github.com/smukkama/sensor-dashboard/internal/metrics"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
	"github.com/smukkama/sensor-dashboard/internal/telemetry"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 366
)

var sparklineBox = chart.Box{Width: 120, Height: 32}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type detailResponse struct {
	chart.DetailView
	InsufficientData bool `json:"insufficient_data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeSVG(w http.ResponseWriter, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) chartBox() chart.Box {
	return chart.Box{Width: s.cfg.Aggregation.ChartSize[0], Height: s.cfg.Aggregation.ChartSize[1]}
}

func (s *Server) metricParam(w http.ResponseWriter, r *http.Request) (protocol.Metric, bool) {
	m, err := protocol.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_metric", Message: err.Error()})
		return "", false
	}
	return m, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.poller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"loading":     snap.IsLoading,
		"fetch_error": snap.LastFetchError,
		"sessions":    s.sessions.Stats(),
		"scheduler":   s.scheduler.Stats(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	card := telemetry.BuildCard(s.cfg.Telemetry.DeviceName, s.poller.Snapshot(), time.Now(), telemetry.CardOptions{
		StaleAfter: s.cfg.Telemetry.StaleAfter,
		LogRows:    s.cfg.Telemetry.LogRows,
		Location:   s.loc,
	})
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	token, ok := s.poller.Token().Get()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "authenticating", Message: AuthenticatingMessage})
		return
	}
	writeJSON(w, http.StatusOK, protocol.TokenResponse{AccessToken: token})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	metric, ok := s.metricParam(w, r)
	if !ok {
		return
	}

	box := s.chartBox()
	var buf bytes.Buffer
	view, err := chart.Detail(s.poller.Snapshot().History, metric, s.loc, box)
	switch {
	case errors.Is(err, chart.ErrInsufficientData):
		err = chart.RenderPlaceholder(&buf, box)
		metrics.ChartRenders.WithLabelValues("detail", "placeholder").Inc()
	case err == nil:
		err = chart.RenderDetail(&buf, *view.Geometry, metric)
		metrics.ChartRenders.WithLabelValues("detail", "chart").Inc()
	}
	if err != nil {
		metrics.ChartRenders.WithLabelValues("detail", "error").Inc()
		s.log.Error().Err(err).Str("metric", string(metric)).Msg("Failed to render chart")
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	writeSVG(w, &buf)
}

func (s *Server) handleSparkline(w http.ResponseWriter, r *http.Request) {
	metric, ok := s.metricParam(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	line, err := chart.Sparkline(s.poller.Snapshot().History, metric, s.cfg.Aggregation.Sparkline, sparklineBox)
	switch {
	case errors.Is(err, chart.ErrInsufficientData):
		err = chart.RenderPlaceholder(&buf, sparklineBox)
		metrics.ChartRenders.WithLabelValues("sparkline", "placeholder").Inc()
	case err == nil:
		err = chart.RenderSparkline(&buf, line)
		metrics.ChartRenders.WithLabelValues("sparkline", "chart").Inc()
	}
	if err != nil {
		metrics.ChartRenders.WithLabelValues("sparkline", "error").Inc()
		s.log.Error().Err(err).Str("metric", string(metric)).Msg("Failed to render sparkline")
		http.Error(w, "failed to render sparkline", http.StatusInternalServerError)
		return
	}
	writeSVG(w, &buf)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	metric, ok := s.metricParam(w, r)
	if !ok {
		return
	}

	view, err := chart.Detail(s.poller.Snapshot().History, metric, s.loc, s.chartBox())
	if err != nil && !errors.Is(err, chart.ErrInsufficientData) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "detail_failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detailResponse{DetailView: view, InsufficientData: err != nil})
}

func (s *Server) handleDailyHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "archive_disabled"})
		return
	}

	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_days", Message: "days must be between 1 and 366"})
			return
		}
		days = n
	}

	since := time.Now().In(s.loc).AddDate(0, 0, -days)
	summaries, err := s.archive.GetDailySummaries(r.Context(), s.cfg.Telemetry.DeviceName, since)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load daily summaries")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "archive_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device": s.cfg.Telemetry.DeviceName,
		"days":   summaries,
	})
}
