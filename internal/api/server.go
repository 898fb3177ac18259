// Package api exposes the admin HTTP surface: scheduler settings CRUD,
// operational stats, health, Prometheus metrics and a WebSocket stats stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/config"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/proxy"
	"github.com/trendscope/trendscope/internal/store"
)

// Server is the admin API. The scheduler and queue hooks are optional so the
// one-shot CLI can reuse pieces without a full worker.
type Server struct {
	store      store.Store
	pool       *proxy.Pool
	running    func() []store.Platform
	queueDepth func(ctx context.Context) (int64, error)
	hub        *StatsHub
	logger     *zap.Logger
	validate   *validator.Validate
	upgrader   websocket.Upgrader
}

// NewServer wires the admin API. running and queueDepth may be nil.
func NewServer(st store.Store, pool *proxy.Pool, running func() []store.Platform, queueDepth func(ctx context.Context) (int64, error), logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      st,
		pool:       pool,
		running:    running,
		queueDepth: queueDepth,
		logger:     logger,
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.hub = NewStatsHub(s.collectStats, logger.Named("hub"))
	return s
}

// Hub returns the stats hub; the caller owns its Run loop.
func (s *Server) Hub() *StatsHub { return s.hub }

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/settings", s.handleListSettings)
		r.Route("/settings/{platform}", func(r chi.Router) {
			r.Get("/", s.handleGetSetting)
			r.Put("/", s.handleUpdateSetting)
			r.Post("/enable", s.handleSetEnabled(true))
			r.Post("/disable", s.handleSetEnabled(false))
		})
		r.Get("/runs", s.handleListRuns)
		r.Get("/stats", s.handleStats)
		r.Get("/stats/stream", s.handleStatsStream)
	})

	return r
}

// logRequests emits one structured line per request and threads the chi
// request id into the context for downstream log correlation.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := obs.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		obs.With(ctx, s.logger).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settingView struct {
	Platform       store.Platform `json:"platform"`
	DisplayName    string         `json:"display_name"`
	Enabled        bool           `json:"enabled"`
	FrequencyHours float64        `json:"frequency_hours"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	RunCount       int64          `json:"run_count"`
	SuccessCount   int64          `json:"success_count"`
	FailureCount   int64          `json:"failure_count"`
}

func viewOf(setting *store.SchedulerSetting) settingView {
	return settingView{
		Platform:       setting.Platform,
		DisplayName:    store.DisplayName(setting.Platform),
		Enabled:        setting.Enabled,
		FrequencyHours: setting.FrequencyHours,
		LastRunAt:      setting.LastRunAt,
		NextRunAt:      setting.NextRunAt,
		RunCount:       setting.RunCount,
		SuccessCount:   setting.SuccessCount,
		FailureCount:   setting.FailureCount,
	}
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	views := make([]settingView, 0, len(settings))
	for _, setting := range settings {
		views = append(views, viewOf(setting))
	}
	writeJSON(w, http.StatusOK, views)
}

// platformParam resolves and validates the {platform} URL segment.
func (s *Server) platformParam(w http.ResponseWriter, r *http.Request) (store.Platform, bool) {
	platform := store.Platform(chi.URLParam(r, "platform"))
	if !store.ValidPlatform(platform) {
		writeError(w, http.StatusNotFound, "unknown platform")
		return "", false
	}
	return platform, true
}

func (s *Server) loadSetting(w http.ResponseWriter, r *http.Request) (*store.SchedulerSetting, bool) {
	platform, ok := s.platformParam(w, r)
	if !ok {
		return nil, false
	}
	setting, err := s.store.GetSetting(r.Context(), platform)
	if err != nil {
		s.serverError(w, r, err)
		return nil, false
	}
	if setting == nil {
		writeError(w, http.StatusNotFound, "no settings for platform")
		return nil, false
	}
	return setting, true
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	setting, ok := s.loadSetting(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(setting))
}

type updateSettingRequest struct {
	Enabled        *bool    `json:"enabled"`
	FrequencyHours *float64 `json:"frequency_hours" validate:"omitempty,gte=0.5,lte=24"`
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	setting, ok := s.loadSetting(w, r)
	if !ok {
		return
	}

	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "frequency_hours must be between 0.5 and 24")
		return
	}

	if req.Enabled != nil {
		setting.Enabled = *req.Enabled
	}
	if req.FrequencyHours != nil {
		setting.FrequencyHours = config.ClampFrequency(*req.FrequencyHours)
		// A frequency change takes effect from now, not the stale next_run_at.
		next := time.Now().UTC().Add(time.Duration(setting.FrequencyHours * float64(time.Hour)))
		if setting.NextRunAt == nil || next.Before(*setting.NextRunAt) {
			setting.NextRunAt = &next
		}
	}

	if err := s.store.UpsertSetting(r.Context(), setting); err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(setting))
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setting, ok := s.loadSetting(w, r)
		if !ok {
			return
		}
		setting.Enabled = enabled
		if err := s.store.UpsertSetting(r.Context(), setting); err != nil {
			s.serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(setting))
	}
}

type runView struct {
	ID              int64          `json:"id"`
	Platform        store.Platform `json:"platform"`
	Status          store.RunStatus `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	RecordsScraped  int            `json:"records_scraped"`
	RecordsUploaded int            `json:"records_uploaded"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	RunVersionID    string         `json:"run_version_id"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRunLogs(r.Context(), 50)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{
			ID:              run.ID,
			Platform:        run.Platform,
			Status:          run.Status,
			StartedAt:       run.StartedAt,
			EndedAt:         run.EndedAt,
			DurationSeconds: run.DurationSeconds,
			RecordsScraped:  run.RecordsScraped,
			RecordsUploaded: run.RecordsUploaded,
			ErrorMessage:    run.ErrorMessage,
			RunVersionID:    run.RunVersionID.String(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type statsPayload struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	Proxies       []proxy.Snapshot `json:"proxies"`
	Running       []store.Platform `json:"running_platforms"`
	RecentRuns    []runView        `json:"recent_runs"`
	QueueDepth    *int64           `json:"retry_queue_depth,omitempty"`
	StreamClients int              `json:"stream_clients"`
}

func (s *Server) collectStats(ctx context.Context) interface{} {
	payload := statsPayload{
		GeneratedAt:   time.Now().UTC(),
		Proxies:       []proxy.Snapshot{},
		Running:       []store.Platform{},
		StreamClients: s.hub.ClientCount(),
	}
	if s.pool != nil {
		payload.Proxies = s.pool.Snapshots()
	}
	if s.running != nil {
		payload.Running = s.running()
	}
	if s.queueDepth != nil {
		if depth, err := s.queueDepth(ctx); err == nil {
			payload.QueueDepth = &depth
		}
	}
	runs, err := s.store.ListRunLogs(ctx, 10)
	if err == nil {
		for _, run := range runs {
			payload.RecentRuns = append(payload.RecentRuns, runView{
				ID:              run.ID,
				Platform:        run.Platform,
				Status:          run.Status,
				StartedAt:       run.StartedAt,
				EndedAt:         run.EndedAt,
				DurationSeconds: run.DurationSeconds,
				RecordsScraped:  run.RecordsScraped,
				RecordsUploaded: run.RecordsUploaded,
				ErrorMessage:    run.ErrorMessage,
				RunVersionID:    run.RunVersionID.String(),
			})
		}
	}
	return payload
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collectStats(r.Context()))
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.With(r.Context(), s.logger).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Register(conn)

	// Read pump: discard client frames, unregister on close.
	go func() {
		defer s.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	obs.With(r.Context(), s.logger).Error("request failed", obs.ErrFields(err)...)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
