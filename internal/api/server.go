// Package api provides the HTTP and WebSocket server exposing the
// optimization pipeline and the backtest driver.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/backtest"
	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/internal/jobs"
	"github.com/voltdesk/dispatch-backend/internal/pipeline"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	metrics    *Metrics

	pipelineCfg *pipeline.Config
	jobs        *jobs.Store
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, pipelineCfg *pipeline.Config) *Server {
	if config == nil {
		config = types.DefaultServerConfig()
	}
	if pipelineCfg == nil {
		pipelineCfg = pipeline.DefaultConfig()
	}

	s := &Server{
		logger:      logger,
		config:      config,
		router:      mux.NewRouter(),
		hub:         NewHub(logger),
		metrics:     NewMetrics(nil),
		pipelineCfg: pipelineCfg,
		jobs:        jobs.NewStore(logger, jobs.DefaultTTL),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/optimize", s.handleOptimize).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/result", s.handleGetBacktestResult).Methods("GET")
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// Start runs the hub and the HTTP server. Blocks until the server exits.
func (s *Server) Start() error {
	go s.hub.Run()

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleOptimize runs one optimization synchronously.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.metrics.RequestsTotal.WithLabelValues("optimize").Inc()

	var req types.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	series, err := seriesFromRequest(req.Prices, req.Timestamps, req.IntervalHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	method, err := categorize.ParseMethod(req.CategorizationMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.pipelineConfigForSeed(req.Seed)
	p := pipeline.New(s.logger, cfg)
	result := p.Optimize(r.Context(), series, req.Battery, method, optionsFromRequest(req.CategorizationOpts))

	s.metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
	// Input errors are structured {success:false} results, not HTTP failures.
	writeJSON(w, http.StatusOK, result)
}

// handleRunBacktest starts an asynchronous backtest job and returns its ID.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsTotal.WithLabelValues("backtest_run").Inc()

	var req types.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	series, err := seriesFromRequest(req.Prices, req.Timestamps, req.IntervalHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method, err := categorize.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := backtest.DefaultConfig()
	cfg.Method = method
	cfg.Pipeline = s.pipelineConfigForSeed(req.Seed)
	if req.WindowPeriods > 0 {
		cfg.WindowPeriods = req.WindowPeriods
	}

	job := s.jobs.Create()
	s.metrics.ActiveJobs.Inc()

	go s.runBacktestJob(job.ID, cfg, series, req.Battery)

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) runBacktestJob(id string, cfg *backtest.Config, series types.PriceSeries, params types.BatteryParams) {
	defer s.metrics.ActiveJobs.Dec()

	runner := backtest.NewRunner(s.logger, cfg)
	progress := func(done, total int) {
		s.jobs.SetProgress(id, done, total)
		s.hub.BroadcastJSON(MsgTypeJobProgress, map[string]any{
			"id":       id,
			"done":     done,
			"total":    total,
			"progress": 100 * float64(done) / float64(total),
		})
	}

	result, err := runner.Run(context.Background(), series, params, progress)

	status, errMsg := "completed", ""
	if err != nil {
		status, errMsg = "failed", err.Error()
		s.jobs.Fail(id, errMsg)
	} else {
		s.jobs.Complete(id, result)
	}

	s.hub.BroadcastJSON(MsgTypeJobDone, map[string]any{
		"id":     id,
		"status": status,
		"error":  errMsg,
	})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetBacktestResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, ok := s.jobs.Result(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no result for job")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// pipelineConfigForSeed clones the base pipeline config with a per-request
// optimizer seed, so concurrent requests never share mutable config.
func (s *Server) pipelineConfigForSeed(seedValue int64) *pipeline.Config {
	base := s.pipelineCfg
	optCfg := *base.Optimizer
	if seedValue != 0 {
		optCfg.Seed = seedValue
	}
	return &pipeline.Config{
		HMM:        base.HMM,
		Optimizer:  &optCfg,
		Seed:       base.Seed,
		SocPenalty: base.SocPenalty,
	}
}

func seriesFromRequest(prices []float64, timestamps []string, intervalHours float64) (types.PriceSeries, error) {
	if intervalHours == 0 {
		intervalHours = 1.0
	}
	series := types.PriceSeries{Prices: prices, IntervalHours: intervalHours}
	for _, ts := range timestamps {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return types.PriceSeries{}, fmt.Errorf("bad timestamp %q: expected RFC 3339", ts)
		}
		series.Timestamps = append(series.Timestamps, parsed)
	}
	return series, nil
}

func optionsFromRequest(opts map[string]any) categorize.Options {
	out := categorize.Options{}
	if opts == nil {
		return out
	}
	if v, ok := toFloat(opts["zLow"]); ok {
		out.ZLow = v
	}
	if v, ok := toFloat(opts["zHigh"]); ok {
		out.ZHigh = v
	}
	if v, ok := toFloat(opts["window"]); ok {
		out.Window = int(v)
	}
	if v, ok := toFloat(opts["volScale"]); ok {
		out.VolScale = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
