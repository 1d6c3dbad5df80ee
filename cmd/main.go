package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cableguard/internal/cache"
	"cableguard/internal/config"
	"cableguard/internal/detector"
	"cableguard/internal/models"
	"cableguard/internal/monitor"
	"cableguard/internal/simulator"
	"cableguard/internal/ws"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	anomaliesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomalies_detected_total",
		Help: "Total number of anomalies detected",
	})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_raised_total",
		Help: "Total number of alerts raised",
	}, []string{"alert_type", "severity"})

	sensorTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_timeouts_total",
		Help: "Total number of sensor timeout events",
	})

	totalReadings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "readings_total",
		Help: "Total readings processed by the monitor",
	})

	activeSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sensors",
		Help: "Sensors currently reporting",
	})

	timeoutSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timeout_sensors",
		Help: "Sensors currently timed out",
	})

	bufferUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buffer_utilization",
		Help: "Data buffer fill fraction",
	})

	anomalyRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anomaly_rate",
		Help: "Anomalies detected per reading processed",
	})
)

type Server struct {
	router  *mux.Router
	monitor *monitor.Monitor
	network *simulator.Network
	archive *cache.RedisClient // nil when Redis is unavailable
	hub     *ws.Hub
	log     *zap.Logger
}

func NewServer(mon *monitor.Monitor, network *simulator.Network, archive *cache.RedisClient, hub *ws.Hub, logger *zap.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		monitor: mon,
		network: network,
		archive: archive,
		hub:     hub,
		log:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	s.router.HandleFunc("/anomalies/recent", s.recentAnomaliesHandler).Methods("GET")
	s.router.HandleFunc("/anomalies/archive", s.archivedAnomaliesHandler).Methods("GET")
	s.router.HandleFunc("/alerts/recent", s.recentAlertsHandler).Methods("GET")
	s.router.HandleFunc("/sensors", s.sensorsHandler).Methods("GET")
	s.router.HandleFunc("/network", s.networkHandler).Methods("GET")
	s.router.HandleFunc("/cables/{id}", s.cableHandler).Methods("GET")
	s.router.HandleFunc("/cables/{id}/repair", s.repairHandler).Methods("POST")
	s.router.HandleFunc("/faults", s.faultHandler).Methods("POST")
	s.router.HandleFunc("/export", s.exportHandler).Methods("GET")
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
}

// instrument records request counts and latencies for every endpoint.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func limitParam(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"is_monitoring": s.monitor.IsMonitoring(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetMonitoringStats())
}

func (s *Server) recentAnomaliesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetRecentAnomalies(limitParam(r, 10)))
}

func (s *Server) archivedAnomaliesHandler(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "anomaly archive not configured"})
		return
	}
	events, err := s.archive.RecentAnomalies(int64(limitParam(r, 10)))
	if err != nil {
		s.log.Error("failed to read anomaly archive", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) recentAlertsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetRecentAlerts(limitParam(r, 10)))
}

func (s *Server) sensorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetSensorSummary())
}

func (s *Server) networkHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.network.NetworkStatus())
}

func (s *Server) cableHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.network.CableInfo(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) repairHandler(w http.ResponseWriter, r *http.Request) {
	cableID := mux.Vars(r)["id"]
	if err := s.network.RepairCable(cableID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaired", "cable_id": cableID})
}

func (s *Server) faultHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CableID string `json:"cable_id"`
		Kind    string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = string(simulator.FaultSensorFailure)
	}
	if err := s.network.IntroduceFault(req.CableID, simulator.FaultKind(req.Kind)); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "fault injected", "cable_id": req.CableID, "kind": req.Kind})
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	var err error
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = s.monitor.ExportCSV(w)
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		err = s.monitor.ExportJSON(w)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported format: " + format})
		return
	}
	if err != nil {
		s.log.Error("export failed", zap.Error(err))
	}
}

// pollStats mirrors the monitor stats into Prometheus gauges.
func (s *Server) pollStats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		stats := s.monitor.GetMonitoringStats()
		totalReadings.Set(float64(stats.TotalReadings))
		activeSensors.Set(float64(stats.ActiveSensors))
		timeoutSensors.Set(float64(stats.TimeoutSensors))
		bufferUtilization.Set(stats.BufferUtilization)
		anomalyRate.Set(stats.AnomalyRate)
	}
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("server is shutting down")

		s.monitor.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Fatal("could not gracefully shutdown the server", zap.Error(err))
		}
		close(done)
	}()

	s.log.Info("server is ready to handle requests", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.log.Info("server stopped")
	return nil
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	network := simulator.New(cfg.Network.NumCables, cfg.Network.SensorsPerCable, cfg.Network.AnomalyProb, logger)
	det := detector.New(cfg.Detector.WindowSize, cfg.Detector.ZScoreThreshold, logger)
	mon := monitor.New(monitor.Options{
		Interval:             cfg.Monitor.Interval,
		BufferSize:           cfg.Monitor.BufferSize,
		ConsecutiveAnomalies: cfg.Monitor.ConsecutiveAnomalies,
		AnomalyRateThreshold: cfg.Monitor.AnomalyRateThreshold,
		SensorTimeout:        cfg.Monitor.SensorTimeout,
		Logger:               logger,
	})

	hub := ws.NewHub(logger)
	go hub.Run()

	var archive *cache.RedisClient
	if cfg.Redis.Addr != "" {
		archive, err = cache.NewRedisClient(cfg.Redis.Addr)
		if err != nil {
			logger.Warn("Redis unavailable, anomaly archive disabled", zap.Error(err))
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	mon.OnAnomaly(func(event models.AnomalyEvent) {
		anomaliesDetected.Inc()
		hub.BroadcastAnomaly(event)
		if archive != nil {
			if err := archive.StoreAnomaly(event); err != nil {
				logger.Error("failed to archive anomaly", zap.Error(err))
			}
		}
	})
	mon.OnAlert(func(alert models.Alert) {
		alertsRaised.WithLabelValues(string(alert.AlertType), string(alert.Severity)).Inc()
		hub.BroadcastAlert(alert)
	})
	mon.OnSensorFailure(func(event models.TimeoutEvent) {
		sensorTimeouts.Inc()
	})

	// Train the classifier on a clean warmup run before monitoring starts.
	trainingNet := simulator.New(cfg.Network.NumCables, cfg.Network.SensorsPerCable, 0, logger)
	var training []models.Reading
	for len(training) < cfg.Detector.TrainingSamples {
		training = append(training, trainingNet.SimulateStep()...)
	}
	if err := det.Train(training); err != nil {
		logger.Fatal("failed to train anomaly detector", zap.Error(err))
	}

	mon.Start(network, det, true)
	defer mon.Stop()

	server := NewServer(mon, network, archive, hub, logger)
	go server.pollStats(cfg.Monitor.Interval)

	if err := server.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
