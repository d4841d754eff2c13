package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openreq/openreq"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/store"
)

// newRootLogger selects the logging backend. When LOG_FORMAT is set the
// zap logger takes over with its LOG_LEVEL/LOG_OUTPUT configuration
// (console, logfmt or json); otherwise the ipfs subsystem registry is used.
func newRootLogger() log.Logger {
	if os.Getenv("LOG_FORMAT") == "" {
		return log.NewLoggerIPFS("root")
	}

	var logConf log.Config
	if err := cleanenv.ReadEnv(&logConf); err != nil {
		return log.NewLoggerIPFS("root")
	}
	return log.NewZapLogger(logConf).NewSystem("root")
}

func main() {
	logger := newRootLogger()

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := store.ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("failed to setup database", "error", err)
	}
	st := store.NewStore(db)

	// Initialize Prometheus metrics
	metrics := NewMetrics()

	detectors, err := BuildDetectors(config, logger)
	if err != nil {
		logger.Fatal("failed to build detectors", "error", err)
	}

	opts := []openreq.Option{openreq.WithLogger(logger)}
	for _, detector := range detectors {
		opts = append(opts, openreq.WithDetector(detector))
	}
	node := openreq.NewNode(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewDetectionWorker(node, st, metrics, config.detectionInterval, logger)
	go worker.Start(ctx)

	apiListenAddr := ":8000"
	apiMux := http.NewServeMux()
	NewAPI(node, st, config.currencies, metrics, logger).Register(apiMux)

	apiServer := &http.Server{
		Addr:    apiListenAddr,
		Handler: apiMux,
	}

	metricsListenAddr := ":4242"
	metricsEndpoint := "/metrics"
	// Set up a separate mux for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	// Start metrics server on a separate port
	metricsServer := &http.Server{
		Addr:    metricsListenAddr,
		Handler: metricsMux,
	}

	// Start metrics monitoring
	go metrics.RecordMetricsPeriodically(db, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("API server available", "listenAddr", apiListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down API server", "error", err)
	}
}
