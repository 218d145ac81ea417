package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kevianto/IOT/internal/config"
	"github.com/kevianto/IOT/internal/logger"
	"github.com/kevianto/IOT/internal/mqtt"
	"github.com/kevianto/IOT/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "iot-sensor-relay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSetup()

	var readings server.ReadingStore
	var patients server.PatientStore
	if cfg.DatabaseURL != "" {
		store, err := server.NewPostgresStore(setupCtx, cfg.DatabaseURL, int32(cfg.PGMaxConns))
		if err != nil {
			log.Fatal("create postgres store", zap.Error(err))
		}
		defer store.Close()
		readings, patients = store, store
		log.Info("using postgres store")
	} else {
		store := server.NewMemoryStore()
		readings, patients = store, store
		log.Warn("DATABASE_URL not set, readings will not survive restarts")
	}

	vitalsSchema := server.VitalsSchemaV2
	if cfg.VitalsSchemaVersion == 1 {
		vitalsSchema = server.VitalsSchemaV1
	}

	registry := prometheus.NewRegistry()
	options := []server.APIOption{
		server.WithMaxRetained(cfg.MaxRetained),
		server.WithVitalsSchema(vitalsSchema),
		server.WithMetricsRegistry(registry),
		server.WithTrustProxyHeaders(cfg.TrustProxyHeaders),
	}
	if cfg.RateLimitPerMinute > 0 {
		options = append(options, server.WithRateLimit(cfg.RateLimitPerMinute, time.Minute))
	}

	api := server.NewAPI(readings, patients, log, options...)

	if cfg.MQTT.Enabled() {
		source, err := mqtt.NewSource(cfg.MQTT, api.Ingestor(), vitalsSchema, log)
		if err != nil {
			log.Fatal("create mqtt source", zap.Error(err))
		}
		defer source.Close()

		if err := source.Start(); err != nil {
			log.Fatal("subscribe mqtt topics", zap.Error(err))
		}
		log.Info("mqtt source enabled", zap.String("broker", cfg.MQTT.Broker))
	}

	handler := withCORS(cfg.CORSAllowOrigin, api.Handler())

	// No Read/WriteTimeout: the push channel holds connections open
	// indefinitely and a write deadline would sever idle subscribers.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("http and websocket server listening", zap.String("addr", httpServer.Addr))
		errs <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}
}

func withCORS(allowedOrigin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		response.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		response.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		response.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if request.Method == http.MethodOptions {
			response.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(response, request)
	})
}
