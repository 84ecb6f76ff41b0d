package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/trigger-monitor/internal/adapter/csvcache"
	httpadapter "github.com/couchcryptid/trigger-monitor/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/trigger-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/trigger-monitor/internal/adapter/maproom"
	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/monitor"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
	"github.com/couchcryptid/trigger-monitor/internal/render"
)

func main() {
	configPath := flag.String("config", "", "country document (overrides COUNTRIES_FILE)")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *configPath != "" {
		cfg.CountriesFile = *configPath
	}

	logger := observability.NewLogger(cfg)

	doc, err := config.LoadCountries(cfg.CountriesFile)
	if err != nil {
		logger.Error("invalid country document", "path", cfg.CountriesFile, "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	metrics.ConfigCountries.Set(float64(doc.Len()))

	baseURL := cfg.BaseURL(doc)
	var source domain.Source = maproom.NewClient(baseURL, cfg.MaproomTimeout, metrics, logger)
	if cfg.MaproomCacheTTL > 0 {
		source = maproom.NewCachedSource(source, cfg.MaproomCacheSize, cfg.MaproomCacheTTL, clockwork.NewRealClock(), metrics)
		logger.Info("maproom response cache enabled", "size", cfg.MaproomCacheSize, "ttl", cfg.MaproomCacheTTL)
	}

	opts := []monitor.Option{}
	if cfg.CacheDir != "" {
		opts = append(opts, monitor.WithUnitStore(csvcache.New(cfg.CacheDir)))
		logger.Info("admin unit cache enabled", "dir", cfg.CacheDir)
	}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, doc, metrics, logger)
		opts = append(opts, monitor.WithPublisher(writer))
		logger.Info("trigger snapshot feed enabled", "topic", cfg.KafkaTriggerTopic)
	} else {
		logger.Info("trigger snapshot feed disabled")
	}

	svc := monitor.New(doc, source, baseURL, metrics, logger, opts...)

	renderer, err := render.New()
	if err != nil {
		logger.Error("failed to parse templates", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, renderer, httpadapter.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("trigger monitor starting", "countries", doc.Len(), "maproom", baseURL)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	svc.Wait()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
