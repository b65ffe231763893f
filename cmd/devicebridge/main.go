// Command devicebridge runs the device bridge: replies from MQTT devices are
// decoded and published to Pub/Sub, and commands read from Pub/Sub are encoded
// and published to the devices.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-devicebridge/pkg/bridge"
	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/illmade-knight/go-devicebridge/pkg/microservice"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttconverter"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	logger := newLogger()

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info.")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "device-bridge"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	mqttClient, err := mqttconverter.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MQTT client.")
	}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client.")
	}
	defer func() { _ = psClient.Close() }()

	var fsClient *firestore.Client
	if cfg.Sessions.Backend == bridge.SessionBackendFirestore {
		fsClient, err = firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore client.")
		}
		defer func() { _ = fsClient.Close() }()
	}
	sessions, err := bridge.NewSessionStore(ctx, cfg.Sessions, fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Sessions.Backend).Msg("Failed to open session store.")
	}

	deps := bridge.Dependencies{
		MQTTClient:   mqttClient,
		PubsubClient: psClient,
		Sessions:     sessions,
	}
	if cfg.Archive.Enabled && cfg.Archive.Sink == bridge.ArchiveSinkBigQuery {
		bqCfg := cfg.Archive.BigQuery
		var bqClient *bigquery.Client
		bqClient, err = eventarchive.NewProductionBigQueryClient(ctx, bqCfg.ProjectID, bqCfg.CredentialsFile, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery client.")
		}
		defer func() { _ = bqClient.Close() }()
		deps.Inserter, err = eventarchive.NewBigQueryInserter[eventarchive.EventRecord](ctx, bqClient, &bqCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery inserter.")
		}
	}
	if cfg.Archive.Enabled && cfg.Archive.Sink == bridge.ArchiveSinkGCS {
		var gcsClient *storage.Client
		gcsClient, err = storage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Cloud Storage client.")
		}
		defer func() { _ = gcsClient.Close() }()
		deps.Inserter, err = eventarchive.NewGCSInserter(eventarchive.NewGCSClientAdapter(gcsClient), cfg.Archive.GCS, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Cloud Storage inserter.")
		}
	}

	b, err := bridge.New(ctx, cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create device bridge.")
	}
	if err := b.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start device bridge.")
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	server.AddReadinessCheck("mqtt", b.Ready)
	server.AddStatsProvider("pipelines", func() any { return b.Stats() })
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}

	logger.Info().Str("service", cfg.ServiceName).Msg("Device bridge running.")
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	if err := b.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Device bridge shutdown was not clean.")
	}
	logger.Info().Msg("Device bridge exited.")
}

// newLogger writes JSON to stderr, or human readable output when
// LOG_FORMAT=console.
func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("LOG_FORMAT") == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
