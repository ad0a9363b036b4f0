package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/sensor-dashboard/internal/cache"
	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/queue"
	"github.com/smukkama/sensor-dashboard/internal/server"
	"github.com/smukkama/sensor-dashboard/internal/telemetry"
	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.With("dashboard")

	log.Info().Str("device", cfg.Telemetry.DeviceName).Msg("Starting sensor dashboard")

	scheduler := timer.NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()

	var opts []telemetry.Option

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, snapshot cache disabled")
		} else {
			opts = append(opts, telemetry.WithStore(cache.NewSnapshotStore(rdb, cfg.Telemetry.DeviceName, cfg.Redis.TTL)))
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Snapshot cache enabled")
		}
	}

	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1); err != nil {
			log.Warn().Err(err).Str("topic", cfg.Kafka.TopicReadings).Msg("Failed to create topic (may already exist)")
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
		defer producer.Close()
		opts = append(opts, telemetry.WithRecorder(queue.NewReadingPublisher(producer, cfg.Telemetry.DeviceName)))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.TopicReadings).Msg("Reading stream enabled")
	}

	var archive server.DailyArchive
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database.ConnectionString())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		archive = db
		log.Info().Msg("Daily archive enabled")
	}

	client := telemetry.NewClient(cfg.Telemetry.TokenURL, cfg.Telemetry.TelemetryURL, cfg.Telemetry.RequestTimeout)
	poller := telemetry.NewPoller(client, scheduler, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Failure is logged by the poller; viewers stay on the placeholder
	go func() { _ = poller.FetchAccessToken(ctx) }()

	if err := poller.Start(ctx, cfg.Telemetry.PollInterval); err != nil {
		log.Fatal().Err(err).Msg("Failed to start telemetry poller")
	}
	defer poller.Stop()

	srv, err := server.NewServer(cfg, poller, scheduler, archive)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	log.Info().
		Int("port", cfg.HTTP.Port).
		Dur("poll_interval", cfg.Telemetry.PollInterval).
		Msg("Sensor dashboard is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Sensor dashboard stopped")
}
