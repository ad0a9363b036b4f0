package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/queue"
	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/pkg/config"
)

const (
	batchSize     = 100
	flushInterval = 5 * time.Second
	statsInterval = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.With("archiver")

	log.Info().Msg("Starting reading archiver")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, "archiver-group")
	defer consumer.Close()

	writer := queue.NewBatchWriter(consumer, db, batchSize, flushInterval)
	writer.Start(context.Background())

	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	defer scheduler.Stop()

	if err := scheduler.Every("consumer-stats", statsInterval, func() {
		stats := consumer.Stats()
		log.Info().
			Int64("messages", stats.Messages).
			Int64("bytes", stats.Bytes).
			Int64("errors", stats.Errors).
			Msg("Consumer stats")
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to schedule consumer stats")
	}

	log.Info().
		Str("topic", cfg.Kafka.TopicReadings).
		Int("batch_size", batchSize).
		Dur("flush_interval", flushInterval).
		Msg("Archiver is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")
	writer.Stop()
	log.Info().Msg("Archiver stopped")
}
