package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/aggregation"
	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.With("rollup")

	loc, err := cfg.Aggregation.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid timezone")
	}

	log.Info().Str("timezone", loc.String()).Msg("Starting daily rollup service")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	defer scheduler.Stop()

	rollup := aggregation.NewDailyRollup(db, loc)
	scheduleDailyRollup(log, scheduler, rollup, cfg.Aggregation.DailyTime, loc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")
}

func scheduleDailyRollup(log zerolog.Logger, s *timer.Scheduler, rollup *aggregation.DailyRollup, timeOfDay string, loc *time.Location) {
	const taskID = "daily-rollup"

	var scheduleNext func()
	scheduleNext = func() {
		nextRun, err := aggregation.NextRunTime(time.Now(), timeOfDay, loc)
		if err != nil {
			log.Fatal().Err(err).Str("time_of_day", timeOfDay).Msg("Failed to calculate daily run time")
		}
		log.Info().Time("next_run", nextRun).Msg("Next daily rollup scheduled")

		callback := func() {
			if err := rollup.AggregatePreviousDay(time.Now()); err != nil {
				log.Error().Err(err).Msg("Daily rollup failed")
			}
			scheduleNext()
		}

		if err := s.Schedule(taskID, nextRun, callback); err != nil {
			log.Error().Err(err).Msg("Failed to schedule daily rollup")
		}
	}

	scheduleNext()
}
