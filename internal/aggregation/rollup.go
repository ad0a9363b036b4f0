package aggregation

import (
	"fmt"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
)

// DailyRollup summarizes archived readings into daily_summary rows
type DailyRollup struct {
	db  *database.DB
	loc *time.Location
}

// NewDailyRollup creates a rollup that buckets days in loc
func NewDailyRollup(db *database.DB, loc *time.Location) *DailyRollup {
	return &DailyRollup{db: db, loc: loc}
}

// Aggregate performs the rollup for the calendar day containing targetDate
func (d *DailyRollup) Aggregate(targetDate time.Time) error {
	local := targetDate.In(d.loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.loc)

	logging.Info().Str("date", date.Format("2006-01-02")).Msg("running daily rollup")

	query := `
		INSERT INTO daily_summary (
			device, date,
			avg_temp, min_temp, max_temp,
			avg_humidity, min_humidity, max_humidity,
			avg_pressure, min_pressure, max_pressure,
			sample_count
		)
		SELECT
			device,
			$1::date AS date,
			AVG(temperature), MIN(temperature), MAX(temperature),
			AVG(humidity), MIN(humidity), MAX(humidity),
			AVG(pressure), MIN(pressure), MAX(pressure),
			COUNT(*) AS sample_count
		FROM
			readings
		WHERE
			DATE(ts AT TIME ZONE $2) = $1::date
		GROUP BY
			device
		ON CONFLICT (device, date) DO UPDATE
		SET
			avg_temp = EXCLUDED.avg_temp,
			min_temp = EXCLUDED.min_temp,
			max_temp = EXCLUDED.max_temp,
			avg_humidity = EXCLUDED.avg_humidity,
			min_humidity = EXCLUDED.min_humidity,
			max_humidity = EXCLUDED.max_humidity,
			avg_pressure = EXCLUDED.avg_pressure,
			min_pressure = EXCLUDED.min_pressure,
			max_pressure = EXCLUDED.max_pressure,
			sample_count = EXCLUDED.sample_count
	`

	result, err := d.db.Exec(query, date.Format("2006-01-02"), d.loc.String())
	if err != nil {
		return fmt.Errorf("failed to roll up daily data: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	logging.Info().Int64("devices", rowsAffected).Msg("daily rollup completed")

	return nil
}

// AggregatePreviousDay rolls up the previous full day
func (d *DailyRollup) AggregatePreviousDay(now time.Time) error {
	return d.Aggregate(now.In(d.loc).AddDate(0, 0, -1))
}

// NextRunTime calculates when the rollup should next run.
// timeOfDay is "HH:MM" in the rollup's location.
func NextRunTime(now time.Time, timeOfDay string, loc *time.Location) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	local := now.In(loc)
	todayRun := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)

	// If we're past today's run time, schedule for tomorrow
	if local.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}
