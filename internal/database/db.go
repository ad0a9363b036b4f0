package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/smukkama/sensor-dashboard/internal/logging"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		logging.Info().Str("file", filename).Msg("running migration")

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

const insertReadingQuery = `
	INSERT INTO readings (device, ts, temperature, humidity, pressure, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (device, ts) DO NOTHING
`

// InsertReadings stores a batch of readings in one transaction. Readings
// already archived for the same device and timestamp are skipped.
func (db *DB) InsertReadings(ctx context.Context, readings []*ArchivedReading) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReadingQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range readings {
		res, err := stmt.ExecContext(ctx, r.Device, r.Timestamp, r.Temperature, r.Humidity, r.Pressure, r.ReceivedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert reading: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit readings: %w", err)
	}
	return inserted, nil
}

// GetDailySummaries returns the device's summaries since the given date, oldest first
func (db *DB) GetDailySummaries(ctx context.Context, device string, since time.Time) ([]*DailySummary, error) {
	query := `
		SELECT device, date,
		       avg_temp, min_temp, max_temp,
		       avg_humidity, min_humidity, max_humidity,
		       avg_pressure, min_pressure, max_pressure,
		       sample_count
		FROM daily_summary
		WHERE device = $1 AND date >= $2::date
		ORDER BY date
	`

	rows, err := db.QueryContext(ctx, query, device, since.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(
			&s.Device,
			&s.Date,
			&s.AvgTemp, &s.MinTemp, &s.MaxTemp,
			&s.AvgHumidity, &s.MinHumidity, &s.MaxHumidity,
			&s.AvgPressure, &s.MinPressure, &s.MaxPressure,
			&s.SampleCount,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}
