package database

import (
	"time"
)

// ArchivedReading is one telemetry sample stored in the archive
type ArchivedReading struct {
	ID          int64
	Device      string
	Timestamp   time.Time
	Temperature *float64
	Humidity    *float64
	Pressure    *float64
	ReceivedAt  time.Time
}

// DailySummary is one day of archived readings reduced to avg/min/max
type DailySummary struct {
	Device      string    `json:"device"`
	Date        time.Time `json:"date"`
	AvgTemp     *float64  `json:"avg_temp"`
	MinTemp     *float64  `json:"min_temp"`
	MaxTemp     *float64  `json:"max_temp"`
	AvgHumidity *float64  `json:"avg_humidity"`
	MinHumidity *float64  `json:"min_humidity"`
	MaxHumidity *float64  `json:"max_humidity"`
	AvgPressure *float64  `json:"avg_pressure"`
	MinPressure *float64  `json:"min_pressure"`
	MaxPressure *float64  `json:"max_pressure"`
	SampleCount int       `json:"sample_count"`
}
