package telemetry

import (
	"fmt"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/aggregation"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

const (
	StatusOnline  = "ONLINE / ACTIVE"
	StatusOffline = "OFFLINE / SIGNAL LOST"

	missingValue = "--"
)

// Card is the data panel rendered next to the viewer
type Card struct {
	Device      string   `json:"device"`
	Stale       bool     `json:"stale"`
	Status      string   `json:"status"`
	Temperature string   `json:"temperature"`
	Humidity    string   `json:"humidity"`
	Pressure    string   `json:"pressure"`
	LastSync    string   `json:"last_sync"`
	Logs        []LogRow `json:"logs"`
	Loading     bool     `json:"loading"`
	Error       string   `json:"error,omitempty"`
}

// LogRow is one line of the recent readings table
type LogRow struct {
	Time        string `json:"time"`
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Pressure    string `json:"pressure"`
}

// CardOptions controls how a card is built
type CardOptions struct {
	StaleAfter time.Duration
	LogRows    int
	Location   *time.Location
}

// BuildCard renders a snapshot for display at time now
func BuildCard(device string, snap *Snapshot, now time.Time, opts CardOptions) Card {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	stale := IsStale(snap.Current, now, opts.StaleAfter)
	card := Card{
		Device:      device,
		Stale:       stale,
		Status:      StatusOnline,
		Temperature: missingValue + " °F",
		Humidity:    missingValue + " %",
		Pressure:    missingValue + " hPa",
		LastSync:    "N/A",
		Loading:     snap.IsLoading,
		Error:       snap.ErrorMessage(),
	}
	if stale {
		card.Status = StatusOffline
	}

	if cur := snap.Current; cur != nil {
		card.Temperature = formatValue(*cur, protocol.MetricTemperature, 1) + " °F"
		card.Humidity = formatValue(*cur, protocol.MetricHumidity, 1) + " %"
		card.Pressure = formatValue(*cur, protocol.MetricPressure, 0) + " hPa"
		if cur.HasTimestamp() {
			card.LastSync = cur.Timestamp.In(loc).Format(time.TimeOnly)
		}
	}

	rows := opts.LogRows
	if rows <= 0 {
		rows = 10
	}
	for _, r := range aggregation.Recent(snap.History, rows) {
		row := LogRow{
			Time:        missingValue,
			Temperature: formatValue(r, protocol.MetricTemperature, 1),
			Humidity:    formatValue(r, protocol.MetricHumidity, 1),
			Pressure:    formatValue(r, protocol.MetricPressure, 0),
		}
		if r.HasTimestamp() {
			row.Time = r.Timestamp.In(loc).Format(time.TimeOnly)
		}
		card.Logs = append(card.Logs, row)
	}

	return card
}

func formatValue(r protocol.Reading, m protocol.Metric, decimals int) string {
	v, ok := r.Value(m)
	if !ok {
		return missingValue
	}
	return fmt.Sprintf("%.*f", decimals, v)
}
