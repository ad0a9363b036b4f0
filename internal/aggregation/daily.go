package aggregation

import (
	"time"

	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// DateKeyLayout is the MM/DD/YY calendar-day key of a bucket
const DateKeyLayout = "01/02/06"

// DailyBucket is one calendar day of readings reduced to an average
type DailyBucket struct {
	DateKey     string    `json:"date"`
	Date        time.Time `json:"day_start"`
	Average     float64   `json:"average"`
	SampleCount int       `json:"sample_count"`
}

// ExtremeMode selects the minimum or maximum in FindExtreme
type ExtremeMode string

const (
	Min ExtremeMode = "min"
	Max ExtremeMode = "max"
)

// ExtremePoint is the raw reading holding a metric's min or max over the whole history
type ExtremePoint struct {
	Reading protocol.Reading `json:"reading"`
	Metric  protocol.Metric  `json:"metric"`
	Value   float64          `json:"value"`
}

// sample reports whether a reading takes part in aggregation for metric.
// Buckets and extremes share this filter.
func sample(r protocol.Reading, metric protocol.Metric) (float64, bool) {
	if !r.HasTimestamp() {
		return 0, false
	}
	return r.Value(metric)
}

// Aggregate groups readings by calendar day in loc and averages the numeric
// values of metric. Days are emitted in the reverse of the order they are
// first seen, so newest-first history yields oldest-first buckets.
func Aggregate(history []protocol.Reading, metric protocol.Metric, loc *time.Location) []DailyBucket {
	if loc == nil {
		loc = time.UTC
	}

	type group struct {
		date  time.Time
		sum   float64
		count int
	}

	var order []string
	groups := make(map[string]*group)

	for _, r := range history {
		v, ok := sample(r, metric)
		if !ok {
			continue
		}

		local := r.Timestamp.In(loc)
		key := local.Format(DateKeyLayout)

		g, exists := groups[key]
		if !exists {
			g = &group{date: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)}
			groups[key] = g
			order = append(order, key)
		}
		g.sum += v
		g.count++
	}

	buckets := make([]DailyBucket, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		g := groups[order[i]]
		buckets = append(buckets, DailyBucket{
			DateKey:     order[i],
			Date:        g.date,
			Average:     g.sum / float64(g.count),
			SampleCount: g.count,
		})
	}

	return buckets
}

// FindExtreme scans history for the reading with the lowest or highest value
// of metric. The first reading in scan order wins ties. It returns false when
// no reading has a numeric value.
func FindExtreme(history []protocol.Reading, metric protocol.Metric, mode ExtremeMode) (ExtremePoint, bool) {
	var best ExtremePoint
	found := false

	for _, r := range history {
		v, ok := sample(r, metric)
		if !ok {
			continue
		}

		better := !found ||
			(mode == Min && v < best.Value) ||
			(mode == Max && v > best.Value)
		if better {
			best = ExtremePoint{Reading: r, Metric: metric, Value: v}
			found = true
		}
	}

	return best, found
}

// Recent returns up to n of the newest readings, newest first
func Recent(history []protocol.Reading, n int) []protocol.Reading {
	if n <= 0 {
		return nil
	}
	if n > len(history) {
		n = len(history)
	}
	out := make([]protocol.Reading, n)
	copy(out, history[:n])
	return out
}
