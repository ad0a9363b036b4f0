package protocol

import (
	"fmt"
	"math"
	"time"
)

// Metric identifies one numeric field of a reading
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricPressure    Metric = "pressure"
)

// Metrics lists every metric in display order
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricPressure}

// ParseMetric validates a metric name coming from a URL or viewer message
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricTemperature, MetricHumidity, MetricPressure:
		return Metric(name), nil
	case "temp":
		return MetricTemperature, nil
	default:
		return "", fmt.Errorf("unknown metric: %s", name)
	}
}

// Unit returns the display unit of the metric
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°F"
	case MetricHumidity:
		return "%"
	case MetricPressure:
		return "hPa"
	default:
		return ""
	}
}

// Reading is one normalized telemetry sample. A nil field means the feed sent
// no usable number for it.
type Reading struct {
	Temperature *float64  `json:"temp,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Timestamp   time.Time `json:"lastUpdated"`
}

// Value returns the metric's value and whether it is numeric
func (r Reading) Value(m Metric) (float64, bool) {
	var v *float64
	switch m {
	case MetricTemperature:
		v = r.Temperature
	case MetricHumidity:
		v = r.Humidity
	case MetricPressure:
		v = r.Pressure
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// HasTimestamp reports whether the reading carried a parseable lastUpdated
func (r Reading) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Float returns a pointer to v, for building readings in code
func Float(v float64) *float64 {
	return &v
}
