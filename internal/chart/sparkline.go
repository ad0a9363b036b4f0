package chart

import (
	"math"

	"github.com/smukkama/sensor-dashboard/internal/aggregation"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// DefaultSparklineSamples is how many raw readings the popup sparkline shows
const DefaultSparklineSamples = 10

// SparklineGeometry is a polyline over raw samples ending in a highlighted point
type SparklineGeometry struct {
	Box      Box       `json:"box"`
	Line     []Point   `json:"line"`
	Terminal Point     `json:"terminal"`
	Values   []float64 `json:"values"`
}

// Sparkline plots the newest samples of metric from newest-first history in
// chronological order, normalized to [min-1, max+1].
func Sparkline(history []protocol.Reading, metric protocol.Metric, samples int, box Box) (SparklineGeometry, error) {
	if samples <= 0 {
		samples = DefaultSparklineSamples
	}

	var values []float64
	for _, r := range aggregation.Recent(history, samples) {
		if v, ok := r.Value(metric); ok {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return SparklineGeometry{}, ErrInsufficientData
	}

	// oldest on the left
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	lo--
	hi++

	n := len(values)
	s := SparklineGeometry{Box: box, Values: values, Line: make([]Point, 0, n)}
	for i, v := range values {
		s.Line = append(s.Line, Point{
			X: float64(i) / float64(n-1) * box.Width,
			Y: box.Height - ((v-lo)/(hi-lo))*box.Height,
		})
	}
	s.Terminal = s.Line[n-1]
	return s, nil
}
