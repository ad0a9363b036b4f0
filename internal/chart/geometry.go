// Package chart lays out daily trend charts and sparklines in a virtual
// coordinate box and renders them as SVG.
package chart

import (
	"errors"
	"math"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/aggregation"
)

// ErrInsufficientData is returned when there are fewer than two points to plot
var ErrInsufficientData = errors.New("not enough data to chart")

// Box is the virtual coordinate space; (0,0) is the top-left corner
type Box struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a position inside a Box
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BucketMarker is the labeled point and guide drawn for one day
type BucketMarker struct {
	Point
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ExtremeMarker is a min or max reading placed by its timestamp
type ExtremeMarker struct {
	Point
	Mode  aggregation.ExtremeMode `json:"mode"`
	Value float64                 `json:"value"`
	Time  time.Time               `json:"time"`
}

// Geometry is everything needed to draw the detail chart
type Geometry struct {
	Box     Box            `json:"box"`
	PlotMin float64        `json:"plot_min"`
	PlotMax float64        `json:"plot_max"`
	Range   float64        `json:"range"`
	Line    []Point        `json:"line"`
	Area    []Point        `json:"area"`
	Buckets []BucketMarker `json:"buckets"`
	Min     ExtremeMarker  `json:"min"`
	Max     ExtremeMarker  `json:"max"`
}

// Layout scales daily buckets and the two raw extremes into box.
//
// The value axis spans the bucket averages and both extremes so outliers are
// never clipped. Buckets are spaced evenly by index while extremes are placed
// proportionally to their timestamps between the first and last bucket day;
// the two x scales need not agree for the same day.
func Layout(buckets []aggregation.DailyBucket, lo, hi aggregation.ExtremePoint, box Box) (Geometry, error) {
	n := len(buckets)
	if n < 2 {
		return Geometry{}, ErrInsufficientData
	}

	plotMin := math.Min(lo.Value, hi.Value)
	plotMax := math.Max(lo.Value, hi.Value)
	for _, b := range buckets {
		plotMin = math.Min(plotMin, b.Average)
		plotMax = math.Max(plotMax, b.Average)
	}
	valueRange := math.Max(plotMax-plotMin, 1)

	y := func(v float64) float64 {
		return box.Height - ((v-plotMin)/valueRange)*box.Height
	}

	g := Geometry{
		Box:     box,
		PlotMin: plotMin,
		PlotMax: plotMax,
		Range:   valueRange,
		Line:    make([]Point, 0, n),
		Buckets: make([]BucketMarker, 0, n),
	}

	for i, b := range buckets {
		p := Point{X: float64(i) / float64(n-1) * box.Width, Y: y(b.Average)}
		g.Line = append(g.Line, p)
		g.Buckets = append(g.Buckets, BucketMarker{Point: p, Label: b.DateKey, Value: b.Average})
	}

	g.Area = make([]Point, 0, n+2)
	g.Area = append(g.Area, Point{X: 0, Y: box.Height})
	g.Area = append(g.Area, g.Line...)
	g.Area = append(g.Area, Point{X: box.Width, Y: box.Height})

	timeStart := buckets[0].Date
	timeEnd := buckets[n-1].Date
	place := func(e aggregation.ExtremePoint, mode aggregation.ExtremeMode) ExtremeMarker {
		return ExtremeMarker{
			Point: Point{X: timeX(e.Reading.Timestamp, timeStart, timeEnd, box.Width), Y: y(e.Value)},
			Mode:  mode,
			Value: e.Value,
			Time:  e.Reading.Timestamp,
		}
	}
	g.Min = place(lo, aggregation.Min)
	g.Max = place(hi, aggregation.Max)

	return g, nil
}

func timeX(t, start, end time.Time, width float64) float64 {
	span := end.Sub(start)
	if span <= 0 {
		return 0
	}
	x := float64(t.Sub(start)) / float64(span) * width
	return math.Max(0, math.Min(width, x))
}
