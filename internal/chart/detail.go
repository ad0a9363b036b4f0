package chart

import (
	"time"

	"github.com/smukkama/sensor-dashboard/internal/aggregation"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// DetailView is the data behind the detail panel for one metric
type DetailView struct {
	Metric   protocol.Metric           `json:"metric"`
	Unit     string                    `json:"unit"`
	Buckets  []aggregation.DailyBucket `json:"buckets"`
	Min      *aggregation.ExtremePoint `json:"min,omitempty"`
	Max      *aggregation.ExtremePoint `json:"max,omitempty"`
	Geometry *Geometry                 `json:"geometry,omitempty"`
}

// Detail aggregates history, finds the extremes and lays out the chart.
// The view is returned even when there is too little data to draw, together
// with ErrInsufficientData.
func Detail(history []protocol.Reading, metric protocol.Metric, loc *time.Location, box Box) (DetailView, error) {
	view := DetailView{
		Metric:  metric,
		Unit:    metric.Unit(),
		Buckets: aggregation.Aggregate(history, metric, loc),
	}

	lo, okMin := aggregation.FindExtreme(history, metric, aggregation.Min)
	hi, okMax := aggregation.FindExtreme(history, metric, aggregation.Max)
	if okMin {
		view.Min = &lo
	}
	if okMax {
		view.Max = &hi
	}
	if !okMin || !okMax {
		return view, ErrInsufficientData
	}

	g, err := Layout(view.Buckets, lo, hi, box)
	if err != nil {
		return view, err
	}
	view.Geometry = &g
	return view, nil
}
