package chart

import (
	"fmt"
	"io"
	"math"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// PlaceholderMessage is drawn instead of a chart when there is too little data
const PlaceholderMessage = "Not enough data to chart"

const margin = 32

var (
	colorLine  = drawing.ColorFromHex("38bdf8")
	colorArea  = drawing.ColorFromHex("38bdf8").WithAlpha(48)
	colorGuide = drawing.ColorFromHex("475569")
	colorPoint = drawing.ColorFromHex("e2e8f0")
	colorMin   = drawing.ColorFromHex("60a5fa")
	colorMax   = drawing.ColorFromHex("f87171")
	colorText  = drawing.ColorFromHex("94a3b8")
	colorSpark = drawing.ColorFromHex("22d3ee")
	colorNone  = drawing.Color{}
)

// canvas offsets virtual coordinates by the outer margin
type canvas struct {
	r gochart.Renderer
}

func newCanvas(box Box, pad int) (*canvas, error) {
	r, err := gochart.SVG(int(math.Ceil(box.Width))+2*pad, int(math.Ceil(box.Height))+2*pad)
	if err != nil {
		return nil, fmt.Errorf("failed to create SVG renderer: %w", err)
	}
	if _, err := gochart.GetDefaultFont(); err != nil {
		return nil, fmt.Errorf("failed to load chart font: %w", err)
	}
	return &canvas{r: r}, nil
}

func px(v float64, pad int) int {
	return int(math.Round(v)) + pad
}

func (c *canvas) path(points []Point, pad int, closed bool) {
	for i, p := range points {
		if i == 0 {
			c.r.MoveTo(px(p.X, pad), px(p.Y, pad))
			continue
		}
		c.r.LineTo(px(p.X, pad), px(p.Y, pad))
	}
	if closed {
		c.r.Close()
	}
}

func (c *canvas) stroke(points []Point, pad int, color drawing.Color, width float64, dash []float64) {
	c.r.ResetStyle()
	c.r.SetStrokeColor(color)
	c.r.SetFillColor(colorNone)
	c.r.SetStrokeWidth(width)
	if len(dash) > 0 {
		c.r.SetStrokeDashArray(dash)
	}
	c.path(points, pad, false)
	c.r.Stroke()
}

func (c *canvas) fill(points []Point, pad int, color drawing.Color) {
	c.r.ResetStyle()
	c.r.SetFillColor(color)
	c.path(points, pad, true)
	c.r.Fill()
}

func (c *canvas) dot(p Point, pad int, radius float64, color drawing.Color) {
	c.r.ResetStyle()
	c.r.SetFillColor(color)
	c.r.SetStrokeColor(color)
	c.r.SetStrokeWidth(1)
	c.r.Circle(radius, px(p.X, pad), px(p.Y, pad))
}

// label draws text it formatted itself; the renderer does not escape it
func (c *canvas) label(text string, x, y int, size float64, color drawing.Color) {
	c.r.ResetStyle()
	if font, err := gochart.GetDefaultFont(); err == nil {
		c.r.SetFont(font)
	}
	c.r.SetFontSize(size)
	c.r.SetFontColor(color)
	w := c.r.MeasureText(text).Width()
	c.r.Text(text, x-w/2, y)
}

// RenderDetail writes the daily trend chart as SVG
func RenderDetail(w io.Writer, g Geometry, metric protocol.Metric) error {
	c, err := newCanvas(g.Box, margin)
	if err != nil {
		return err
	}

	c.fill(g.Area, margin, colorArea)

	for _, b := range g.Buckets {
		c.stroke([]Point{{X: b.X, Y: 0}, {X: b.X, Y: g.Box.Height}}, margin, colorGuide, 1, []float64{4, 4})
	}

	c.stroke(g.Line, margin, colorLine, 2, nil)

	for _, b := range g.Buckets {
		c.dot(b.Point, margin, 3, colorPoint)
		c.label(fmt.Sprintf("%.1f", b.Value), px(b.X, margin), px(b.Y, margin)-8, 8, colorPoint)
		c.label(b.Label, px(b.X, margin), px(g.Box.Height, margin)+16, 8, colorText)
	}

	unit := metric.Unit()
	for _, e := range []struct {
		marker ExtremeMarker
		color  drawing.Color
		name   string
		offset int
	}{
		{g.Max, colorMax, "MAX", -10},
		{g.Min, colorMin, "MIN", 18},
	} {
		c.dot(e.marker.Point, margin, 5, e.color)
		text := fmt.Sprintf("%s %.1f %s", e.name, e.marker.Value, unit)
		c.label(text, px(e.marker.X, margin), px(e.marker.Y, margin)+e.offset, 8, e.color)
	}

	if err := c.r.Save(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// RenderSparkline writes the popup sparkline as SVG
func RenderSparkline(w io.Writer, s SparklineGeometry) error {
	const pad = 4
	c, err := newCanvas(s.Box, pad)
	if err != nil {
		return err
	}

	c.stroke(s.Line, pad, colorSpark, 2, nil)
	c.dot(s.Terminal, pad, 3, colorSpark)

	if err := c.r.Save(w); err != nil {
		return fmt.Errorf("failed to write sparkline: %w", err)
	}
	return nil
}

// RenderPlaceholder writes an SVG carrying PlaceholderMessage
func RenderPlaceholder(w io.Writer, box Box) error {
	c, err := newCanvas(box, 0)
	if err != nil {
		return err
	}

	c.label(PlaceholderMessage, px(box.Width/2, 0), px(box.Height/2, 0), 10, colorText)

	if err := c.r.Save(w); err != nil {
		return fmt.Errorf("failed to write placeholder: %w", err)
	}
	return nil
}
