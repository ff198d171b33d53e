package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

var (
	gridColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor    = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	dutyColor     = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // orange
	effColor      = color.RGBA{R: 100, G: 200, B: 255, A: 255} // light blue
	boundColor    = color.RGBA{R: 120, G: 60, B: 0, A: 255}
	targetColor   = color.RGBA{R: 0, G: 100, B: 200, A: 255}
	faultBarColor = color.RGBA{R: 200, G: 30, B: 30, A: 180}
)

// trendRenderer renders the trend widget. Both series share the [0, 1] axis.
type trendRenderer struct {
	trend *TrendWidget

	bg      *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *trendRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 240)
}

// Layout arranges the widget components.
func (r *trendRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.trend.BaseWidget.Refresh()
	}
}

// plot is the drawing area inside the axis margins.
type plot struct {
	x, y, w, h float32
	xMin       time.Time
	span       float64
}

func (p plot) px(at time.Time) float32 {
	return p.x + float32(at.Sub(p.xMin).Seconds()/p.span)*p.w
}

func (p plot) py(v float32) float32 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return p.y + p.h - v*p.h
}

// Refresh rebuilds the canvas objects from the current data.
func (r *trendRenderer) Refresh() {
	r.trend.mu.RLock()
	points := r.trend.display
	dutyMin := r.trend.dutyMin
	dutyMax := r.trend.dutyMax
	target := r.trend.targetEfficiency
	xMin := r.trend.xMin
	xMax := r.trend.xMax
	r.trend.mu.RUnlock()

	r.objects = []fyne.CanvasObject{r.bg}

	size := r.trend.Size()
	span := xMax.Sub(xMin).Seconds()
	if size.Width == 0 || size.Height == 0 || span <= 0 {
		return
	}

	const (
		marginLeft   = 50
		marginRight  = 20
		marginTop    = 20
		marginBottom = 30
	)
	p := plot{
		x:    marginLeft,
		y:    marginTop,
		w:    size.Width - marginLeft - marginRight,
		h:    size.Height - marginTop - marginBottom,
		xMin: xMin,
		span: span,
	}

	r.drawGrid(p)
	r.drawFaults(p, points)
	if dutyMax > dutyMin {
		r.drawLevel(p, dutyMin, boundColor)
		r.drawLevel(p, dutyMax, boundColor)
	}
	if target > 0 {
		r.drawLevel(p, target, targetColor)
	}
	r.drawSeries(p, points, dutyColor, 1.5, func(pt Point) float32 { return pt.DutyCycle })
	r.drawSeries(p, points, effColor, 2.5, func(pt Point) float32 { return pt.Efficiency })
	r.drawLegend(p)
}

func (r *trendRenderer) drawGrid(p plot) {
	const hLines = 10
	for i := range hLines + 1 {
		v := float32(i) / hLines
		y := p.py(v)
		r.addLine(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), gridColor, 1)

		if i%2 == 0 {
			r.addText(fmt.Sprintf("%.1f", v), fyne.NewPos(p.x-5, y-6), fyne.TextAlignTrailing, labelColor, 10)
		}
	}

	const vLines = 10
	for i := range vLines + 1 {
		x := p.x + float32(i)*p.w/vLines
		r.addLine(fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h), gridColor, 1)

		ago := time.Duration((1 - float64(i)/vLines) * p.span * float64(time.Second))
		r.addText(formatAgo(ago), fyne.NewPos(x-20, p.y+p.h+5), fyne.TextAlignCenter, labelColor, 10)
	}
}

func (r *trendRenderer) drawLevel(p plot, v float32, c color.Color) {
	y := p.py(v)
	r.addLine(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), c, 1)
}

// drawFaults shades the stretch of the time axis spent faulted.
func (r *trendRenderer) drawFaults(p plot, points []Point) {
	for i, pt := range points {
		if !pt.Faulted || pt.At.Before(p.xMin) {
			continue
		}
		end := pt.At
		if i+1 < len(points) {
			end = points[i+1].At
		}
		x1, x2 := p.px(pt.At), p.px(end)
		if x2-x1 < 2 {
			x2 = x1 + 2
		}

		bar := canvas.NewRectangle(faultBarColor)
		bar.Move(fyne.NewPos(x1, p.y))
		bar.Resize(fyne.NewSize(x2-x1, p.h))
		r.objects = append(r.objects, bar)
	}
}

func (r *trendRenderer) drawSeries(p plot, points []Point, c color.Color, width float32, value func(Point) float32) {
	var prev fyne.Position
	have := false
	for _, pt := range points {
		if pt.At.Before(p.xMin) {
			continue
		}
		pos := fyne.NewPos(p.px(pt.At), p.py(value(pt)))
		if have {
			r.addLine(prev, pos, c, width)
		}
		prev, have = pos, true
	}
}

func (r *trendRenderer) drawLegend(p plot) {
	r.addText("duty", fyne.NewPos(p.x+10, p.y+4), fyne.TextAlignLeading, dutyColor, 11)
	r.addText("efficiency", fyne.NewPos(p.x+50, p.y+4), fyne.TextAlignLeading, effColor, 11)
}

func (r *trendRenderer) addLine(a, b fyne.Position, c color.Color, width float32) {
	line := canvas.NewLine(c)
	line.Position1 = a
	line.Position2 = b
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

func (r *trendRenderer) addText(s string, pos fyne.Position, align fyne.TextAlign, c color.Color, size float32) {
	text := canvas.NewText(s, c)
	text.TextSize = size
	text.Alignment = align
	text.Move(pos)
	r.objects = append(r.objects, text)
}

// Objects returns all canvas objects for rendering.
func (r *trendRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *trendRenderer) Destroy() {}

func formatAgo(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	if d < 10*time.Second {
		return fmt.Sprintf("-%.1fs", d.Seconds())
	}
	return fmt.Sprintf("-%.0fs", d.Seconds())
}
