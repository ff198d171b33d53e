package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// TrendWidget is a custom Fyne widget plotting duty cycle and efficiency over time.
type TrendWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu               sync.RWMutex
	display          []Point
	dutyMin          float32
	dutyMax          float32
	targetEfficiency float32

	xMin, xMax time.Time
	window     time.Duration

	maxDisplayPoints int
}

// New creates a TrendWidget showing the last window of history.
func New(window time.Duration) *TrendWidget {
	t := &TrendWidget{
		display:          make([]Point, 0, 500),
		window:           window,
		maxDisplayPoints: 500,
	}
	t.ExtendBaseWidget(t)
	t.updateRange()
	return t
}

// UpdateData replaces the plotted points and the reference lines.
// Call it from the UI goroutine (fyne.Do).
func (t *TrendWidget) UpdateData(points []Point, dutyMin, dutyMax, target float32) {
	t.mu.Lock()
	t.display = Downsample(t.display, points, t.maxDisplayPoints)
	t.dutyMin = dutyMin
	t.dutyMax = dutyMax
	t.targetEfficiency = target
	t.updateRange()
	t.mu.Unlock()

	t.Refresh()
}

// updateRange fixes the time axis to the newest window. Callers hold t.mu.
func (t *TrendWidget) updateRange() {
	if len(t.display) == 0 {
		t.xMax = time.Now()
		t.xMin = t.xMax.Add(-t.window)
		return
	}

	t.xMax = t.display[len(t.display)-1].At
	t.xMin = t.xMax.Add(-t.window)
}

// CreateRenderer creates the widget renderer.
func (t *TrendWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &trendRenderer{
		trend:   t,
		bg:      bg,
		objects: []fyne.CanvasObject{bg},
	}
}
