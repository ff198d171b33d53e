package control

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/goapwm/pkg/config"
)

// Controller is a rate-limited proportional duty cycle controller.
type Controller struct {
	Min      float32
	Max      float32
	Gain     float32
	Deadband float32
	Interval time.Duration
}

// NewController creates a Controller from control settings.
func NewController(cfg config.ControlConfig) Controller {
	return Controller{
		Min:      cfg.DutyCycleMin,
		Max:      cfg.DutyCycleMax,
		Gain:     cfg.Gain,
		Deadband: cfg.Deadband,
		Interval: cfg.AdjustInterval,
	}
}

// Adjust proposes a new duty cycle. It returns false when the adjustment
// interval has not elapsed since *last or when the clamped change does not
// exceed the deadband. *last advances whenever the interval elapsed,
// regardless of whether a change is proposed.
func (c Controller) Adjust(current, efficiency, target float32, now time.Time, last *time.Time) (float32, bool) {
	if now.Sub(*last) < c.Interval {
		return current, false
	}
	*last = now

	step := (target - efficiency) * c.Gain
	candidate := math32.Max(c.Min, math32.Min(c.Max, current+step))

	// NaN fails the comparison and leaves the duty cycle unchanged.
	if math32.Abs(candidate-current) > c.Deadband {
		return candidate, true
	}
	return current, false
}
