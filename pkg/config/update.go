package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrRejected is returned when a configuration violates the absolute safety bounds.
var ErrRejected = errors.New("configuration rejected")

const (
	// MinSampleRate and MaxSampleRate bound the measurement cadence accepted at runtime.
	MinSampleRate = time.Millisecond
	MaxSampleRate = 10 * time.Second
)

// Update is a partial runtime change to the control parameters.
// Nil fields keep their current value.
type Update struct {
	DutyCycleMin     *float32 `json:"duty_cycle_min,omitempty" yaml:"duty_cycle_min,omitempty"`
	DutyCycleMax     *float32 `json:"duty_cycle_max,omitempty" yaml:"duty_cycle_max,omitempty"`
	TargetEfficiency *float32 `json:"target_efficiency,omitempty" yaml:"target_efficiency,omitempty"`
	SampleRateMs     *uint32  `json:"sample_rate_ms,omitempty" yaml:"sample_rate_ms,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.DutyCycleMin == nil && u.DutyCycleMax == nil && u.TargetEfficiency == nil && u.SampleRateMs == nil
}

// Apply merges the update into a copy of c and validates the result.
// On rejection the returned error wraps ErrRejected and c is returned unchanged.
func (c ControlConfig) Apply(u Update) (ControlConfig, error) {
	next := c
	if u.DutyCycleMin != nil {
		next.DutyCycleMin = *u.DutyCycleMin
	}
	if u.DutyCycleMax != nil {
		next.DutyCycleMax = *u.DutyCycleMax
	}
	if u.TargetEfficiency != nil {
		next.TargetEfficiency = *u.TargetEfficiency
	}
	if u.SampleRateMs != nil {
		next.SampleRate = time.Duration(*u.SampleRateMs) * time.Millisecond
	}

	if err := next.validate(); err != nil {
		return c, err
	}
	return next, nil
}

// validate enforces 0 < min < max < 1 and the remaining loop bounds.
// Comparisons are written so that NaN fails them.
func (c ControlConfig) validate() error {
	if !(c.DutyCycleMin > 0 && c.DutyCycleMin < c.DutyCycleMax && c.DutyCycleMax < 1) {
		return fmt.Errorf("%w: duty cycle bounds must satisfy 0 < min < max < 1 (min=%g, max=%g)",
			ErrRejected, c.DutyCycleMin, c.DutyCycleMax)
	}
	if !(c.TargetEfficiency > 0 && c.TargetEfficiency <= 1) {
		return fmt.Errorf("%w: target efficiency must be in (0, 1], got %g", ErrRejected, c.TargetEfficiency)
	}
	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be within [%v, %v], got %v",
			ErrRejected, MinSampleRate, MaxSampleRate, c.SampleRate)
	}
	if !(c.Gain > 0 && c.Gain <= 1) {
		return fmt.Errorf("%w: gain must be in (0, 1], got %g", ErrRejected, c.Gain)
	}
	if !(c.Deadband >= 0 && c.Deadband < 1) {
		return fmt.Errorf("%w: deadband must be in [0, 1), got %g", ErrRejected, c.Deadband)
	}
	if c.AdjustInterval < 0 || c.LoopInterval <= 0 {
		return fmt.Errorf("%w: adjust interval must be >= 0 and loop interval > 0", ErrRejected)
	}
	if c.InitRetries < 0 || c.MaxMeasurementFailures < 0 || c.MaxOutputFailures < 0 {
		return fmt.Errorf("%w: retry and failure budgets must not be negative", ErrRejected)
	}
	return nil
}

// Clamp limits v to the configured duty cycle bounds.
func (c ControlConfig) Clamp(v float32) float32 {
	if v < c.DutyCycleMin {
		return c.DutyCycleMin
	}
	if v > c.DutyCycleMax {
		return c.DutyCycleMax
	}
	return v
}
