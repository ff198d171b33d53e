package sample

import (
	"errors"
	"fmt"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/driver"
)

// ErrInvalidMeasurement is returned when an estimated parameter is outside its plausible range.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Params are the estimated physical parameters of the converter.
type Params struct {
	InductanceMH  float32 `json:"inductance_mh"`
	CapacitanceUF float32 `json:"capacitance_uf"`
	ESRMOhm       float32 `json:"esr_mohm"`
}

// RangeError reports the quantity that failed validation.
type RangeError struct {
	Quantity string
	Value    float32
	Min      float32
	Max      float32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s %g outside [%g, %g]", ErrInvalidMeasurement, e.Quantity, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidMeasurement
}

// Mapping converts an averaged raw reading to physical parameters.
// Implementations must return ErrInvalidMeasurement rather than out-of-range values.
type Mapping interface {
	Estimate(raw driver.RawSample) (Params, error)
}

// MappingFunc adapts a function to Mapping.
type MappingFunc func(raw driver.RawSample) (Params, error)

// Estimate calls f(raw).
func (f MappingFunc) Estimate(raw driver.RawSample) (Params, error) {
	return f(raw)
}

// Linear maps a raw reading to a quantity: value = raw*Gain + Offset, valid within [Min, Max].
type Linear struct {
	Name   string
	Gain   float32
	Offset float32
	Min    float32
	Max    float32
}

// Convert applies the mapping and validates the result. NaN and infinities are rejected.
func (l Linear) Convert(raw driver.RawSample) (float32, error) {
	v := float32(raw)*l.Gain + l.Offset
	if !(v >= l.Min && v <= l.Max) {
		return 0, &RangeError{Quantity: l.Name, Value: v, Min: l.Min, Max: l.Max}
	}
	return v, nil
}

// Estimator is the calibrated linear Mapping for inductance, capacitance and ESR.
type Estimator struct {
	Inductance  Linear
	Capacitance Linear
	ESR         Linear
}

var _ Mapping = (*Estimator)(nil)

// NewEstimator creates an Estimator from calibration settings.
func NewEstimator(cfg config.CalibrationConfig) *Estimator {
	return &Estimator{
		Inductance:  linearFrom("inductance_mH", cfg.Inductance),
		Capacitance: linearFrom("capacitance_uF", cfg.Capacitance),
		ESR:         linearFrom("esr_mOhm", cfg.ESR),
	}
}

func linearFrom(name string, c config.LinearConfig) Linear {
	return Linear{Name: name, Gain: c.Gain, Offset: c.Offset, Min: c.Min, Max: c.Max}
}

// Estimate converts raw into Params. Any quantity out of range fails the whole estimate.
func (e *Estimator) Estimate(raw driver.RawSample) (Params, error) {
	l, err := e.Inductance.Convert(raw)
	if err != nil {
		return Params{}, err
	}
	c, err := e.Capacitance.Convert(raw)
	if err != nil {
		return Params{}, err
	}
	esr, err := e.ESR.Convert(raw)
	if err != nil {
		return Params{}, err
	}

	return Params{
		InductanceMH:  l,
		CapacitanceUF: c,
		ESRMOhm:       esr,
	}, nil
}
