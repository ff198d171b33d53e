package control

import (
	"fmt"
	"time"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/driver"
	"github.com/itohio/goapwm/pkg/sample"
)

// Phase is the lifecycle state of the control loop.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseRunning
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRunning:
		return "running"
	case PhaseFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*p = PhaseUninitialized
	case "running":
		*p = PhaseRunning
	case "faulted":
		*p = PhaseFaulted
	default:
		return fmt.Errorf("unknown phase %q", string(b))
	}
	return nil
}

// State is the converter state owned by the loop.
type State struct {
	Params      sample.Params `json:"params"`
	DutyCycle   float32       `json:"duty_cycle"`
	Efficiency  float32       `json:"efficiency"`
	Initialized bool          `json:"initialized"`
}

// Timing holds the loop's cadence timestamps.
type Timing struct {
	LastMeasurement time.Time
	LastAdjustment  time.Time
}

// Counters are cumulative loop statistics.
type Counters struct {
	Cycles              uint64 `json:"cycles"`
	Measurements        uint64 `json:"measurements"`
	MeasurementFailures uint64 `json:"measurement_failures"`
	Adjustments         uint64 `json:"adjustments"`
	OutputFailures      uint64 `json:"output_failures"`

	ConsecutiveMeasurementFailures int `json:"consecutive_measurement_failures"`
	ConsecutiveOutputFailures      int `json:"consecutive_output_failures"`
}

// Snapshot is an immutable copy of the loop state taken at the end of a cycle.
type Snapshot struct {
	Phase Phase `json:"phase"`
	State
	Raw      driver.RawSample `json:"raw"`
	Fault    string           `json:"fault,omitempty"`
	At       time.Time        `json:"at"`
	Started  time.Time        `json:"started"`
	Counters Counters         `json:"counters"`

	Config config.ControlConfig `json:"-"`
}

// Status is a snapshot annotated for the query surface.
type Status struct {
	Snapshot
	Uptime time.Duration `json:"-"`
	Secure bool          `json:"-"`
}
