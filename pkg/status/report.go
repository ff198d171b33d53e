// Package status exposes the controller to operator consoles over HTTP and websocket.
package status

import (
	"time"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
)

// Report is the read-only status document served to operators.
type Report struct {
	Phase            string        `json:"phase"`
	DutyCycle        float32       `json:"duty_cycle"`
	Efficiency       float32       `json:"efficiency"`
	InductanceMH     float32       `json:"inductance_mh"`
	CapacitanceUF    float32       `json:"capacitance_uf"`
	ESRMOhm          float32       `json:"esr_mohm"`
	Raw              uint16        `json:"raw"`
	SystemReady      bool          `json:"system_ready"`
	SecureModeActive bool          `json:"secure_mode_active"`
	UptimeSeconds    uint64        `json:"uptime_seconds"`
	Fault            string        `json:"fault,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	Config           ControlReport `json:"config"`
}

// ControlReport carries the runtime-tunable control parameters.
type ControlReport struct {
	DutyCycleMin     float32 `json:"duty_cycle_min"`
	DutyCycleMax     float32 `json:"duty_cycle_max"`
	TargetEfficiency float32 `json:"target_efficiency"`
	SampleRateMs     uint32  `json:"sample_rate_ms"`
}

// Diagnostics is the counter dump served at /diagnostics.
type Diagnostics struct {
	Phase         string           `json:"phase"`
	UptimeSeconds uint64           `json:"uptime_seconds"`
	Raw           uint16           `json:"raw"`
	Counters      control.Counters `json:"counters"`
	Fault         string           `json:"fault,omitempty"`
}

// NewReport converts a loop status into a Report.
func NewReport(st control.Status) Report {
	return Report{
		Phase:            st.Phase.String(),
		DutyCycle:        st.DutyCycle,
		Efficiency:       st.Efficiency,
		InductanceMH:     st.Params.InductanceMH,
		CapacitanceUF:    st.Params.CapacitanceUF,
		ESRMOhm:          st.Params.ESRMOhm,
		Raw:              uint16(st.Raw),
		SystemReady:      st.Initialized && st.Phase == control.PhaseRunning,
		SecureModeActive: st.Secure,
		UptimeSeconds:    uint64(st.Uptime / time.Second),
		Fault:            st.Fault,
		Timestamp:        st.At,
		Config:           NewControlReport(st.Config),
	}
}

// NewControlReport extracts the runtime-tunable parameters.
func NewControlReport(c config.ControlConfig) ControlReport {
	return ControlReport{
		DutyCycleMin:     c.DutyCycleMin,
		DutyCycleMax:     c.DutyCycleMax,
		TargetEfficiency: c.TargetEfficiency,
		SampleRateMs:     uint32(c.SampleRate / time.Millisecond),
	}
}

// NewDiagnostics converts a loop status into a Diagnostics dump.
func NewDiagnostics(st control.Status) Diagnostics {
	return Diagnostics{
		Phase:         st.Phase.String(),
		UptimeSeconds: uint64(st.Uptime / time.Second),
		Raw:           uint16(st.Raw),
		Counters:      st.Counters,
		Fault:         st.Fault,
	}
}
