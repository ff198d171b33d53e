package driver

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/goapwm/pkg/config"
)

// Mock simulates the converter's ADC and PWM stage for testing and development.
type Mock struct {
	cfg *config.MockConfig

	mu sync.Mutex

	inited      bool
	converting  bool
	conversions int
	value       RawSample

	raw        RawSample
	duty       float32
	writes     int
	failOutput bool
}

// NewMock creates a new simulated device.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	return &Mock{
		cfg: cfg,
		raw: RawSample(cfg.Raw),
	}
}

// Init simulates ADC configuration.
func (m *Mock) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.FailInit {
		return &DriverError{Op: "init", Err: ErrTimeout}
	}
	m.inited = true
	return nil
}

// StartConversion starts a simulated conversion.
func (m *Mock) StartConversion() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return &DriverError{Op: "start", Err: ErrNotInitialized}
	}
	m.converting = true
	m.conversions++
	return nil
}

// PollUntilReady completes the conversion or reports a timeout when a fault is injected.
func (m *Mock) PollUntilReady() error {
	m.mu.Lock()
	latency := m.cfg.Latency
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.converting {
		return &DriverError{Op: "poll", Err: ErrNotInitialized}
	}
	if m.cfg.Stuck || (m.cfg.FailEvery > 0 && m.conversions%m.cfg.FailEvery == 0) {
		return &DriverError{Op: "poll", Err: ErrConversionTimeout}
	}

	m.value = m.generateSample()
	return nil
}

// ReadValue returns the last completed conversion.
func (m *Mock) ReadValue() RawSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Stop ends the simulated conversion.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.converting = false
	return nil
}

// SetDutyCycle records the commanded duty cycle.
func (m *Mock) SetDutyCycle(value float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOutput {
		return &DriverError{Op: "pwm", Err: ErrOutputFault}
	}
	m.duty = value
	m.writes++
	return nil
}

// Close is a no-op for the simulated device.
func (m *Mock) Close() error {
	return nil
}

// SetRaw changes the nominal raw reading.
func (m *Mock) SetRaw(raw RawSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
}

// SetStuck makes every following conversion time out.
func (m *Mock) SetStuck(stuck bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Stuck = stuck
}

// SetOutputFault makes SetDutyCycle fail.
func (m *Mock) SetOutputFault(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOutput = fail
}

// DutyCycle returns the last duty cycle written to the PWM stage.
func (m *Mock) DutyCycle() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty
}

// Writes returns how many duty cycle updates were accepted.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Conversions returns how many conversions were started.
func (m *Mock) Conversions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversions
}

// generateSample computes a reading from the nominal value, the commanded duty
// and deterministic noise. Callers hold m.mu.
func (m *Mock) generateSample() RawSample {
	v := float64(m.raw) + float64(m.duty)*float64(m.cfg.DutyCoupling)

	if m.cfg.Noise > 0 {
		k := float64(m.conversions)
		v += (math.Sin(k*0.7) + math.Cos(k*1.3)) * 0.5 * float64(m.cfg.Noise)
	}

	v = math.Round(v)
	if v < 0 {
		v = 0
	} else if v > float64(MaxRawSample) {
		v = float64(MaxRawSample)
	}
	return RawSample(v)
}
