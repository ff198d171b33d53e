package driver

// RawSample is a reading in the converter's native range (0-4095 for a 12-bit ADC).
type RawSample uint16

// MaxRawSample is the full-scale reading of the 12-bit converter.
const MaxRawSample RawSample = 4095

// AnalogInput is a single-channel ADC driver. A conversion is started, polled
// until complete (bounded by the driver), read and stopped.
type AnalogInput interface {
	Init() error
	StartConversion() error
	PollUntilReady() error
	ReadValue() RawSample
	Stop() error
}

// PWMOutput drives the converter's PWM stage.
type PWMOutput interface {
	// SetDutyCycle commands a duty cycle in [0, 1].
	SetDutyCycle(value float32) error
}

// Device is a peripheral providing both analog input and PWM output (real or mocked).
type Device interface {
	AnalogInput
	PWMOutput
	Close() error
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
