package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Control     ControlConfig     `yaml:"control"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Efficiency  EfficiencyConfig  `yaml:"efficiency"`
	Status      StatusConfig      `yaml:"status"`
	Mock        MockConfig        `yaml:"mock"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Log         LogConfig         `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	PollTimeout time.Duration `yaml:"poll_timeout"` // Upper bound for a single ADC conversion
}

// ControlConfig contains the control loop limits and cadences.
type ControlConfig struct {
	DutyCycleMin     float32 `yaml:"duty_cycle_min"`
	DutyCycleMax     float32 `yaml:"duty_cycle_max"`
	NeutralDutyCycle float32 `yaml:"neutral_duty_cycle"` // Fallback on measurement failure
	InitialDutyCycle float32 `yaml:"initial_duty_cycle"`
	TargetEfficiency float32 `yaml:"target_efficiency"`
	Gain             float32 `yaml:"gain"`     // Proportional gain
	Deadband         float32 `yaml:"deadband"` // Minimum duty change that is committed

	SampleRate        time.Duration `yaml:"sample_rate"`         // Measurement cadence
	AdjustInterval    time.Duration `yaml:"adjust_interval"`     // Minimum time between adjustments
	LoopInterval      time.Duration `yaml:"loop_interval"`       // Sleep between loop iterations
	FaultIdleInterval time.Duration `yaml:"fault_idle_interval"` // Sleep period while faulted

	InitRetries            int `yaml:"init_retries"`             // 0 = fault on first init failure
	MaxMeasurementFailures int `yaml:"max_measurement_failures"` // Consecutive failures before fault (0 = never)
	MaxOutputFailures      int `yaml:"max_output_failures"`      // Consecutive PWM failures before fault (0 = never)
}

// LinearConfig maps a raw reading to a physical quantity: value = raw*Gain + Offset.
// Values outside [Min, Max] are rejected.
type LinearConfig struct {
	Gain   float32 `yaml:"gain"`
	Offset float32 `yaml:"offset"`
	Min    float32 `yaml:"min"`
	Max    float32 `yaml:"max"`
}

// CalibrationConfig contains raw-to-physical mappings for each estimated parameter.
type CalibrationConfig struct {
	Inductance  LinearConfig `yaml:"inductance"`  // mH
	Capacitance LinearConfig `yaml:"capacitance"` // uF
	ESR         LinearConfig `yaml:"esr"`         // mOhm
}

// EfficiencyConfig contains loss model coefficients.
type EfficiencyConfig struct {
	SwitchingCoefficient float32 `yaml:"switching_coefficient"`
	NegligibleLoss       float32 `yaml:"negligible_loss"`
}

// StatusConfig contains the operator console server configuration.
type StatusConfig struct {
	Address             string        `yaml:"address"`
	CertFile            string        `yaml:"cert_file"`
	KeyFile             string        `yaml:"key_file"`
	CAFile              string        `yaml:"ca_file"` // Enables client certificate verification
	RequireSecureConfig bool          `yaml:"require_secure_config"`
	PushInterval        time.Duration `yaml:"push_interval"` // Websocket snapshot rate
}

// MockConfig contains simulated converter configuration.
type MockConfig struct {
	Raw          uint16        `yaml:"raw"`           // Nominal raw reading
	Noise        uint16        `yaml:"noise"`         // Peak noise in counts
	DutyCoupling float32       `yaml:"duty_coupling"` // Raw counts added per unit of duty cycle
	FailInit     bool          `yaml:"fail_init"`
	FailEvery    int           `yaml:"fail_every"` // Every Nth conversion times out (0 = never)
	Stuck        bool          `yaml:"stuck"`      // Conversion never completes
	Latency      time.Duration `yaml:"latency"`    // Simulated conversion time
}

// RuntimeConfig contains process-level settings for the controller daemon.
type RuntimeConfig struct {
	LockMemory bool   `yaml:"lock_memory"`
	Priority   int    `yaml:"priority"` // Process niceness, 0 = unchanged
	OnFault    string `yaml:"on_fault"` // "idle" or "exit"
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			PollTimeout: 20 * time.Millisecond,
		},
		Control: ControlConfig{
			DutyCycleMin:           0.05,
			DutyCycleMax:           0.95,
			NeutralDutyCycle:       0.5,
			InitialDutyCycle:       0.5,
			TargetEfficiency:       0.95,
			Gain:                   0.05,
			Deadband:               0.001,
			SampleRate:             50 * time.Millisecond,
			AdjustInterval:         100 * time.Millisecond,
			LoopInterval:           10 * time.Millisecond,
			FaultIdleInterval:      time.Second,
			InitRetries:            0,
			MaxMeasurementFailures: 0,
			MaxOutputFailures:      3,
		},
		Calibration: CalibrationConfig{
			// Placeholder factors, calibrate per board.
			Inductance:  LinearConfig{Gain: 0.1, Offset: 0.1, Min: 0.01, Max: 100.0},
			Capacitance: LinearConfig{Gain: 0.05, Offset: 1.0, Min: 0.1, Max: 1000.0},
			ESR:         LinearConfig{Gain: 0.2, Offset: 0.5, Min: 0.0, Max: 100.0},
		},
		Efficiency: EfficiencyConfig{
			SwitchingCoefficient: 0.01,
			NegligibleLoss:       0.0001,
		},
		Status: StatusConfig{
			Address:      "localhost:8080",
			PushInterval: 250 * time.Millisecond,
		},
		Mock: MockConfig{
			Raw:          100,
			Noise:        2,
			DutyCoupling: 0,
			Latency:      0,
		},
		Runtime: RuntimeConfig{
			OnFault: "idle",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration against the absolute safety bounds.
func (c *Config) Validate() error {
	if err := c.Control.validate(); err != nil {
		return err
	}
	if c.Runtime.OnFault != "idle" && c.Runtime.OnFault != "exit" {
		return fmt.Errorf("%w: runtime.on_fault must be idle or exit, got %q", ErrRejected, c.Runtime.OnFault)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.PollTimeout == 0 {
		c.Serial.PollTimeout = def.Serial.PollTimeout
	}

	if c.Control.DutyCycleMin == 0 {
		c.Control.DutyCycleMin = def.Control.DutyCycleMin
	}
	if c.Control.DutyCycleMax == 0 {
		c.Control.DutyCycleMax = def.Control.DutyCycleMax
	}
	if c.Control.NeutralDutyCycle == 0 {
		c.Control.NeutralDutyCycle = def.Control.NeutralDutyCycle
	}
	if c.Control.InitialDutyCycle == 0 {
		c.Control.InitialDutyCycle = def.Control.InitialDutyCycle
	}
	if c.Control.TargetEfficiency == 0 {
		c.Control.TargetEfficiency = def.Control.TargetEfficiency
	}
	if c.Control.Gain == 0 {
		c.Control.Gain = def.Control.Gain
	}
	if c.Control.Deadband == 0 {
		c.Control.Deadband = def.Control.Deadband
	}
	if c.Control.SampleRate == 0 {
		c.Control.SampleRate = def.Control.SampleRate
	}
	if c.Control.AdjustInterval == 0 {
		c.Control.AdjustInterval = def.Control.AdjustInterval
	}
	if c.Control.LoopInterval == 0 {
		c.Control.LoopInterval = def.Control.LoopInterval
	}
	if c.Control.FaultIdleInterval == 0 {
		c.Control.FaultIdleInterval = def.Control.FaultIdleInterval
	}

	// A zeroed mapping means the section was omitted.
	if c.Calibration.Inductance == (LinearConfig{}) {
		c.Calibration.Inductance = def.Calibration.Inductance
	}
	if c.Calibration.Capacitance == (LinearConfig{}) {
		c.Calibration.Capacitance = def.Calibration.Capacitance
	}
	if c.Calibration.ESR == (LinearConfig{}) {
		c.Calibration.ESR = def.Calibration.ESR
	}

	if c.Efficiency.SwitchingCoefficient == 0 {
		c.Efficiency.SwitchingCoefficient = def.Efficiency.SwitchingCoefficient
	}
	if c.Efficiency.NegligibleLoss == 0 {
		c.Efficiency.NegligibleLoss = def.Efficiency.NegligibleLoss
	}

	if c.Status.Address == "" {
		c.Status.Address = def.Status.Address
	}
	if c.Status.PushInterval == 0 {
		c.Status.PushInterval = def.Status.PushInterval
	}

	if c.Runtime.OnFault == "" {
		c.Runtime.OnFault = def.Runtime.OnFault
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}
