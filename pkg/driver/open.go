package driver

import (
	"fmt"

	"github.com/itohio/goapwm/pkg/config"
)

// Open returns the configured device: the simulator when useMock is set,
// otherwise a connected Serial driver on cfg.Serial.Port.
func Open(cfg *config.Config, useMock bool) (Device, error) {
	if useMock {
		return NewMock(&cfg.Mock), nil
	}

	d := New(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.PollTimeout)
	if err := d.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
	}
	return d, nil
}
