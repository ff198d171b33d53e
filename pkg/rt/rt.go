// Package rt prepares the process for the control loop.
package rt

import (
	"errors"
	"log/slog"

	"github.com/itohio/goapwm/pkg/config"
)

// ErrUnsupported is returned when a requested setting is not available on this platform.
var ErrUnsupported = errors.New("not supported on this platform")

// Setup applies the runtime settings. Every setting is attempted; failures
// are joined and the caller decides whether to log or exit.
func Setup(cfg config.RuntimeConfig, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	var errs []error
	if cfg.LockMemory {
		if err := lockMemory(); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("process memory locked")
		}
	}
	if cfg.Priority != 0 {
		if err := setPriority(cfg.Priority); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("process priority set", "nice", cfg.Priority)
		}
	}
	return errors.Join(errs...)
}
