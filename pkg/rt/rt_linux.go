//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("failed to lock memory: %w", err)
	}
	return nil
}

func setPriority(nice int) error {
	if nice < -20 || nice > 19 {
		return fmt.Errorf("priority %d out of [-20, 19]", nice)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		return fmt.Errorf("failed to set priority %d: %w", nice, err)
	}
	return nil
}
