//go:build !linux

package rt

import "fmt"

func lockMemory() error {
	return fmt.Errorf("lock memory: %w", ErrUnsupported)
}

func setPriority(nice int) error {
	return fmt.Errorf("set priority %d: %w", nice, ErrUnsupported)
}
