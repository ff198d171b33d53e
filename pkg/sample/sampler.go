package sample

import (
	"fmt"

	"github.com/itohio/goapwm/pkg/driver"
)

// BufferSize is the number of conversions averaged into one reading.
// Fixed to bound the worst-case acquisition latency.
const BufferSize = 16

// Sampler acquires averaged readings from an analog input.
// The buffer is overwritten by every acquisition.
type Sampler struct {
	in  driver.AnalogInput
	buf [BufferSize]driver.RawSample
	n   int // valid entries from the last acquisition
}

// NewSampler creates a Sampler reading from in.
func NewSampler(in driver.AnalogInput) *Sampler {
	return &Sampler{in: in}
}

// Acquire performs BufferSize start/poll/read/stop cycles and returns the
// arithmetic mean truncated to the sample type. A conversion that fails to
// complete aborts the acquisition with a driver error; it is never read as zero.
func (s *Sampler) Acquire() (driver.RawSample, error) {
	var sum uint32
	s.n = 0

	for i := range s.buf {
		if err := s.in.StartConversion(); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, driver.Wrap("start", err))
		}

		if err := s.in.PollUntilReady(); err != nil {
			// Leave the peripheral idle; the poll error is what gets reported.
			_ = s.in.Stop()
			return 0, fmt.Errorf("sample %d: %w", i, driver.Wrap("poll", err))
		}

		s.buf[i] = s.in.ReadValue()
		sum += uint32(s.buf[i])
		s.n++

		if err := s.in.Stop(); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, driver.Wrap("stop", err))
		}
	}

	return driver.RawSample(sum / BufferSize), nil
}

// Last returns the readings of the most recent acquisition, up to the point
// where it stopped.
func (s *Sampler) Last() []driver.RawSample {
	out := make([]driver.RawSample, s.n)
	copy(out, s.buf[:s.n])
	return out
}
