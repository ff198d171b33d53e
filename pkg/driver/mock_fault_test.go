package driver

import (
	"testing"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMock_FailEvery verifies that every Nth conversion times out.
func TestMock_FailEvery(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 100, FailEvery: 3})
	require.NoError(t, dev.Init())

	var failures []int
	for i := 1; i <= 9; i++ {
		_, err := convert(t, dev)
		if err != nil {
			assert.ErrorIs(t, err, ErrConversionTimeout)
			failures = append(failures, i)
		}
	}

	assert.Equal(t, []int{3, 6, 9}, failures)
}

// TestMock_Stuck verifies that a stuck converter reports a timeout instead of a zero reading.
func TestMock_Stuck(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 100})
	require.NoError(t, dev.Init())

	dev.SetStuck(true)
	_, err := convert(t, dev)
	assert.ErrorIs(t, err, ErrConversionTimeout)

	dev.SetStuck(false)
	v, err := convert(t, dev)
	require.NoError(t, err)
	assert.Equal(t, RawSample(100), v)
}

// TestMock_OutputFault verifies that an injected PWM fault is reported and not recorded.
func TestMock_OutputFault(t *testing.T) {
	dev := NewMock(nil)
	require.NoError(t, dev.SetDutyCycle(0.4))

	dev.SetOutputFault(true)
	err := dev.SetDutyCycle(0.6)
	assert.ErrorIs(t, err, ErrOutputFault)
	assert.Equal(t, float32(0.4), dev.DutyCycle())
	assert.Equal(t, 1, dev.Writes())
}
