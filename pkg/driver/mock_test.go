package driver

import (
	"testing"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convert(t *testing.T, m *Mock) (RawSample, error) {
	t.Helper()
	require.NoError(t, m.StartConversion())
	err := m.PollUntilReady()
	v := m.ReadValue()
	require.NoError(t, m.Stop())
	return v, err
}

func TestNewMock(t *testing.T) {
	cfg := &config.MockConfig{Raw: 321}
	dev := NewMock(cfg)

	assert.NotNil(t, dev)
	assert.Equal(t, cfg, dev.cfg)
	assert.Equal(t, RawSample(321), dev.raw)
}

func TestNewMock_NilConfig(t *testing.T) {
	dev := NewMock(nil)

	require.NotNil(t, dev.cfg)
	assert.Equal(t, RawSample(config.Default().Mock.Raw), dev.raw)
}

func TestMock_Conversion(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 100})
	require.NoError(t, dev.Init())

	v, err := convert(t, dev)
	require.NoError(t, err)
	assert.Equal(t, RawSample(100), v)
	assert.Equal(t, 1, dev.Conversions())
}

func TestMock_StartBeforeInit(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 100})

	assert.ErrorIs(t, dev.StartConversion(), ErrNotInitialized)
}

func TestMock_FailInit(t *testing.T) {
	dev := NewMock(&config.MockConfig{FailInit: true})

	err := dev.Init()
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "init", de.Op)
}

func TestMock_Noise(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 1000, Noise: 10})
	require.NoError(t, dev.Init())

	distinct := map[RawSample]bool{}
	for range 50 {
		v, err := convert(t, dev)
		require.NoError(t, err)
		assert.InDelta(t, 1000, int(v), 10)
		distinct[v] = true
	}
	assert.Greater(t, len(distinct), 1, "noise should vary the readings")
}

func TestMock_Clamping(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MockConfig
		duty float32
		want RawSample
	}{
		{name: "full scale", cfg: config.MockConfig{Raw: 4095, DutyCoupling: 1000}, duty: 1, want: 4095},
		{name: "negative coupling", cfg: config.MockConfig{Raw: 10, DutyCoupling: -100}, duty: 1, want: 0},
		{name: "coupled", cfg: config.MockConfig{Raw: 100, DutyCoupling: 200}, duty: 0.5, want: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			dev := NewMock(&cfg)
			require.NoError(t, dev.Init())
			require.NoError(t, dev.SetDutyCycle(tt.duty))

			v, err := convert(t, dev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestMock_SetRaw(t *testing.T) {
	dev := NewMock(&config.MockConfig{Raw: 100})
	require.NoError(t, dev.Init())

	dev.SetRaw(2048)
	v, err := convert(t, dev)
	require.NoError(t, err)
	assert.Equal(t, RawSample(2048), v)
}

func TestMock_DutyCycle(t *testing.T) {
	dev := NewMock(nil)

	require.NoError(t, dev.SetDutyCycle(0.25))
	require.NoError(t, dev.SetDutyCycle(0.75))
	assert.Equal(t, float32(0.75), dev.DutyCycle())
	assert.Equal(t, 2, dev.Writes())
	assert.NoError(t, dev.Close())
}
