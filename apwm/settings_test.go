package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goapwm/pkg/config"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		name                      string
		min, max, target, rate    string
		wantErr                   bool
		wantMin, wantMax, wantTgt *float32
		wantRate                  *uint32
	}{
		{name: "all empty"},
		{name: "bounds only", min: "0.1", max: "0.8", wantMin: ptr[float32](0.1), wantMax: ptr[float32](0.8)},
		{name: "target and rate", target: "0.9", rate: "200", wantTgt: ptr[float32](0.9), wantRate: ptr[uint32](200)},
		{name: "bad float", min: "abc", wantErr: true},
		{name: "negative rate", rate: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := parseUpdate(tt.min, tt.max, tt.target, tt.rate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, u.DutyCycleMin)
			assert.Equal(t, tt.wantMax, u.DutyCycleMax)
			assert.Equal(t, tt.wantTgt, u.TargetEfficiency)
			assert.Equal(t, tt.wantRate, u.SampleRateMs)
		})
	}
}

func TestParseUpdateAppliesToConfig(t *testing.T) {
	u, err := parseUpdate("0.2", "0.7", "", "100")
	require.NoError(t, err)

	next, err := config.Default().Control.Apply(u)
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), next.DutyCycleMin)
	assert.Equal(t, float32(0.7), next.DutyCycleMax)
	assert.Equal(t, 100*time.Millisecond, next.SampleRate)

	u, err = parseUpdate("0.9", "0.1", "", "")
	require.NoError(t, err)
	_, err = config.Default().Control.Apply(u)
	assert.ErrorIs(t, err, config.ErrRejected)
}

func ptr[T any](v T) *T {
	return &v
}
