package rt

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/goapwm/pkg/config"
)

func TestSetup_Noop(t *testing.T) {
	assert.NoError(t, Setup(config.RuntimeConfig{}, nil))
	assert.NoError(t, Setup(config.Default().Runtime, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestSetup_InvalidPriority(t *testing.T) {
	err := Setup(config.RuntimeConfig{Priority: 99}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
