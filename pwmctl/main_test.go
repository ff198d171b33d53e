package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
	"github.com/itohio/goapwm/pkg/driver"
	"github.com/itohio/goapwm/pkg/status"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// newConsoleServer serves a running simulated loop over plain HTTP.
func newConsoleServer(t *testing.T) (*httptest.Server, *control.Loop) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Mock.Noise = 0
	mock := driver.NewMock(&cfg.Mock)
	loop := control.New(cfg, mock, mock, control.WithLogger(log))
	require.NoError(t, loop.Init())
	require.NoError(t, loop.Step(time.Now()))

	srv := status.New(cfg.Status, loop, status.WithLogger(log))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, loop
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestConfigShowDefaults(t *testing.T) {
	out, err := execute(t, context.Background(), "config", "show", "--config", missingConfig(t))
	require.NoError(t, err)

	assert.Contains(t, out, "duty_cycle_min: 0.05")
	assert.Contains(t, out, "target_efficiency: 0.95")
	assert.Contains(t, out, "on_fault: idle")
}

func TestConfigSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")

	out, err := execute(t, context.Background(), "config", "save", path, "--config", missingConfig(t), "--addr", "0.0.0.0:9000")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Status.Address)
	assert.Equal(t, config.Default().Control, cfg.Control)
}

func TestConsoleStatus(t *testing.T) {
	ts, _ := newConsoleServer(t)

	out, err := execute(t, context.Background(), "status", "--addr", ts.URL, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "10.100 mH")
	assert.Contains(t, out, "[0.050, 0.950]")

	out, err = execute(t, context.Background(), "status", "--json", "--addr", ts.URL, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, `"phase": "running"`)
	assert.Contains(t, out, `"system_ready": true`)
}

func TestConsoleDiagnostics(t *testing.T) {
	ts, _ := newConsoleServer(t)

	out, err := execute(t, context.Background(), "diagnostics", "--addr", ts.URL, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Cycles:")
	assert.Contains(t, out, "Measurements:")
	assert.Contains(t, out, "Last raw:")
}

func TestConsoleConfigure(t *testing.T) {
	ts, loop := newConsoleServer(t)

	out, err := execute(t, context.Background(), "configure", "--max", "0.8", "--sample-rate", "200",
		"--addr", ts.URL, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "[0.050, 0.800]")
	assert.Contains(t, out, "200ms")
	assert.Equal(t, float32(0.8), loop.Config().DutyCycleMax)
	assert.Equal(t, 200*time.Millisecond, loop.Config().SampleRate)

	_, err = execute(t, context.Background(), "configure", "--min", "0.9", "--max", "0.1",
		"--addr", ts.URL, "--config", missingConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrRejected)
	assert.Equal(t, float32(0.8), loop.Config().DutyCycleMax)
}

func TestConsoleConfigureNothing(t *testing.T) {
	_, err := execute(t, context.Background(), "configure", "--config", missingConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to configure")
}

func TestConsoleFaultForbiddenWithoutCertificate(t *testing.T) {
	ts, loop := newConsoleServer(t)

	_, err := execute(t, context.Background(), "fault", "test", "--addr", ts.URL, "--config", missingConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrForbidden)

	require.NoError(t, loop.Step(time.Now().Add(time.Second)))
	assert.Equal(t, control.PhaseRunning, loop.Snapshot().Phase)
}

func TestConsoleMonitor(t *testing.T) {
	ts, _ := newConsoleServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := execute(t, ctx, "monitor", "-n", "1", "--addr", ts.URL, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "PHASE")
	assert.Contains(t, out, "running")
}

func TestCertInfo(t *testing.T) {
	path := writeSelfSigned(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	out, err := execute(t, context.Background(), "certinfo", path, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "CN=pwmctl test")
	assert.Contains(t, out, "Serial:")
	assert.Contains(t, out, "valid")

	expired := writeSelfSigned(t, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	out, err = execute(t, context.Background(), "certinfo", "--cert", expired, "--config", missingConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "EXPIRED")

	_, err = execute(t, context.Background(), "certinfo", "--config", missingConfig(t))
	assert.Error(t, err)
}

func writeSelfSigned(t *testing.T, notBefore, notAfter time.Time) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "pwmctl test"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}
