package driver

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort answers host commands with scripted replies.
type fakePort struct {
	mu      sync.Mutex
	in      bytes.Buffer // device -> host
	out     bytes.Buffer // host -> device
	replies map[string]string
	closed  bool
}

func newFakePort(replies map[string]string) *fakePort {
	return &fakePort{replies: replies}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		// Mirrors a serial read timeout: no data, no error.
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Write(b)
	for _, cmd := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if reply, ok := p.replies[cmd]; ok {
			p.in.WriteString(reply)
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func newTestSerial(p *fakePort, pollTimeout time.Duration) *Serial {
	d := New("test", 0, pollTimeout)
	d.initTimeout = 20 * time.Millisecond
	d.attach(p, nil)
	return d
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RawSample
		wantOK  bool
		wantErr bool
	}{
		{name: "valid mid-scale", line: "V,2048", want: 2048, wantOK: true},
		{name: "valid zero", line: "V,0", want: 0, wantOK: true},
		{name: "valid full scale", line: "V,4095", want: 4095, wantOK: true},
		{name: "other tag", line: "OK", wantOK: false},
		{name: "other tag with payload", line: "T,12", wantOK: false},
		{name: "out of range", line: "V,4096", wantErr: true},
		{name: "not a number", line: "V,abc", wantErr: true},
		{name: "negative", line: "V,-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseValue(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerial_Conversion(t *testing.T) {
	p := newFakePort(map[string]string{
		"I": "OK\n",
		"S": "V,2048\n",
	})
	d := newTestSerial(p, 20*time.Millisecond)

	require.NoError(t, d.Init())
	require.NoError(t, d.StartConversion())
	require.NoError(t, d.PollUntilReady())
	assert.Equal(t, RawSample(2048), d.ReadValue())
	require.NoError(t, d.Stop())

	assert.Equal(t, "I\nS\nX\n", p.sent())
}

func TestSerial_SkipsUnrelatedLines(t *testing.T) {
	p := newFakePort(map[string]string{
		"I": "booting\nOK\n",
		"S": "\r\nnoise\nV,17\n",
	})
	d := newTestSerial(p, 20*time.Millisecond)

	require.NoError(t, d.Init())
	require.NoError(t, d.StartConversion())
	require.NoError(t, d.PollUntilReady())
	assert.Equal(t, RawSample(17), d.ReadValue())
}

func TestSerial_InitRejected(t *testing.T) {
	p := newFakePort(map[string]string{"I": "ERR,adc busy\n"})
	d := newTestSerial(p, 20*time.Millisecond)

	err := d.Init()
	require.Error(t, err)

	var de *DriverError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "init", de.Op)
	assert.Contains(t, err.Error(), "adc busy")
}

func TestSerial_InitTimeout(t *testing.T) {
	d := newTestSerial(newFakePort(nil), 20*time.Millisecond)

	err := d.Init()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSerial_PollTimeout(t *testing.T) {
	p := newFakePort(map[string]string{"I": "OK\n"})
	d := newTestSerial(p, 5*time.Millisecond)

	require.NoError(t, d.Init())
	require.NoError(t, d.StartConversion())

	start := time.Now()
	err := d.PollUntilReady()
	assert.ErrorIs(t, err, ErrConversionTimeout)
	assert.Less(t, time.Since(start), time.Second, "poll must be bounded")

	var de *DriverError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "poll", de.Op)
}

func TestSerial_PollDeviceError(t *testing.T) {
	p := newFakePort(map[string]string{"I": "OK\n", "S": "ERR,overrun\n"})
	d := newTestSerial(p, 20*time.Millisecond)

	require.NoError(t, d.Init())
	require.NoError(t, d.StartConversion())
	err := d.PollUntilReady()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overrun")
}

func TestSerial_StartBeforeInit(t *testing.T) {
	d := newTestSerial(newFakePort(nil), 5*time.Millisecond)

	err := d.StartConversion()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSerial_NotConnected(t *testing.T) {
	d := New("test", 0, 0)

	assert.False(t, d.IsConnected())
	assert.ErrorIs(t, d.Init(), ErrNotConnected)
	assert.ErrorIs(t, d.SetDutyCycle(0.5), ErrNotConnected)
	assert.NoError(t, d.Close())
}

func TestSerial_SetDutyCycle(t *testing.T) {
	tests := []struct {
		name    string
		value   float32
		want    string
		wantErr bool
	}{
		{name: "half", value: 0.5, want: "D,500\n"},
		{name: "minimum", value: 0.05, want: "D,50\n"},
		{name: "rounding", value: 0.1234, want: "D,123\n"},
		{name: "zero", value: 0, want: "D,0\n"},
		{name: "full", value: 1, want: "D,1000\n"},
		{name: "negative", value: -0.1, wantErr: true},
		{name: "above one", value: 1.5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePort(nil)
			d := newTestSerial(p, 5*time.Millisecond)

			err := d.SetDutyCycle(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, p.sent())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.sent())
		})
	}
}

func TestSerial_Close(t *testing.T) {
	p := newFakePort(nil)
	d := newTestSerial(p, 5*time.Millisecond)

	assert.True(t, d.IsConnected())
	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	assert.True(t, p.closed)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("poll", nil))

	err := Wrap("poll", ErrConversionTimeout)
	var de *DriverError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "poll", de.Op)
	assert.Equal(t, "driver: poll: conversion did not complete", err.Error())

	// Already wrapped errors keep their original operation.
	assert.Equal(t, err, Wrap("start", err))
}
