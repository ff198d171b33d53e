package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"

	"github.com/itohio/goapwm/pkg/control"
	"github.com/itohio/goapwm/pkg/driver"
	"github.com/itohio/goapwm/pkg/status"
)

// updateInterval throttles UI refreshes to ~60 FPS.
const updateInterval = 16 * time.Millisecond

// session is one connected run of the control loop.
type session struct {
	device driver.Device
	mock   *driver.Mock // nil unless simulated
	loop   *control.Loop
	cancel context.CancelFunc
	done   chan struct{} // closed when the loop goroutine exits
}

// handleConnect toggles between connected and disconnected.
func handleConnect(state *appState) {
	if state.session != nil {
		state.disconnect()
		return
	}

	if err := state.connect(); err != nil {
		dialog.ShowError(err, state.window)
	}
}

// handleFault asks the running loop to enter the faulted state.
func handleFault(state *appState) {
	if state.session == nil {
		return
	}
	dialog.ShowConfirm("Emergency fault",
		"Force the controller into the faulted state? The output is parked at minimum duty until reconnect.",
		func(ok bool) {
			if ok && state.session != nil {
				state.session.loop.RequestFault(errors.New("operator: emergency stop from desktop"))
			}
		}, state.window)
}

func (state *appState) connect() error {
	// The session owns a copy so the settings dialog can edit state.cfg freely.
	cfg := *state.cfg
	dev, err := driver.Open(&cfg, state.useMock)
	if err != nil {
		return err
	}

	loop := control.New(&cfg, dev, dev, control.WithLogger(state.log))
	loop.OnUpdate(func(snap control.Snapshot) {
		state.history.Add(snap)
		if !state.shouldRefresh(snap) {
			return
		}
		fyne.Do(func() {
			state.refresh(snap)
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		device: dev,
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if m, ok := dev.(*driver.Mock); ok {
		s.mock = m
	}

	go func() {
		defer close(s.done)
		err := loop.Run(ctx)
		if errors.Is(err, control.ErrFaulted) {
			state.log.Error("controller faulted", "error", err)
			fyne.Do(func() {
				state.refresh(loop.Snapshot())
				state.faultBtn.Disable()
				dialog.ShowError(fmt.Errorf("controller faulted: %w", err), state.window)
			})
		}
	}()

	if state.serve {
		srv := status.New(cfg.Status, loop, status.WithLogger(state.log))
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				state.log.Error("status server stopped", "error", err)
			}
		}()
	}

	state.session = s
	state.connectBtn.SetText("Disconnect")
	state.connectBtn.SetIcon(theme.LogoutIcon())
	state.faultBtn.Enable()

	if state.useMock {
		state.log.Info("connected to simulated converter")
	} else {
		state.log.Info("connected to serial port", "port", state.cfg.Serial.Port)
	}
	return nil
}

// disconnect stops the loop, parks the output at minimum duty and closes the device.
func (state *appState) disconnect() {
	s := state.session
	if s == nil {
		return
	}
	state.session = nil

	s.cancel()
	<-s.done

	if err := s.device.SetDutyCycle(s.loop.Config().DutyCycleMin); err != nil {
		state.log.Warn("failed to park output", "error", err)
	}
	if err := s.device.Close(); err != nil {
		state.log.Warn("failed to close device", "error", err)
	}

	state.connectBtn.SetText("Connect")
	state.connectBtn.SetIcon(theme.LoginIcon())
	state.faultBtn.Disable()
	state.log.Info("disconnected")
}

// shouldRefresh throttles UI updates but never drops a phase change.
func (state *appState) shouldRefresh(snap control.Snapshot) bool {
	state.updateMu.Lock()
	defer state.updateMu.Unlock()

	phase := snap.Phase.String()
	if phase == state.lastPhase && snap.At.Sub(state.lastUpdateTime) < updateInterval {
		return false
	}
	state.lastPhase = phase
	state.lastUpdateTime = snap.At
	return true
}

// refresh redraws the readout and the trend. Runs on the UI goroutine.
func (state *appState) refresh(snap control.Snapshot) {
	state.panel.update(snap)
	state.trend.UpdateData(state.history.Points(),
		snap.Config.DutyCycleMin, snap.Config.DutyCycleMax, snap.Config.TargetEfficiency)
}
