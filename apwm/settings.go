package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
	"github.com/itohio/goapwm/pkg/driver"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createControlTab(state),
		createSerialTab(state),
		createCalibrationTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func (state *appState) save() {
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

// createControlTab edits the control parameters. While connected the update
// goes through the loop, which validates it against the safety bounds.
func createControlTab(state *appState) *container.TabItem {
	current := state.cfg.Control
	if state.session != nil {
		current = state.session.loop.Config()
	}

	minEntry := widget.NewEntry()
	minEntry.SetText(fmt.Sprintf("%.3f", current.DutyCycleMin))

	maxEntry := widget.NewEntry()
	maxEntry.SetText(fmt.Sprintf("%.3f", current.DutyCycleMax))

	targetEntry := widget.NewEntry()
	targetEntry.SetText(fmt.Sprintf("%.3f", current.TargetEfficiency))

	rateEntry := widget.NewEntry()
	rateEntry.SetText(strconv.FormatInt(current.SampleRate.Milliseconds(), 10))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Duty Cycle Min", Widget: minEntry},
			{Text: "Duty Cycle Max", Widget: maxEntry},
			{Text: "Target Efficiency", Widget: targetEntry},
			{Text: "Sample Rate (ms)", Widget: rateEntry},
		},
		OnSubmit: func() {
			u, err := parseUpdate(minEntry.Text, maxEntry.Text, targetEntry.Text, rateEntry.Text)
			if err != nil {
				dialog.ShowError(err, state.window)
				return
			}

			// A running loop takes the update for this session only; the file is untouched.
			if state.session != nil {
				_, err := state.session.loop.Configure(u)
				switch {
				case errors.Is(err, control.ErrFaulted):
					dialog.ShowError(errors.New("controller is faulted, reconnect to change parameters"), state.window)
				case err != nil:
					dialog.ShowError(err, state.window)
				}
				return
			}

			next, err := state.cfg.Control.Apply(u)
			if err != nil {
				dialog.ShowError(err, state.window)
				return
			}
			state.cfg.Control = next
			state.save()
		},
	}

	return container.NewTabItem("Control", form)
}

// parseUpdate builds an update from the form fields. Empty fields are left unchanged.
func parseUpdate(minText, maxText, targetText, rateText string) (config.Update, error) {
	var u config.Update

	parse := func(name, text string, dst **float32) error {
		if text == "" {
			return nil
		}
		v, err := parseFloat32(text)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, text, err)
		}
		*dst = &v
		return nil
	}

	if err := parse("duty cycle min", minText, &u.DutyCycleMin); err != nil {
		return u, err
	}
	if err := parse("duty cycle max", maxText, &u.DutyCycleMax); err != nil {
		return u, err
	}
	if err := parse("target efficiency", targetText, &u.TargetEfficiency); err != nil {
		return u, err
	}
	if rateText != "" {
		ms, err := strconv.ParseUint(rateText, 10, 32)
		if err != nil {
			return u, fmt.Errorf("invalid sample rate %q: %w", rateText, err)
		}
		v := uint32(ms)
		u.SampleRateMs = &v
	}
	return u, nil
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := driver.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Map display name to actual port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	pollEntry := widget.NewEntry()
	pollEntry.SetText(state.cfg.Serial.PollTimeout.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
			{Text: "Conversion Timeout", Widget: pollEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected != "" {
				selectedPort := portMap[portSelect.Selected]
				if selectedPort == "" {
					selectedPort = portSelect.Selected
				}
				state.cfg.Serial.Port = selectedPort
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 {
				state.cfg.Serial.BaudRate = baud
			}
			if d, err := time.ParseDuration(pollEntry.Text); err == nil && d > 0 {
				state.cfg.Serial.PollTimeout = d
			}
			state.save()

			// Reconnect so the new port settings take effect
			if state.session != nil && !state.useMock {
				state.disconnect()
				if err := state.connect(); err != nil {
					dialog.ShowError(err, state.window)
				}
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// linearItems returns the form rows editing one calibration mapping.
func linearItems(name string, c *config.LinearConfig) ([]*widget.FormItem, func()) {
	gain := widget.NewEntry()
	gain.SetText(fmt.Sprintf("%g", c.Gain))
	offset := widget.NewEntry()
	offset.SetText(fmt.Sprintf("%g", c.Offset))
	lo := widget.NewEntry()
	lo.SetText(fmt.Sprintf("%g", c.Min))
	hi := widget.NewEntry()
	hi.SetText(fmt.Sprintf("%g", c.Max))

	items := []*widget.FormItem{
		{Text: name + " Gain", Widget: gain},
		{Text: name + " Offset", Widget: offset},
		{Text: name + " Min", Widget: lo},
		{Text: name + " Max", Widget: hi},
	}
	apply := func() {
		if v, err := parseFloat32(gain.Text); err == nil {
			c.Gain = v
		}
		if v, err := parseFloat32(offset.Text); err == nil {
			c.Offset = v
		}
		if v, err := parseFloat32(lo.Text); err == nil {
			c.Min = v
		}
		if v, err := parseFloat32(hi.Text); err == nil {
			c.Max = v
		}
	}
	return items, apply
}

// createCalibrationTab edits the raw-to-parameter mappings. Changes apply on the next connect.
func createCalibrationTab(state *appState) *container.TabItem {
	var items []*widget.FormItem
	var appliers []func()
	for _, m := range []struct {
		name string
		cfg  *config.LinearConfig
	}{
		{"L (mH)", &state.cfg.Calibration.Inductance},
		{"C (uF)", &state.cfg.Calibration.Capacitance},
		{"ESR (mOhm)", &state.cfg.Calibration.ESR},
	} {
		it, apply := linearItems(m.name, m.cfg)
		items = append(items, it...)
		appliers = append(appliers, apply)
	}

	form := &widget.Form{
		Items: items,
		OnSubmit: func() {
			for _, apply := range appliers {
				apply()
			}
			state.save()
		},
	}

	return container.NewTabItem("Calibration", container.NewVScroll(form))
}

// createMockTab creates the simulated converter tab. Raw reading and stuck
// conversions also apply to a running simulation.
func createMockTab(state *appState) *container.TabItem {
	rawEntry := widget.NewEntry()
	rawEntry.SetText(strconv.Itoa(int(state.cfg.Mock.Raw)))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(strconv.Itoa(int(state.cfg.Mock.Noise)))

	couplingEntry := widget.NewEntry()
	couplingEntry.SetText(fmt.Sprintf("%g", state.cfg.Mock.DutyCoupling))

	failEveryEntry := widget.NewEntry()
	failEveryEntry.SetText(strconv.Itoa(state.cfg.Mock.FailEvery))

	stuckCheck := widget.NewCheck("", nil)
	stuckCheck.SetChecked(state.cfg.Mock.Stuck)

	failInitCheck := widget.NewCheck("", nil)
	failInitCheck.SetChecked(state.cfg.Mock.FailInit)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Raw Reading (0-4095)", Widget: rawEntry},
			{Text: "Noise (counts)", Widget: noiseEntry},
			{Text: "Duty Coupling", Widget: couplingEntry},
			{Text: "Fail Every N", Widget: failEveryEntry},
			{Text: "Stuck Conversions", Widget: stuckCheck},
			{Text: "Fail Init", Widget: failInitCheck},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseUint(rawEntry.Text, 10, 16); err == nil && v <= uint64(driver.MaxRawSample) {
				state.cfg.Mock.Raw = uint16(v)
			}
			if v, err := strconv.ParseUint(noiseEntry.Text, 10, 16); err == nil {
				state.cfg.Mock.Noise = uint16(v)
			}
			if v, err := parseFloat32(couplingEntry.Text); err == nil {
				state.cfg.Mock.DutyCoupling = v
			}
			if v, err := strconv.Atoi(failEveryEntry.Text); err == nil && v >= 0 {
				state.cfg.Mock.FailEvery = v
			}
			state.cfg.Mock.Stuck = stuckCheck.Checked
			state.cfg.Mock.FailInit = failInitCheck.Checked
			state.save()

			if s := state.session; s != nil && s.mock != nil {
				s.mock.SetRaw(driver.RawSample(state.cfg.Mock.Raw))
				s.mock.SetStuck(state.cfg.Mock.Stuck)
			}
		},
	}

	return container.NewTabItem("Mock", form)
}
