package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goapwm/pkg/control"
)

// readout is the side panel with the latest loop values.
type readout struct {
	container fyne.CanvasObject

	phase       *widget.Label
	duty        *widget.ProgressBar
	efficiency  *widget.ProgressBar
	inductance  *widget.Label
	capacitance *widget.Label
	esr         *widget.Label
	raw         *widget.Label
	counters    *widget.Label
	fault       *widget.Label
}

func newReadout() *readout {
	r := &readout{
		phase:       widget.NewLabel(control.PhaseUninitialized.String()),
		duty:        widget.NewProgressBar(),
		efficiency:  widget.NewProgressBar(),
		inductance:  widget.NewLabel("-"),
		capacitance: widget.NewLabel("-"),
		esr:         widget.NewLabel("-"),
		raw:         widget.NewLabel("-"),
		counters:    widget.NewLabel(""),
		fault:       widget.NewLabel(""),
	}
	r.phase.TextStyle = fyne.TextStyle{Bold: true}
	r.fault.Wrapping = fyne.TextWrapWord
	r.fault.Importance = widget.DangerImportance

	form := widget.NewForm(
		widget.NewFormItem("Phase", r.phase),
		widget.NewFormItem("Duty", r.duty),
		widget.NewFormItem("Efficiency", r.efficiency),
		widget.NewFormItem("L (mH)", r.inductance),
		widget.NewFormItem("C (uF)", r.capacitance),
		widget.NewFormItem("ESR (mOhm)", r.esr),
		widget.NewFormItem("Raw", r.raw),
	)
	r.container = container.NewVBox(form, widget.NewSeparator(), r.counters, r.fault)
	return r
}

// update shows snap. Runs on the UI goroutine.
func (r *readout) update(snap control.Snapshot) {
	r.phase.SetText(snap.Phase.String())
	r.duty.SetValue(float64(snap.DutyCycle))
	r.efficiency.SetValue(float64(snap.Efficiency))

	if snap.Phase == control.PhaseFaulted {
		r.inductance.SetText("-")
		r.capacitance.SetText("-")
		r.esr.SetText("-")
		r.raw.SetText("-")
	} else {
		r.inductance.SetText(fmt.Sprintf("%.3f", snap.Params.InductanceMH))
		r.capacitance.SetText(fmt.Sprintf("%.2f", snap.Params.CapacitanceUF))
		r.esr.SetText(fmt.Sprintf("%.2f", snap.Params.ESRMOhm))
		r.raw.SetText(fmt.Sprintf("%d", snap.Raw))
	}

	c := snap.Counters
	r.counters.SetText(fmt.Sprintf("cycles %d\nmeasurements %d (failed %d)\nadjustments %d\noutput failures %d",
		c.Cycles, c.Measurements, c.MeasurementFailures, c.Adjustments, c.OutputFailures))
	r.fault.SetText(snap.Fault)
}
