package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/itohio/goapwm/pkg/status"
)

func printReport(w io.Writer, r status.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Phase:\t%s\n", r.Phase)
	fmt.Fprintf(tw, "System ready:\t%t\n", r.SystemReady)
	fmt.Fprintf(tw, "Secure mode:\t%t\n", r.SecureModeActive)
	fmt.Fprintf(tw, "Uptime:\t%s\n", time.Duration(r.UptimeSeconds)*time.Second)
	fmt.Fprintf(tw, "Duty cycle:\t%.4f\n", r.DutyCycle)
	fmt.Fprintf(tw, "Efficiency:\t%.4f\n", r.Efficiency)
	fmt.Fprintf(tw, "Inductance:\t%.3f mH\n", r.InductanceMH)
	fmt.Fprintf(tw, "Capacitance:\t%.2f uF\n", r.CapacitanceUF)
	fmt.Fprintf(tw, "ESR:\t%.2f mOhm\n", r.ESRMOhm)
	fmt.Fprintf(tw, "Raw:\t%d\n", r.Raw)
	if r.Fault != "" {
		fmt.Fprintf(tw, "Fault:\t%s\n", r.Fault)
	}
	tw.Flush()
	printControl(w, r.Config)
}

func printControl(w io.Writer, c status.ControlReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Duty cycle bounds:\t[%.3f, %.3f]\n", c.DutyCycleMin, c.DutyCycleMax)
	fmt.Fprintf(tw, "Target efficiency:\t%.3f\n", c.TargetEfficiency)
	fmt.Fprintf(tw, "Sample rate:\t%dms\n", c.SampleRateMs)
	tw.Flush()
}

func printDiagnostics(w io.Writer, d status.Diagnostics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Phase:\t%s\n", d.Phase)
	fmt.Fprintf(tw, "Uptime:\t%s\n", time.Duration(d.UptimeSeconds)*time.Second)
	fmt.Fprintf(tw, "Last raw:\t%d\n", d.Raw)
	fmt.Fprintf(tw, "Cycles:\t%d\n", d.Counters.Cycles)
	fmt.Fprintf(tw, "Measurements:\t%d\n", d.Counters.Measurements)
	fmt.Fprintf(tw, "Measurement failures:\t%d (consecutive %d)\n",
		d.Counters.MeasurementFailures, d.Counters.ConsecutiveMeasurementFailures)
	fmt.Fprintf(tw, "Adjustments:\t%d\n", d.Counters.Adjustments)
	fmt.Fprintf(tw, "Output failures:\t%d (consecutive %d)\n",
		d.Counters.OutputFailures, d.Counters.ConsecutiveOutputFailures)
	if d.Fault != "" {
		fmt.Fprintf(tw, "Fault:\t%s\n", d.Fault)
	}
	tw.Flush()
}

func printMonitorHeader(tw *tabwriter.Writer) {
	fmt.Fprintln(tw, "TIME\tPHASE\tDUTY\tEFF\tL (mH)\tC (uF)\tESR (mOhm)")
	fmt.Fprintln(tw, "----\t-----\t----\t---\t------\t------\t----------")
	tw.Flush()
}

func printMonitorRow(tw *tabwriter.Writer, r status.Report) {
	fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.3f\t%.2f\t%.2f\n",
		r.Timestamp.Format("15:04:05.000"), r.Phase,
		r.DutyCycle, r.Efficiency, r.InductanceMH, r.CapacitanceUF, r.ESRMOhm)
	tw.Flush()
}

func printCertInfo(w io.Writer, infos []status.CertInfo, now time.Time) {
	for i, c := range infos {
		if i > 0 {
			fmt.Fprintln(w)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Subject:\t%s\n", c.Subject)
		fmt.Fprintf(tw, "Issuer:\t%s\n", c.Issuer)
		fmt.Fprintf(tw, "Serial:\t%s\n", c.Serial)
		fmt.Fprintf(tw, "Not before:\t%s\n", c.NotBefore.Format(time.RFC3339))
		fmt.Fprintf(tw, "Not after:\t%s\n", c.NotAfter.Format(time.RFC3339))
		fmt.Fprintf(tw, "CA:\t%t\n", c.IsCA)
		if c.Expired(now) {
			fmt.Fprintf(tw, "Status:\tEXPIRED\n")
		} else {
			fmt.Fprintf(tw, "Status:\tvalid\n")
		}
		tw.Flush()
	}
}
