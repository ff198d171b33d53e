package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
	"github.com/itohio/goapwm/pkg/status"
)

func newStatusCmd(o *rootOpts) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the controller status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			r, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON report")
	return cmd
}

func newDiagnosticsCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Print the control loop counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			d, err := c.Diagnostics(ctx)
			if err != nil {
				return fmt.Errorf("failed to get diagnostics: %w", err)
			}
			printDiagnostics(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

type configureOpts struct {
	min, max, target float32
	sampleRate       uint32
}

func newConfigureCmd(o *rootOpts) *cobra.Command {
	c := &configureOpts{}

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Change the runtime control parameters",
		Long: `Configure sends a partial update; only the flags given are changed. The
controller rejects updates outside 0 < min < max < 1, 0 < target <= 1 and
1ms <= sample rate <= 10s. Servers requiring secure configuration only accept
updates from clients presenting a verified certificate (--cert/--key).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := c.update(cmd)
			if u.Empty() {
				return errors.New("nothing to configure: set at least one of --min, --max, --target, --sample-rate")
			}

			client, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			r, err := client.Configure(ctx, u)
			switch {
			case errors.Is(err, status.ErrForbidden):
				return fmt.Errorf("configuration requires a verified client certificate: %w", err)
			case errors.Is(err, control.ErrFaulted):
				return fmt.Errorf("controller is faulted: %w", err)
			case err != nil:
				return err
			}

			printControl(cmd.OutOrStdout(), r)
			return nil
		},
	}

	cmd.Flags().Float32Var(&c.min, "min", 0, "minimum duty cycle")
	cmd.Flags().Float32Var(&c.max, "max", 0, "maximum duty cycle")
	cmd.Flags().Float32Var(&c.target, "target", 0, "target efficiency")
	cmd.Flags().Uint32Var(&c.sampleRate, "sample-rate", 0, "measurement period in milliseconds")
	return cmd
}

// update includes only the flags set on the command line.
func (c *configureOpts) update(cmd *cobra.Command) config.Update {
	var u config.Update
	if cmd.Flags().Changed("min") {
		u.DutyCycleMin = &c.min
	}
	if cmd.Flags().Changed("max") {
		u.DutyCycleMax = &c.max
	}
	if cmd.Flags().Changed("target") {
		u.TargetEfficiency = &c.target
	}
	if cmd.Flags().Changed("sample-rate") {
		u.SampleRateMs = &c.sampleRate
	}
	return u
}

func newFaultCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "fault [reason]",
		Short: "Force the controller into the faulted state",
		Long: `Fault is an emergency stop: the controller parks the output at the minimum
duty cycle and stops regulating. Only clients presenting a verified certificate
may send it. Recovery requires restarting the controller.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.Join(args, " ")
			if reason == "" {
				reason = "emergency stop from console"
			}

			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			if err := c.Fault(ctx, reason); err != nil {
				return fmt.Errorf("failed to request fault: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "fault requested")
			return nil
		},
	}
}

// errMonitorDone stops the monitor stream after the requested count.
var errMonitorDone = errors.New("monitor done")

func newMonitorCmd(o *rootOpts) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream live snapshots as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			printMonitorHeader(tw)

			n := 0
			err = c.Monitor(cmd.Context(), func(r status.Report) error {
				printMonitorRow(tw, r)
				n++
				if count > 0 && n >= count {
					return errMonitorDone
				}
				return nil
			})
			if errors.Is(err, errMonitorDone) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n snapshots (0 = until interrupted)")
	return cmd
}

func newCertInfoCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "certinfo [file]",
		Short: "Print certificate details",
		Long: `Certinfo prints subject, issuer, serial and validity of a PEM certificate.
Without an argument it reads --cert, then status.cert_file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.cert
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				cfg, err := o.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Status.CertFile
			}
			if path == "" {
				return errors.New("no certificate given: pass a file, --cert or set status.cert_file")
			}

			infos, err := status.ReadCertInfo(path)
			if err != nil {
				return err
			}
			printCertInfo(cmd.OutOrStdout(), infos, time.Now())
			return nil
		},
	}
}
