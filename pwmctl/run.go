package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itohio/goapwm/pkg/control"
	"github.com/itohio/goapwm/pkg/driver"
	"github.com/itohio/goapwm/pkg/rt"
	"github.com/itohio/goapwm/pkg/status"
)

type runOpts struct {
	mock  bool
	port  string
	serve bool
}

func newRunCmd(o *rootOpts) *cobra.Command {
	r := &runOpts{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		Long: `Run initializes the analog input and runs the control loop. With --serve the
status endpoints are served on status.address. When the loop faults the output
is parked at the minimum duty cycle; runtime.on_fault decides whether the
process then idles (serving the faulted status) or exits non-zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runController(ctx, o, r)
		},
	}

	cmd.Flags().BoolVar(&r.mock, "mock", false, "use the simulated converter instead of the serial port")
	cmd.Flags().StringVarP(&r.port, "port", "p", "", "serial port override (e.g., COM3 or /dev/ttyACM0)")
	cmd.Flags().BoolVar(&r.serve, "serve", true, "serve the status endpoints")
	return cmd
}

func runController(ctx context.Context, o *rootOpts, r *runOpts) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if r.port != "" {
		cfg.Serial.Port = r.port
	}

	log, err := o.logger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	if err := rt.Setup(cfg.Runtime, log); err != nil {
		log.Warn("real-time setup incomplete", "error", err)
	}

	dev, err := driver.Open(cfg, r.mock)
	if err != nil {
		return err
	}
	defer dev.Close()

	loop := control.New(cfg, dev, dev, control.WithLogger(log))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvDone := make(chan error, 1)
	if r.serve {
		srv := status.New(cfg.Status, loop, status.WithLogger(log))
		go func() {
			err := srv.ListenAndServe(ctx)
			if err != nil {
				log.Error("status server stopped", "error", err)
				cancel()
			}
			srvDone <- err
		}()
	} else {
		srvDone <- nil
	}

	log.Info("controller starting",
		"mock", r.mock,
		"port", cfg.Serial.Port,
		"duty_cycle_min", cfg.Control.DutyCycleMin,
		"duty_cycle_max", cfg.Control.DutyCycleMax,
		"target_efficiency", cfg.Control.TargetEfficiency,
	)

	err = loop.Run(ctx)
	if errors.Is(err, control.ErrFaulted) {
		if cfg.Runtime.OnFault == "exit" {
			cancel()
			<-srvDone
			return err
		}
		log.Error("controller faulted, idling until interrupted", "error", err)
		err = loop.Idle(ctx)
	}

	if perr := dev.SetDutyCycle(loop.Config().DutyCycleMin); perr != nil {
		log.Warn("failed to park output", "error", perr)
	}

	cancel()
	if serr := <-srvDone; serr != nil {
		return fmt.Errorf("status server: %w", serr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
