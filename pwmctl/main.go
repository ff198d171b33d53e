package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/status"
)

// rootOpts are the flags shared by every subcommand.
type rootOpts struct {
	configPath string
	addr       string
	logLevel   string
	timeout    time.Duration

	// client side TLS
	cert string
	key  string
	ca   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &rootOpts{}

	root := &cobra.Command{
		Use:   "pwmctl",
		Short: "Adaptive PWM converter controller",
		Long: `pwmctl runs the closed-loop duty cycle controller of a switching converter
and talks to a running controller from an operator console.

The controller samples the converter's ADC, estimates inductance, capacitance
and ESR, and nudges the PWM duty cycle toward a target efficiency within
configured safety bounds.

Examples:
  pwmctl run --mock --serve
  pwmctl status --addr localhost:8080
  pwmctl configure --max 0.8 --target 0.9 --cert operator.crt --key operator.key --ca ca.crt
  pwmctl monitor`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "config.yaml", "configuration file path")
	root.PersistentFlags().StringVar(&o.addr, "addr", "", "status server address (overrides status.address)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 5*time.Second, "request timeout for console commands")
	root.PersistentFlags().StringVar(&o.cert, "cert", "", "client certificate presented to the status server")
	root.PersistentFlags().StringVar(&o.key, "key", "", "client certificate key")
	root.PersistentFlags().StringVar(&o.ca, "ca", "", "CA certificate verifying the status server")

	root.AddCommand(
		newRunCmd(o),
		newStatusCmd(o),
		newDiagnosticsCmd(o),
		newConfigureCmd(o),
		newFaultCmd(o),
		newMonitorCmd(o),
		newCertInfoCmd(o),
		newConfigCmd(o),
	)
	return root
}

// loadConfig loads the configuration file and applies flag overrides.
func (o *rootOpts) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.addr != "" {
		cfg.Status.Address = o.addr
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// logger builds the process logger and installs it as the slog default.
func (o *rootOpts) logger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	log, err := cfg.Log.Logger(w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

// client connects to the status server. TLS is used when any TLS flag is set.
func (o *rootOpts) client() (*status.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	var tlsCfg *tls.Config
	if o.cert != "" || o.ca != "" {
		tlsCfg, err = status.ClientTLS(o.cert, o.key, o.ca)
		if err != nil {
			return nil, err
		}
	}

	c, err := status.NewClient(cfg.Status.Address, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}
