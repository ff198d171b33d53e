package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/rt"
	"github.com/itohio/goapwm/pkg/scope"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use the simulated converter instead of the serial port")
		serveFlag  = flag.Bool("serve", false, "Serve the status endpoints while connected")
		windowFlag = flag.Duration("window", time.Minute, "Trend history window")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	slog.SetDefault(logger)

	if err := rt.Setup(cfg.Runtime, logger); err != nil {
		logger.Warn("real-time setup incomplete", "error", err)
	}

	application := app.NewWithID("com.itohio.goapwm")

	window := application.NewWindow("Adaptive PWM Controller")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		log:        logger,
		window:     window,
		useMock:    *mockFlag,
		serve:      *serveFlag,
		history:    scope.NewHistory(*windowFlag),
		trend:      scope.New(*windowFlag),
		panel:      newReadout(),
	}

	toolbar := createToolbar(state)

	content := container.NewBorder(
		toolbar,
		nil,
		state.panel.container,
		nil,
		state.trend,
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		state.disconnect()
	})
	window.ShowAndRun()
}

// appState holds the application state. Fields without a mutex are only
// touched on the UI goroutine.
type appState struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	window     fyne.Window
	useMock    bool
	serve      bool

	history *scope.History
	trend   *scope.TrendWidget
	panel   *readout

	connectBtn *widget.Button
	faultBtn   *widget.Button

	session *session // nil when disconnected

	// Throttling for UI updates
	updateMu       sync.Mutex
	lastUpdateTime time.Time
	lastPhase      string
}

// createToolbar creates the toolbar with Connect, Settings and the emergency Fault button.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("Connect", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	faultBtn := widget.NewButtonWithIcon("Fault", theme.ErrorIcon(), func() {
		handleFault(state)
	})
	faultBtn.Importance = widget.DangerImportance
	faultBtn.Disable()
	state.faultBtn = faultBtn

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn),
		container.NewHBox(faultBtn),
		nil,
	)
}
