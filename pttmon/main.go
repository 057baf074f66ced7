package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/lmittmann/tint"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/sample"
	"github.com/itohio/goptt/pkg/scope"
	"github.com/itohio/goptt/pkg/sensor"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: cfg.Monitor.Level(),
	})))

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	application := app.NewWithID("com.itohio.goptt")

	window := application.NewWindow("PTT Monitor")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		window:     window,
		useMock:    *mockFlag,
	}
	state.newEngine()

	toolbar := createToolbar(state)

	state.scopeWidget = scope.New()
	state.resultLabel = widget.NewLabel("Not connected")

	content := container.NewBorder(
		toolbar,
		state.resultLabel,
		nil,
		nil,
		state.scopeWidget,
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		closeMeasurementChain(state.chain)
	})
	window.ShowAndRun()
}

// measurementChain tracks the components of the measurement chain for graceful shutdown.
type measurementChain struct {
	device   sensor.Device
	feedDone chan struct{} // closed when the feed goroutine exits
	stop     chan struct{} // stops the estimation loop
	loopDone chan struct{} // closed when the estimation loop exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	configPath  string
	engine      *bp.Monitor
	device      sensor.Device
	scopeWidget *scope.ScopeWidget
	resultLabel *widget.Label
	window      fyne.Window
	connectBtn  *widget.Button
	useMock     bool
	chain       *measurementChain

	mu sync.Mutex // guards engine replacement
}

// newEngine builds the engine from the current config and applies the profile.
func (s *appState) newEngine() {
	engine := bp.New(s.cfg, slog.Default())
	if err := engine.Begin(); err != nil {
		slog.Error("engine self-test failed", "err", err)
	}

	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

func (s *appState) currentEngine() *bp.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// createToolbar creates the toolbar: connect, settings, reset, calibrate and profile.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	resetBtn := widget.NewButtonWithIcon("Reset", theme.ViewRefreshIcon(), func() {
		state.currentEngine().Reset()
		slog.Info("engine reset")
	})

	calibrateBtn := widget.NewButtonWithIcon("Calibrate", theme.ConfirmIcon(), func() {
		showCalibrationDialog(state)
	})

	diagnosticsBtn := widget.NewButtonWithIcon("", theme.InfoIcon(), func() {
		text := widget.NewLabel(state.currentEngine().SystemStatus())
		text.TextStyle = fyne.TextStyle{Monospace: true}
		dialog.ShowCustom("Diagnostics", "Close", container.NewVScroll(text), state.window)
	})

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn, resetBtn),
		container.NewHBox(calibrateBtn, diagnosticsBtn),
		nil,
	)
}

// showCalibrationDialog asks for a cuff reading taken right now and stores it
// against the current PTT.
func showCalibrationDialog(state *appState) {
	sysEntry := widget.NewEntry()
	sysEntry.SetPlaceHolder("120")
	diaEntry := widget.NewEntry()
	diaEntry.SetPlaceHolder("80")

	items := []*widget.FormItem{
		{Text: "Systolic (mmHg)", Widget: sysEntry},
		{Text: "Diastolic (mmHg)", Widget: diaEntry},
	}

	dialog.ShowForm("Add calibration point", "Add", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		sys, err1 := strconv.ParseFloat(sysEntry.Text, 32)
		dia, err2 := strconv.ParseFloat(diaEntry.Text, 32)
		if err1 != nil || err2 != nil {
			dialog.ShowError(fmt.Errorf("pressures must be numbers"), state.window)
			return
		}

		engine := state.currentEngine()
		if err := engine.AddCalibrationPoint(float32(sys), float32(dia)); err != nil {
			dialog.ShowError(fmt.Errorf("calibration: %w", err), state.window)
			return
		}
		slog.Info("calibration point added", "systolic", sys, "diastolic", dia, "state", engine.Calibration().String())
	}, state.window)
}

// closeMeasurementChain stops the estimation loop and closes the device.
// Waits for all goroutines to finish.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}

	if chain.device != nil {
		chain.device.Close()
	}
	if chain.feedDone != nil {
		<-chain.feedDone
	}

	if chain.stop != nil {
		close(chain.stop)
		<-chain.loopDone
	}
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.device != nil && state.device.IsConnected() {
		closeMeasurementChain(state.chain)
		state.chain = nil
		state.device = nil
		state.resultLabel.SetText("Disconnected")
		slog.Info("disconnected")
		return
	}

	var device sensor.Device
	if state.useMock {
		device = sensor.NewMock(state.cfg)
	} else {
		device = sensor.New(state.cfg.Serial.Port, state.cfg.Serial.BaudRate, sensor.DefaultBufferSize)
	}

	if err := device.Connect(); err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to mocked device: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}
	state.device = device
	if state.useMock {
		slog.Info("connected to mocked device")
	} else {
		slog.Info("connected to serial port", "port", state.cfg.Serial.Port)
	}

	engine := state.currentEngine()
	engine.Reset()

	samples := sample.NewConverter(state.cfg, 500)(device.Frames())

	chain := &measurementChain{
		device:   device,
		feedDone: make(chan struct{}),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	go func() {
		defer close(chain.feedDone)
		n := sample.Feed(samples, engine)
		slog.Debug("sample feed finished", "samples", n)
	}()

	go func() {
		defer close(chain.loopDone)
		runEstimation(state, engine, chain.stop)
	}()

	state.chain = chain
}
