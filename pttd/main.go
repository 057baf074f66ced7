package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/metrics"
	"github.com/itohio/goptt/pkg/sample"
	"github.com/itohio/goptt/pkg/sensor"
)

const (
	processInterval = 250 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
		listenFlag = flag.String("listen", "", "HTTP listen address override (e.g., :8080)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.Monitor.Level(),
		TimeFormat: time.TimeOnly,
	})))

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *listenFlag != "" {
		cfg.Monitor.Listen = *listenFlag
	}

	if err := run(cfg, *mockFlag); err != nil {
		slog.Error("pttd stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, useMock bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := bp.New(cfg, slog.Default().With("component", "engine"))
	if err := engine.Begin(); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	var device sensor.Device
	if useMock {
		device = sensor.NewMock(cfg)
	} else {
		device = sensor.New(cfg.Serial.Port, cfg.Serial.BaudRate, sensor.DefaultBufferSize)
	}
	if err := device.Connect(); err != nil {
		return fmt.Errorf("connecting device: %w", err)
	}
	defer device.Close()
	slog.Info("device connected", "mock", useMock, "port", cfg.Serial.Port)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var wg sync.WaitGroup
	samples := sample.NewConverter(cfg, sensor.DefaultBufferSize)(device.Frames())
	wg.Add(1)
	go func() {
		defer wg.Done()
		n := sample.Feed(samples, engine)
		slog.Info("sample feed finished", "samples", n)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runEstimation(ctx, engine, m, cfg.Monitor.Interval)
	}()

	server := &http.Server{
		Addr:              cfg.Monitor.Listen,
		Handler:           NewHandler(engine).Router(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Monitor.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			device.Close()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}

	device.Close()
	wg.Wait()
	return nil
}

// runEstimation drains the engine and computes a reading every interval
// until ctx is done.
func runEstimation(ctx context.Context, engine *bp.Monitor, m *metrics.Metrics, interval time.Duration) {
	process := time.NewTicker(processInterval)
	defer process.Stop()
	estimate := time.NewTicker(interval)
	defer estimate.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-process.C:
			engine.Process()
		case <-estimate.C:
			estimateOnce(engine, m)
		}
	}
}

func estimateOnce(engine *bp.Monitor, m *metrics.Metrics) bp.BloodPressureData {
	start := time.Now()
	d := engine.CalculateBloodPressure()
	m.ObserveCalculation(time.Since(start))

	state := engine.State()
	m.Update(d, engine.Stats(), state)

	if d.ValidReading {
		slog.Info("reading",
			"sys", d.Systolic,
			"dia", d.Diastolic,
			"ptt", d.PulseTransitTime,
			"hr", d.HeartRate,
			"quality", d.SignalQuality,
			"state", state)
	} else {
		slog.Debug("no valid reading",
			"state", state,
			"quality", d.SignalQuality,
			"correlation", d.CorrelationCoeff)
	}
	return d
}
