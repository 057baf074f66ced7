package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/synth"
)

const (
	mockTick   = 10 * time.Millisecond
	redIRRatio = 0.7
)

// Mock simulates the sensor bridge with a synthetic ECG/PPG pair.
type Mock struct {
	frontend config.FrontendConfig

	frames    chan RawFrame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	sampler   synth.Sampler
	startTime time.Time
	clock     func() time.Time
}

// NewMock creates a mocked bridge from the mock, front end and engine rate
// sections of cfg.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		frontend: cfg.Frontend,
		frames:   make(chan RawFrame, DefaultBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		sampler: synth.Sampler{
			Waveform: synth.Waveform{
				HeartRate:    cfg.Mock.HeartRate,
				PTT:          float64(cfg.Mock.PTT.Milliseconds()),
				ECGAmplitude: cfg.Mock.ECGAmplitude,
				PPGAmplitude: cfg.Mock.PPGAmplitude,
				PPGBaseline:  cfg.Mock.PPGBaseline,
				Noise:        cfg.Mock.NoiseLevel,
			},
			ECGRate: cfg.Engine.ECGRate,
			PPGRate: cfg.Engine.PPGRate,
		},
		clock: time.Now,
	}
}

// Connect starts generating frames.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if m.ctx.Err() != nil {
		return fmt.Errorf("mock device is closed")
	}

	m.connected = true
	m.startTime = m.clock()

	go m.generateFrames()

	return nil
}

// Close stops the mocked device. The frames channel is closed once the
// generator exits.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false

	return nil
}

// Frames returns the channel of generated frames.
func (m *Mock) Frames() <-chan RawFrame {
	return m.frames
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// generateFrames emits every sample due since the last tick.
func (m *Mock) generateFrames() {
	defer close(m.frames)

	ticker := time.NewTicker(mockTick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.emitUntil(float64(m.clock().Sub(m.startTime).Milliseconds()))
		}
	}
}

func (m *Mock) emitUntil(end float64) {
	m.sampler.Until(end, func(ev synth.Event) {
		if m.ctx.Err() != nil {
			return
		}
		select {
		case m.frames <- m.frame(ev):
		default:
			// Channel full, skip
		}
	})
}

// frame converts a synthetic sample to what the bridge would report.
func (m *Mock) frame(ev synth.Event) RawFrame {
	switch ev.Kind {
	case synth.ECG:
		return RawFrame{Kind: ECG, Timestamp: ev.Timestamp, ECG: m.frontend.ADC(ev.Value)}
	default:
		ir := counts(ev.Value)
		return RawFrame{
			Kind:      PPG,
			Timestamp: ev.Timestamp,
			IR:        ir,
			Red:       counts(float64(ir) * redIRRatio),
		}
	}
}

func counts(v float64) uint32 {
	return uint32(math.Max(0, math.Min(math.Round(v), maxPPG)))
}
