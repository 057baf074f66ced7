// Package sample turns raw bridge frames into physical samples and feeds them
// to the BP engine.
package sample

import (
	"log/slog"
	"time"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/sensor"
)

// Sample is one frame in physical units.
type Sample struct {
	Kind      sensor.Kind
	Timestamp uint32  // bridge clock, ms
	Value     float32 // ECG in mV, PPG IR counts
	Red       float32 // PPG red counts
}

// Converter turns a RawFrame channel into a Sample channel.
type Converter func(in <-chan sensor.RawFrame) <-chan Sample

// NewConverter creates a converter that scales ECG readings through the
// analog front end. PPG counts pass through unchanged.
func NewConverter(cfg *config.Config, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = sensor.DefaultBufferSize
	}
	frontend := cfg.Frontend

	return func(in <-chan sensor.RawFrame) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for raw := range in {
				select {
				case out <- convert(raw, frontend):
				case <-time.After(time.Second):
					slog.Warn("converter output channel full, dropping sample", "kind", raw.Kind)
				}
			}
		}()

		return out
	}
}

func convert(raw sensor.RawFrame, frontend config.FrontendConfig) Sample {
	if raw.Kind == sensor.ECG {
		return Sample{
			Kind:      sensor.ECG,
			Timestamp: raw.Timestamp,
			Value:     float32(frontend.Millivolts(raw.ECG)),
		}
	}
	return Sample{
		Kind:      sensor.PPG,
		Timestamp: raw.Timestamp,
		Value:     float32(raw.IR),
		Red:       float32(raw.Red),
	}
}

// Feed pushes samples into sink until in is closed. It is the single producer
// of the sink's rings. Returns the number of samples pushed.
func Feed(in <-chan Sample, sink bp.Sink) int {
	n := 0
	for s := range in {
		switch s.Kind {
		case sensor.ECG:
			sink.AddECGSample(s.Value, s.Timestamp)
		case sensor.PPG:
			sink.AddPPGSample(s.Value, s.Red, s.Timestamp)
		default:
			continue
		}
		n++
	}
	return n
}
