// Package sensor talks to the ECG/PPG sensor bridge.
//
// The bridge streams one frame per line:
//
//	E,<ms>,<adc12>      ECG sample, 12-bit ADC reading
//	P,<ms>,<ir>,<red>   PPG sample, 18-bit IR and red LED counts
//
// <ms> is the bridge's millisecond clock. It wraps at 2^32.
package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate of the sensor bridge firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the frames channel buffer.
	DefaultBufferSize = 512

	maxECG = 1<<12 - 1
	maxPPG = 1<<18 - 1
)

// Kind tells which channel a frame belongs to.
type Kind uint8

const (
	ECG Kind = iota + 1
	PPG
)

func (k Kind) String() string {
	switch k {
	case ECG:
		return "ECG"
	case PPG:
		return "PPG"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// RawFrame is one sample as reported by the bridge.
type RawFrame struct {
	Kind      Kind
	Timestamp uint32 // bridge clock, ms
	ECG       uint16 // 12-bit ADC reading (ECG frames)
	IR        uint32 // 18-bit IR counts (PPG frames)
	Red       uint32 // 18-bit red counts (PPG frames)
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the sensor bridge.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	frames    chan RawFrame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		frames:   make(chan RawFrame, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading frames.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	if d.ctx.Err() != nil {
		return fmt.Errorf("device %s is closed", d.port)
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readFrames(port)

	return nil
}

// Close closes the port. The frames channel is closed once the reader exits.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			slog.Error("closing serial port", "port", d.port, "err", err)
		}
		d.conn = nil
	}
	d.connected = false

	return nil
}

// Frames returns the channel of received frames.
func (d *Serial) Frames() <-chan RawFrame {
	return d.frames
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readFrames parses lines from r until EOF or cancellation, then closes the
// frames channel.
func (d *Serial) readFrames(r io.Reader) {
	defer close(d.frames)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in serial reader", "panic", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if d.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame, err := parseLine(line)
		if err != nil {
			slog.Debug("skipping line", "line", line, "err", err)
			continue
		}

		select {
		case d.frames <- frame:
		case <-d.ctx.Done():
			return
		default:
			slog.Warn("frames channel full, dropping frame", "kind", frame.Kind)
		}
	}
	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		slog.Error("reading from serial port", "port", d.port, "err", err)
	}
}

// parseLine parses one bridge line into a RawFrame.
// Examples: "E,123456,2048" and "P,123460,51234,40211".
func parseLine(line string) (RawFrame, error) {
	parts := strings.Split(line, ",")

	var frame RawFrame
	switch parts[0] {
	case "E":
		if len(parts) != 3 {
			return RawFrame{}, fmt.Errorf("invalid ECG frame: expected 3 comma-separated values, got %d", len(parts))
		}
		frame.Kind = ECG
	case "P":
		if len(parts) != 4 {
			return RawFrame{}, fmt.Errorf("invalid PPG frame: expected 4 comma-separated values, got %d", len(parts))
		}
		frame.Kind = PPG
	default:
		return RawFrame{}, fmt.Errorf("unknown frame type %q", parts[0])
	}

	ts, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RawFrame{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	frame.Timestamp = uint32(ts)

	if frame.Kind == ECG {
		v, err := parseCounts(parts[2], maxECG)
		if err != nil {
			return RawFrame{}, fmt.Errorf("invalid ECG reading: %w", err)
		}
		frame.ECG = uint16(v)
		return frame, nil
	}

	if frame.IR, err = parseCounts(parts[2], maxPPG); err != nil {
		return RawFrame{}, fmt.Errorf("invalid IR reading: %w", err)
	}
	if frame.Red, err = parseCounts(parts[3], maxPPG); err != nil {
		return RawFrame{}, fmt.Errorf("invalid red reading: %w", err)
	}
	return frame, nil
}

func parseCounts(s string, limit uint64) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v > limit {
		return 0, fmt.Errorf("out of range: %d (max %d)", v, limit)
	}
	return uint32(v), nil
}
