package sensor

// Device defines the interface for sensor bridges (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Frames() <-chan RawFrame
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
