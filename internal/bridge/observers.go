package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/homesync/internal/device"
)

// Transport is the broker connection the bridge runs on.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	IsConnected() bool
}

// AllowList answers membership for normalised credentials.
// *allowlist.Cache satisfies it.
type AllowList interface {
	Contains(ctx context.Context, credential string) (bool, error)

	// Age is the snapshot age, or negative if none is loaded.
	Age() time.Duration
}

// TimeSeries receives samples and decisions for trend storage.
// *influxdb.Client satisfies it. Writes must not block.
type TimeSeries interface {
	WriteTelemetry(deviceID string, temperature, humidity float64, at time.Time)
	WriteAccessDecision(deviceID string, granted bool, reason string, at time.Time)
	WriteLightMode(deviceID, mode string, at time.Time)
}

// Notifier is told about every state change and access decision.
// The API's WebSocket hub satisfies it. Calls must not block.
type Notifier interface {
	StateChanged(st device.State)
	AccessDecided(ev device.AccessEvent)
}

// Logger is the minimal logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
