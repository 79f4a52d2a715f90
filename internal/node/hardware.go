package node

import (
	"context"
	"time"

	"github.com/nerrad567/homesync/internal/protocol"
)

// Publisher publishes messages on the broker. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber registers message handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// Lock drives the door actuator.
type Lock interface {
	Unlock() error
	Lock() error
}

// Display shows the door's state to the person at the door.
type Display interface {
	ShowReady()
	ShowWaiting()
	ShowGranted()
	ShowDenied(reason string)
}

// TokenReader returns presented tokens as raw strings. ReadToken must
// return within a bounded time, with ErrNoToken if nothing was presented.
type TokenReader interface {
	ReadToken() (string, error)
}

// EnvSensor reads temperature (°C) and relative humidity (%).
// Read must return within a bounded time.
type EnvSensor interface {
	Read(ctx context.Context) (temperature, humidity float64, err error)
}

// LightOutputs drives a light's output channels.
type LightOutputs interface {
	Apply(mode protocol.LightMode) error
}

// Clock is the time source for node timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Channels returns the output pattern for a mode: exactly one of the three
// channels is on for low, med and high, and none for off.
func Channels(mode protocol.LightMode) [3]bool {
	switch mode {
	case protocol.LightLow:
		return [3]bool{true, false, false}
	case protocol.LightMed:
		return [3]bool{false, true, false}
	case protocol.LightHigh:
		return [3]bool{false, false, true}
	default:
		return [3]bool{}
	}
}

// Logger is the minimal logging interface used by nodes.
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
