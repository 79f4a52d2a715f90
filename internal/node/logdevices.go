package node

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/nerrad567/homesync/internal/protocol"
)

// LogLock is a Lock that only logs, for nodes without an actuator.
type LogLock struct{ Logger Logger }

func (l LogLock) Unlock() error { l.Logger.Info("lock actuator", "position", "unlocked"); return nil }
func (l LogLock) Lock() error   { l.Logger.Info("lock actuator", "position", "locked"); return nil }

// LogDisplay is a Display that logs what would be shown.
type LogDisplay struct{ Logger Logger }

func (d LogDisplay) ShowReady()   { d.Logger.Debug("display", "screen", "ready") }
func (d LogDisplay) ShowWaiting() { d.Logger.Debug("display", "screen", "waiting") }
func (d LogDisplay) ShowGranted() { d.Logger.Info("display", "screen", "granted") }
func (d LogDisplay) ShowDenied(reason string) {
	d.Logger.Info("display", "screen", "denied", "reason", reason)
}

// LogOutputs is a LightOutputs that logs the channel pattern.
type LogOutputs struct{ Logger Logger }

func (o LogOutputs) Apply(mode protocol.LightMode) error {
	ch := Channels(mode)
	o.Logger.Info("light outputs", "mode", mode, "low", ch[0], "med", ch[1], "high", ch[2])
	return nil
}

// SimulatedSensor produces a slow random walk around room conditions.
type SimulatedSensor struct {
	mu                    sync.Mutex
	temperature, humidity float64
}

// NewSimulatedSensor starts at 21°C and 45%.
func NewSimulatedSensor() *SimulatedSensor {
	return &SimulatedSensor{temperature: 21, humidity: 45}
}

func (s *SimulatedSensor) Read(context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = clamp(s.temperature+rand.Float64()-0.5, 15, 30) //nolint:gosec // Simulation only
	s.humidity = clamp(s.humidity+2*(rand.Float64()-0.5), 20, 80)   //nolint:gosec // Simulation only
	return s.temperature, s.humidity, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
