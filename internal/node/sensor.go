package node

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/homesync/internal/protocol"
)

// Physical range accepted from the sensor. Matches the telemetry schema.
const (
	minTemperature = -50.0
	maxTemperature = 150.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

// SensorNode publishes a telemetry sample every interval.
// A failed or implausible read skips that cycle; nothing partial is sent.
type SensorNode struct {
	id       string
	interval time.Duration
	sensor   EnvSensor
	pub      Publisher
	logger   Logger
}

// NewSensorNode creates a sensor node.
func NewSensorNode(deviceID string, interval time.Duration, sensor EnvSensor, pub Publisher, logger Logger) *SensorNode {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SensorNode{id: deviceID, interval: interval, sensor: sensor, pub: pub, logger: logger}
}

// SampleOnce reads the sensor and publishes one sample.
func (s *SensorNode) SampleOnce(ctx context.Context) error {
	temperature, humidity, err := s.sensor.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	if err := ValidateReading(temperature, humidity); err != nil {
		return err
	}

	data, err := protocol.Encode(protocol.Telemetry{
		DeviceID:    s.id,
		Temperature: temperature,
		Humidity:    humidity,
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(protocol.Topics{}.Telemetry(s.id), data, 0, false)
}

// Run samples immediately and then every interval until ctx is cancelled.
func (s *SensorNode) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sensor ready", "device_id", s.id, "interval", s.interval)
	for {
		if err := s.SampleOnce(ctx); err != nil {
			s.logger.Warn("sample skipped", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ValidateReading rejects NaN, infinities and out-of-range values.
func ValidateReading(temperature, humidity float64) error {
	for _, v := range []float64{temperature, humidity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: not a number", ErrInvalidReading)
		}
	}
	if temperature < minTemperature || temperature > maxTemperature {
		return fmt.Errorf("%w: temperature %.1f out of range", ErrInvalidReading, temperature)
	}
	if humidity < minHumidity || humidity > maxHumidity {
		return fmt.Errorf("%w: humidity %.1f out of range", ErrInvalidReading, humidity)
	}
	return nil
}
