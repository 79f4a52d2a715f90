package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by homesync.
const (
	MeasurementTelemetry = "telemetry"
	MeasurementAccess    = "access_decisions"
	MeasurementLight     = "light_mode"
)

// WriteTelemetry records one environment sample from a sensor node.
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteTelemetry(deviceID string, temperature, humidity float64, at time.Time) {
	c.writePoint(telemetryPoint(deviceID, temperature, humidity, at))
}

// WriteAccessDecision records the outcome of one access request.
//
// The credential is deliberately not written: the time series is for
// traffic patterns, and the access event log holds who was let in.
func (c *Client) WriteAccessDecision(deviceID string, granted bool, reason string, at time.Time) {
	c.writePoint(accessPoint(deviceID, granted, reason, at))
}

// WriteLightMode records a confirmed light mode change.
func (c *Client) WriteLightMode(deviceID, mode string, at time.Time) {
	c.writePoint(lightPoint(deviceID, mode, at))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func telemetryPoint(deviceID string, temperature, humidity float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"temperature": temperature,
			"humidity":    humidity,
		},
		at,
	)
}

func accessPoint(deviceID string, granted bool, reason string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAccess,
		map[string]string{
			"device_id": deviceID,
			"reason":    reason,
		},
		map[string]interface{}{
			"granted": granted,
		},
		at,
	)
}

// lightLevels maps modes to a plottable level.
var lightLevels = map[string]int64{
	"off":  0,
	"low":  1,
	"med":  2,
	"high": 3,
}

func lightPoint(deviceID, mode string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLight,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"mode":  mode,
			"level": lightLevels[mode],
		},
		at,
	)
}
