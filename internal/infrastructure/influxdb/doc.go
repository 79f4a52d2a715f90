// Package influxdb mirrors homesync device activity into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes, and health monitoring.
//
// # Purpose
//
// The bridge writes three measurements when influxdb.enabled is set:
//   - telemetry: temperature and humidity per sensor
//   - light_mode: confirmed mode changes per light
//   - access_decisions: grant/deny counts per door and reason
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("room_sensor", 21.5, 40.2, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered through SetOnError.
// Connection and health check errors are returned directly.
package influxdb
