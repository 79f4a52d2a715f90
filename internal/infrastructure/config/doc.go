// Package config loads config.yaml for every homesync process.
//
// One file describes a whole deployment. The bridge reads the devices,
// allow_list, bridge, api and influxdb sections; a door, light or sensor
// node reads its own section plus mqtt and logging. Settings are layered as
// built-in defaults, then the file, then HOMESYNC_* environment variables,
// and Load rejects the result if any section is inconsistent (for example a
// bridge.store_timeout that would outlast the door's response timeout).
//
// Secrets such as the JWT signing key, MQTT password and InfluxDB token are
// expected from the environment:
//
//	HOMESYNC_JWT_SECRET=... homesync bridge -c /etc/homesync/config.yaml
package config
