// Package bridge implements the SyncBridge, the single authority for access
// decisions and the single writer of device state.
//
// # Message flow
//
//	access/<id>/request   → evaluateAccess    → access/<id>/response
//	telemetry/<id>        → mirrorTelemetry   → device_states
//	control/<id>/status   → mirrorLightStatus → device_states
//	homesync/status/<id>  → presence tracking
//
// # Ordering
//
// Every configured device has its own worker goroutine with a bounded FIFO
// queue. Messages about one device are handled in arrival order and never
// overlap; different devices proceed independently. Messages for devices
// not listed in config are dropped, as are malformed payloads.
//
// # Access decisions
//
// A credential is normalised (uppercase hex, separators removed) exactly as
// the door does, then checked against the allow-list cache. Anything other
// than confirmed membership is a denial. On a grant the door's settled state
// (Locked, last_user) is written before the response is published; the
// write is bounded by bridge.store_timeout and a failure is logged without
// changing the decision.
//
// # Light control
//
// RequestLightMode lets a dashboard change a light's mode on behalf of a
// credential holder. If the light is linked to a door, only the door's last
// user may do so.
package bridge
