// Package api implements the dashboard and administration HTTP API for homesync.
//
// This package provides:
//   - Read-only device state endpoints backed by the device state store
//   - Light control on behalf of a credential holder, routed through the bridge
//   - Allow-list administration (the only writer of the allow-list)
//   - WebSocket hub broadcasting device.state_changed and access.decided
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// Every route except /api/v1/health needs an HS256 bearer token minted by
// "homesync token". Viewer tokens read state and control lights; admin tokens
// also manage the allow-list. WebSocket clients pass the token as ?token=.
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/devices
//	GET    /api/v1/devices/{id}
//	POST   /api/v1/lights/{id}/mode        {"mode":"low","credential":"04A1B2C3"}
//	GET    /api/v1/ws
//	GET    /api/v1/allowlist               (admin)
//	PUT    /api/v1/allowlist/{credential}  (admin) {"label":"front door fob"}
//	DELETE /api/v1/allowlist/{credential}  (admin)
package api
