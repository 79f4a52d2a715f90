// Package protocol defines the homesync wire format: topic names, JSON
// payloads, and the credential normalisation shared by doors and the bridge.
//
// # Topics
//
//	access/<device_id>/request    DoorNode → SyncBridge   AccessRequest
//	access/<device_id>/response   SyncBridge → DoorNode   AccessResponse
//	telemetry/<device_id>         SensorNode → SyncBridge Telemetry
//	control/<device_id>/command   SyncBridge → LightNode  LightCommand
//	control/<device_id>/status    LightNode → SyncBridge  LightStatus
//
// # Decoding
//
// Every payload is checked against an embedded JSON Schema before it is
// unmarshalled, so a decoded value always has its required fields and
// enumerated values in range. Failures are *ParseError values wrapping
// ErrMalformed.
//
// # Credentials
//
// Readers report UIDs in different shapes ("a1:b2:c3:d4", "A1 B2 C3 D4").
// NormalizeCredential reduces them to uppercase hex with no separators;
// both the door and the bridge apply it, so allow-list entries match
// regardless of how a reader formats them.
package protocol
