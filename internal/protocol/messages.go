package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionUnlockRequest is the only action a door sends.
const ActionUnlockRequest = "unlock_request"

// LightMode is a light's output level.
type LightMode string

// Light modes. Exactly one output channel is lit for low, med and high.
const (
	LightOff  LightMode = "off"
	LightLow  LightMode = "low"
	LightMed  LightMode = "med"
	LightHigh LightMode = "high"
)

// LightModes lists every valid mode in ascending brightness.
var LightModes = []LightMode{LightOff, LightLow, LightMed, LightHigh}

// ParseLightMode validates a mode string.
func ParseLightMode(s string) (LightMode, error) {
	for _, m := range LightModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown light mode %q", ErrMalformed, s)
}

// AccessRequest is published by a door when a credential is presented.
type AccessRequest struct {
	DeviceID   string `json:"device_id"`
	Credential string `json:"credential"`
	Action     string `json:"action"`

	// RequestToken increases with every request a door sends and is echoed
	// in the response. Zero means the sender does not correlate.
	RequestToken uint64 `json:"request_token,omitempty"`

	RequestTime *time.Time `json:"request_time,omitempty"`
}

// AccessResponse is the bridge's decision for one AccessRequest.
type AccessResponse struct {
	DeviceID     string `json:"device_id"`
	Granted      bool   `json:"granted"`
	Reason       string `json:"reason,omitempty"`
	RequestToken uint64 `json:"request_token,omitempty"`
}

// Access decision reasons.
const (
	ReasonCredentialAllowed    = "credential_allowed"
	ReasonCredentialNotAllowed = "credential_not_allowed"
	ReasonInvalidCredential    = "invalid_credential"
	ReasonAllowListUnavailable = "allowlist_unavailable"

	// Reasons produced on the door itself, never sent by the bridge.
	ReasonTimeout        = "timeout"
	ReasonTransportError = "transport_error"
)

// Telemetry is one environment sample.
type Telemetry struct {
	DeviceID    string  `json:"device_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// LightCommand asks a light to change mode.
type LightCommand struct {
	Mode        LightMode `json:"mode"`
	DeviceID    string    `json:"device_id,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// LightStatus is a light's echo of its applied mode. Startup marks the
// announcement a light sends once it is subscribed to commands.
type LightStatus struct {
	DeviceID string    `json:"device_id"`
	Mode     LightMode `json:"mode"`
	Startup  bool      `json:"startup,omitempty"`
}

// Encode marshals a wire message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %T: %w", v, err)
	}
	return data, nil
}
