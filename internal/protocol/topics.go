package protocol

import (
	"fmt"
	"strings"
)

// RouteKind classifies a device topic.
type RouteKind int

// Route kinds.
const (
	RouteUnknown RouteKind = iota
	RouteAccessRequest
	RouteAccessResponse
	RouteTelemetry
	RouteControlCommand
	RouteControlStatus
)

func (k RouteKind) String() string {
	switch k {
	case RouteAccessRequest:
		return "access_request"
	case RouteAccessResponse:
		return "access_response"
	case RouteTelemetry:
		return "telemetry"
	case RouteControlCommand:
		return "control_command"
	case RouteControlStatus:
		return "control_status"
	default:
		return "unknown"
	}
}

// Route is a parsed device topic.
type Route struct {
	Kind     RouteKind
	DeviceID string
}

// Topics provides builders for device topics.
//
//	protocol.Topics{}.AccessResponse("door_lock") // "access/door_lock/response"
type Topics struct{}

// AccessRequest returns the topic a door publishes requests on.
func (Topics) AccessRequest(deviceID string) string {
	return fmt.Sprintf("access/%s/request", deviceID)
}

// AccessResponse returns the topic a door receives decisions on.
func (Topics) AccessResponse(deviceID string) string {
	return fmt.Sprintf("access/%s/response", deviceID)
}

// Telemetry returns the topic a sensor publishes samples on.
func (Topics) Telemetry(deviceID string) string {
	return "telemetry/" + deviceID
}

// ControlCommand returns the topic a light receives mode commands on.
func (Topics) ControlCommand(deviceID string) string {
	return fmt.Sprintf("control/%s/command", deviceID)
}

// ControlStatus returns the topic a light echoes its mode on.
func (Topics) ControlStatus(deviceID string) string {
	return fmt.Sprintf("control/%s/status", deviceID)
}

// AllAccessRequests matches every door's request topic.
func (Topics) AllAccessRequests() string { return "access/+/request" }

// AllTelemetry matches every sensor's telemetry topic.
func (Topics) AllTelemetry() string { return "telemetry/+" }

// AllControlStatus matches every light's status topic.
func (Topics) AllControlStatus() string { return "control/+/status" }

// ParseTopic classifies a concrete (non-wildcard) device topic.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	for _, p := range parts {
		if p == "" || p == "+" || p == "#" {
			return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
		}
	}

	switch {
	case len(parts) == 2 && parts[0] == "telemetry":
		return Route{Kind: RouteTelemetry, DeviceID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "access" && parts[2] == "request":
		return Route{Kind: RouteAccessRequest, DeviceID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "access" && parts[2] == "response":
		return Route{Kind: RouteAccessResponse, DeviceID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "control" && parts[2] == "command":
		return Route{Kind: RouteControlCommand, DeviceID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "control" && parts[2] == "status":
		return Route{Kind: RouteControlStatus, DeviceID: parts[1]}, nil
	}
	return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}
