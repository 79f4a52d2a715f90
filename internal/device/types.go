package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/homesync/internal/protocol"
)

// Kind is the role a device plays on the bus.
type Kind string

// Device kinds.
const (
	KindDoor   Kind = "door"
	KindSensor Kind = "sensor"
	KindLight  Kind = "light"
)

// ValidKind reports whether k is a known kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindDoor, KindSensor, KindLight:
		return true
	default:
		return false
	}
}

// DoorStatus is the last decision applied to a door.
type DoorStatus string

// Door statuses.
const (
	StatusLocked   DoorStatus = "Locked"
	StatusUnlocked DoorStatus = "Unlocked"
)

// State is the last known state of one device.
//
// Only the fields belonging to Kind are meaningful:
//   - door: Status, LastUser
//   - light: Mode, LastUser
//   - sensor: Temperature, Humidity
type State struct {
	DeviceID string `json:"device_id"`
	Kind     Kind   `json:"kind"`

	Status   DoorStatus         `json:"status,omitempty"`
	Mode     protocol.LightMode `json:"mode,omitempty"`
	LastUser string             `json:"last_user,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that s only carries fields allowed for its kind.
func (s *State) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidState)
	}
	if !ValidKind(s.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidState, s.Kind)
	}

	switch s.Kind {
	case KindDoor:
		if s.Status != "" && s.Status != StatusLocked && s.Status != StatusUnlocked {
			return fmt.Errorf("%w: unknown door status %q", ErrInvalidState, s.Status)
		}
		if s.Mode != "" || s.Temperature != nil || s.Humidity != nil {
			return fmt.Errorf("%w: door %s carries light or sensor fields", ErrInvalidState, s.DeviceID)
		}
	case KindLight:
		if s.Mode != "" {
			if _, err := protocol.ParseLightMode(string(s.Mode)); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidState, err)
			}
		}
		if s.Status != "" || s.Temperature != nil || s.Humidity != nil {
			return fmt.Errorf("%w: light %s carries door or sensor fields", ErrInvalidState, s.DeviceID)
		}
	case KindSensor:
		if s.Status != "" || s.Mode != "" || s.LastUser != "" {
			return fmt.Errorf("%w: sensor %s carries door or light fields", ErrInvalidState, s.DeviceID)
		}
	}
	return nil
}

// Float returns a pointer to v, for building sensor states.
func Float(v float64) *float64 {
	return &v
}
