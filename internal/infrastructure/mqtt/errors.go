package mqtt

import "errors"

// Sentinel errors, matched with errors.Is. Operation failures wrap the
// underlying paho error.
var (
	// ErrNotConnected means the client is currently offline. Callers on the
	// access path treat this as a transport error and deny.
	ErrNotConnected = errors.New("mqtt: not connected")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned for empty topics and misplaced wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
