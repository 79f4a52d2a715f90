package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing payloads. homesync messages are small JSON
// objects; anything near this size is a bug.
const maxPayloadSize = 64 << 10

// Publish sends payload to a concrete topic and waits for the broker
// acknowledgment (QoS 1 and 2) or the local write (QoS 0).
//
// Topics must not contain wildcards. Retained messages are meant for
// presence and health only; access requests, responses and commands must
// never be retained or a reconnecting node would act on a stale message.
//
//	err := client.Publish("control/room_control/command", []byte(`{"mode":"med"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for a topic filter, which may use + and #.
//
// Handlers run on paho's delivery goroutine in arrival order, so a handler
// that blocks delays every later message. The bridge hands work to
// per-device queues for that reason.
//
// Subscribing again to the same filter replaces its handler. Subscriptions
// are restored after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateTopic(topic, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	prev, had := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		if had {
			c.subscriptions[topic] = prev
		} else {
			delete(c.subscriptions, topic)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe stops delivery for a filter previously passed to Subscribe.
// Messages already in flight may still reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if err := validateTopic(topic, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of filters restored on reconnect.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// await waits for a paho token and wraps its failure in kind.
func await(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

// validateTopic checks MQTT topic rules. Filters may use + as a whole level
// and # as the whole last level; concrete topics may use neither.
func validateTopic(topic string, filter bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if !strings.ContainsAny(level, "+#") {
			continue
		}
		if !filter {
			return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
		}
		switch {
		case level == "+":
		case level == "#" && i == len(levels)-1:
		default:
			return fmt.Errorf("%w: misplaced wildcard in %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}
