package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base for homesync service topics.
// Device traffic uses the flat access/telemetry/control namespace owned by
// the protocol package; only process-level topics live under this prefix.
const TopicPrefix = "homesync"

// Topics provides builders for homesync service topics.
//
//	topics := mqtt.Topics{}
//	topics.Presence("door_lock") // "homesync/status/door_lock"
type Topics struct{}

// Presence returns the retained online/offline topic for a client.
func (Topics) Presence(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, clientID)
}

// AllPresence matches every client's presence topic.
func (Topics) AllPresence() string {
	return TopicPrefix + "/status/+"
}

// Health returns the retained health topic for a bridge instance.
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// PresenceClientID extracts the client ID from a presence topic.
// It returns false if the topic is not a presence topic.
func PresenceClientID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/status/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
