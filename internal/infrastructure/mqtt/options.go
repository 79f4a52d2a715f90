package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds every publish/subscribe acknowledgment wait.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 30 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Presence values published on Topics.Presence.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonGracefulShutdown     = "graceful_shutdown"
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
)

// timeAfter is replaced in tests.
var timeAfter = time.After

// Presence is the retained payload on a client's presence topic.
type Presence struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ParsePresence decodes a presence payload.
func ParsePresence(payload []byte) (Presence, error) {
	var p Presence
	if err := json.Unmarshal(payload, &p); err != nil {
		return Presence{}, fmt.Errorf("parsing presence: %w", err)
	}
	if p.Status != StatusOnline && p.Status != StatusOffline {
		return Presence{}, fmt.Errorf("parsing presence: unknown status %q", p.Status)
	}
	return p, nil
}

// buildClientOptions creates paho MQTT options from homesync config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Clean session mode
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Ordered delivery keeps per-topic arrival order intact for the bridge dispatcher.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: homesync/status/<client_id>
// QoS: 1, retained so late subscribers see the last presence.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	payload := buildPresencePayload(clientID, StatusOffline, ReasonUnexpectedDisconnect)
	opts.SetBinaryWill(Topics{}.Presence(clientID), payload, 1, true)
}

func buildPresencePayload(clientID, status, reason string) []byte {
	// Presence holds only strings and a time, so Marshal cannot fail.
	data, _ := json.Marshal(Presence{ //nolint:errchkjson // Fixed field set
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return data
}
