package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for a local broker at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker is listening locally.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns), len(l.errs)
}

// =============================================================================
// Unit tests (no broker)
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("door_lock")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "door"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "door_lock" {
		t.Errorf("ClientID = %q, want door_lock", opts.ClientID)
	}
	if opts.Username != "door" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect and connect-retry must be enabled")
	}
	if !opts.Order {
		t.Error("ordered delivery must be enabled")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with TLS enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig("room_control"))
	configureLWT(opts, "room_control")

	if !opts.WillEnabled {
		t.Fatal("will not enabled")
	}
	if opts.WillTopic != "homesync/status/room_control" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("will must be retained")
	}

	p, err := ParsePresence(opts.WillPayload)
	if err != nil {
		t.Fatalf("ParsePresence(will) error = %v", err)
	}
	if p.Status != StatusOffline || p.Reason != ReasonUnexpectedDisconnect || p.ClientID != "room_control" {
		t.Errorf("will presence = %+v", p)
	}
}

func TestParsePresence(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"online", `{"status":"online","client_id":"a","timestamp":"2026-01-01T00:00:00Z"}`, StatusOnline, false},
		{"offline", `{"status":"offline","client_id":"a","reason":"graceful_shutdown","timestamp":"2026-01-01T00:00:00Z"}`, StatusOffline, false},
		{"unknown status", `{"status":"sleeping","client_id":"a"}`, "", true},
		{"not json", `online`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePresence([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePresence() error = %v, wantErr %v", err, tt.wantErr)
			}
			if p.Status != tt.want {
				t.Errorf("Status = %q, want %q", p.Status, tt.want)
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	if got := topics.Presence("door_lock"); got != "homesync/status/door_lock" {
		t.Errorf("Presence() = %q", got)
	}
	if got := topics.AllPresence(); got != "homesync/status/+" {
		t.Errorf("AllPresence() = %q", got)
	}
	if got := topics.Health("bridge"); got != "homesync/health/bridge" {
		t.Errorf("Health() = %q", got)
	}
}

func TestPresenceClientID(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"homesync/status/door_lock", "door_lock", true},
		{"homesync/status/", "", false},
		{"homesync/status/a/b", "", false},
		{"homesync/health/bridge", "", false},
		{"telemetry/room_sensor", "", false},
	}
	for _, tt := range tests {
		got, ok := PresenceClientID(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PresenceClientID(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff(config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5})
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Errorf("next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoff_ZeroConfig(t *testing.T) {
	b := newBackoff(config.MQTTReconnectConfig{})
	if got := b.next(); got != time.Second {
		t.Errorf("next() = %v, want 1s", got)
	}
	if got := b.next(); got != time.Second {
		t.Errorf("next() capped = %v, want 1s", got)
	}
}

// stubRetryDeps swaps the connect function and timer for the test duration.
func stubRetryDeps(t *testing.T, connect func(context.Context, config.MQTTConfig) (*Client, error)) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	origConnect, origAfter := connectFunc, timeAfter
	connectFunc = connect
	timeAfter = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	t.Cleanup(func() {
		connectFunc, timeAfter = origConnect, origAfter
	})
	return &delays
}

func TestConnectWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	delays := stubRetryDeps(t, func(context.Context, config.MQTTConfig) (*Client, error) {
		calls++
		return nil, fmt.Errorf("%w: refused", ErrConnectionFailed)
	})

	cfg := testConfig("door_lock")
	cfg.Reconnect.MaxAttempts = 3
	logger := &mockLogger{}

	_, err := ConnectWithRetry(context.Background(), cfg, logger)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("error = %v, want ErrConnectionFailed", err)
	}
	if calls != 3 {
		t.Errorf("connect calls = %d, want 3", calls)
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", *delays)
	}
	if warns, _ := logger.counts(); warns != 2 {
		t.Errorf("warnings = %d, want 2", warns)
	}
}

func TestConnectWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	stubRetryDeps(t, func(context.Context, config.MQTTConfig) (*Client, error) {
		calls++
		if calls < 3 {
			return nil, ErrConnectionFailed
		}
		return &Client{}, nil
	})

	client, err := ConnectWithRetry(context.Background(), testConfig("door_lock"), nil)
	if err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	if client == nil {
		t.Fatal("client = nil")
	}
	if calls != 3 {
		t.Errorf("connect calls = %d, want 3", calls)
	}
}

func TestConnectWithRetry_ContextCancelled(t *testing.T) {
	origConnect, origAfter := connectFunc, timeAfter
	t.Cleanup(func() { connectFunc, timeAfter = origConnect, origAfter })

	ctx, cancel := context.WithCancel(context.Background())
	connectFunc = func(context.Context, config.MQTTConfig) (*Client, error) {
		cancel()
		return nil, ErrConnectionFailed
	}
	timeAfter = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	_, err := ConnectWithRetry(ctx, testConfig("door_lock"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "access/door_lock/request", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "telemetry/x", nil)

	warns, errs := logger.counts()
	if errs != 1 {
		t.Errorf("errors logged = %d, want 1", errs)
	}
	if warns != 1 {
		t.Errorf("warnings logged = %d, want 1", warns)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true on unconnected client")
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnect(t *testing.T) {
	requireBroker(t)

	client, err := Connect(context.Background(), testConfig("homesync-test"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize error = %v, want ErrPublishFailed", err)
	}
	if err := c.Publish("a", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	h := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, h); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a", 3, h); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("a", 1, h); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic  string
		filter bool
		ok     bool
	}{
		{"access/door_lock/request", false, true},
		{"access/+/request", false, false},
		{"telemetry/#", false, false},
		{"access/+/request", true, true},
		{"telemetry/#", true, true},
		{"#", true, true},
		{"telemetry/#/x", true, false},
		{"access/door+/request", true, false},
		{"", true, false},
	}
	for _, tt := range tests {
		err := validateTopic(tt.topic, tt.filter)
		if tt.ok && err != nil {
			t.Errorf("validateTopic(%q, %v) = %v, want nil", tt.topic, tt.filter, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("validateTopic(%q, %v) = %v, want ErrInvalidTopic", tt.topic, tt.filter, err)
		}
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	pub, err := Connect(context.Background(), testConfig("homesync-test-pub"))
	if err != nil {
		t.Fatalf("Connect(pub) error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(context.Background(), testConfig("homesync-test-sub"))
	if err != nil {
		t.Fatalf("Connect(sub) error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 3)
	err = sub.Subscribe("homesync-test/+/request", 1, func(topic string, _ []byte) error {
		received <- topic
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		if err := pub.Publish("homesync-test/"+id+"/request", []byte(`{}`), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	// Ordered delivery: messages arrive in publish order.
	for _, id := range []string{"a", "b", "c"} {
		select {
		case got := <-received:
			if got != "homesync-test/"+id+"/request" {
				t.Errorf("received %q, want %q", got, "homesync-test/"+id+"/request")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", id)
		}
	}

	if err := sub.Unsubscribe("homesync-test/+/request"); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}
