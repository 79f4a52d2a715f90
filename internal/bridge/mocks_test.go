package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homesync/internal/allowlist"
	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]func(topic string, payload []byte) error
	connected  bool
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte) error),
	}
}

func (m *MockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockTransport) Subscribe(topic string, _ byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// GetPublished returns published messages, optionally filtered by topic prefix.
func (m *MockTransport) GetPublished(prefix string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if strings.HasPrefix(p.Topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to every subscription matching topic.
func (m *MockTransport) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var matched []func(string, []byte) error
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		_ = h(topic, payload)
	}
}

// topicMatches supports the single-level + wildcard.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// fakeAllowList implements AllowList.
type fakeAllowList struct {
	mu      sync.Mutex
	members map[string]bool
	err     error
}

func newFakeAllowList(creds ...string) *fakeAllowList {
	f := &fakeAllowList{members: map[string]bool{}}
	for _, c := range creds {
		f.members[c] = true
	}
	return f
}

func (f *fakeAllowList) Contains(_ context.Context, c string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[c], nil
}

func (f *fakeAllowList) Age() time.Duration { return time.Second }

func (f *fakeAllowList) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakeStates implements device.StateStore in memory.
type fakeStates struct {
	mu        sync.Mutex
	states    map[string]device.State
	updateErr error
	block     bool
	updates   int
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]device.State{}}
}

func (f *fakeStates) Get(_ context.Context, id string) (device.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return device.State{}, device.ErrNotFound
	}
	return st, nil
}

func (f *fakeStates) List(context.Context) ([]device.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []device.State
	for _, st := range f.states {
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeStates) Put(_ context.Context, st device.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.DeviceID] = st
	return nil
}

func (f *fakeStates) Update(ctx context.Context, id string, kind device.Kind, fn func(*device.State) error) (device.State, error) {
	f.mu.Lock()
	block, updateErr := f.block, f.updateErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return device.State{}, ctx.Err()
	}
	if updateErr != nil {
		return device.State{}, updateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	st, ok := f.states[id]
	if !ok {
		st = device.State{DeviceID: id, Kind: kind}
	}
	if err := fn(&st); err != nil {
		return device.State{}, err
	}
	st.UpdatedAt = time.Now()
	f.states[id] = st
	return st, nil
}

func (f *fakeStates) setUpdateErr(err error) {
	f.mu.Lock()
	f.updateErr = err
	f.mu.Unlock()
}

func (f *fakeStates) setBlock(block bool) {
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
}

func (f *fakeStates) get(id string) (device.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	return st, ok
}

// fakeEvents implements device.AccessEventRepository.
type fakeEvents struct {
	mu     sync.Mutex
	events []device.AccessEvent
}

func (f *fakeEvents) Record(_ context.Context, ev device.AccessEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeEvents) all() []device.AccessEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.AccessEvent(nil), f.events...)
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	states   []device.State
	accesses []device.AccessEvent
}

func (f *fakeNotifier) StateChanged(st device.State) {
	f.mu.Lock()
	f.states = append(f.states, st)
	f.mu.Unlock()
}

func (f *fakeNotifier) AccessDecided(ev device.AccessEvent) {
	f.mu.Lock()
	f.accesses = append(f.accesses, ev)
	f.mu.Unlock()
}

var errStoreDown = errors.New("store down")

// hangingAllowStore is an allowlist.Store whose reads never complete before
// their ctx ends, like an unreachable Redis.
type hangingAllowStore struct{}

func (hangingAllowStore) Members(ctx context.Context) ([]allowlist.Member, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingAllowStore) Add(context.Context, string, string) error { return errStoreDown }

func (hangingAllowStore) Remove(context.Context, string) error { return errStoreDown }

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			ID:               "test-bridge",
			QueueSize:        64,
			StoreTimeout:     50 * time.Millisecond,
			HealthInterval:   time.Hour,
			ReplayLightState: true,
		},
		AllowList: config.AllowListConfig{
			RefreshInterval: 2 * time.Second,
			MaxStaleness:    6 * time.Second,
		},
		Devices: []config.DeviceConfig{
			{ID: "door_lock", Kind: "door"},
			{ID: "back_door", Kind: "door"},
			{ID: "room_sensor", Kind: "sensor"},
			{ID: "room_control", Kind: "light", Door: "door_lock"},
			{ID: "hall_light", Kind: "light"},
		},
	}
}

type testBridge struct {
	*Bridge
	transport *MockTransport
	allow     *fakeAllowList
	states    *fakeStates
	events    *fakeEvents
	notifier  *fakeNotifier
}

func startTestBridge(t *testing.T, creds ...string) *testBridge {
	t.Helper()
	allow := newFakeAllowList(creds...)
	tb := startBridgeWithAllowList(t, allow)
	tb.allow = allow
	return tb
}

// startBridgeWithAllowList starts a bridge over any AllowList; tb.allow is nil.
func startBridgeWithAllowList(t *testing.T, allow AllowList) *testBridge {
	t.Helper()

	tb := &testBridge{
		transport: NewMockTransport(),
		states:    newFakeStates(),
		events:    &fakeEvents{},
		notifier:  &fakeNotifier{},
	}
	b, err := New(Options{
		Config:    testConfig(),
		Transport: tb.transport,
		AllowList: allow,
		States:    tb.states,
		Events:    tb.events,
		Notifier:  tb.notifier,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tb.Bridge = b

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return tb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
