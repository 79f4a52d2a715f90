package node

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/homesync/internal/protocol"
)

// fakeOutputs records applied patterns.
type fakeOutputs struct {
	mu      sync.Mutex
	applied []protocol.LightMode
	err     error
}

func (o *fakeOutputs) Apply(mode protocol.LightMode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.applied = append(o.applied, mode)
	return nil
}

func statuses(t *testing.T, pub *MockPublisher) []protocol.LightStatus {
	t.Helper()
	var out []protocol.LightStatus
	for _, p := range pub.GetPublished() {
		if p.Topic != "control/room_control/status" {
			t.Fatalf("unexpected topic %s", p.Topic)
		}
		st, err := protocol.DecodeLightStatus(p.Payload)
		if err != nil {
			t.Fatalf("light published malformed status: %v", err)
		}
		out = append(out, st)
	}
	return out
}

func TestLightNode_AppliesAndEchoes(t *testing.T) {
	out := &fakeOutputs{}
	pub := &MockPublisher{}
	l := NewLightNode("room_control", out, pub, nil)

	_ = l.HandleCommand(l.CommandTopic(), []byte(`{"mode":"high"}`))

	if l.Mode() != protocol.LightHigh {
		t.Errorf("Mode() = %q, want high", l.Mode())
	}
	st := statuses(t, pub)
	if len(st) != 1 || st[0].Mode != protocol.LightHigh || st[0].DeviceID != "room_control" {
		t.Errorf("statuses = %+v", st)
	}
}

func TestLightNode_RepeatedModeIsIdempotent(t *testing.T) {
	out := &fakeOutputs{}
	pub := &MockPublisher{}
	l := NewLightNode("room_control", out, pub, nil)

	for range 3 {
		_ = l.HandleCommand(l.CommandTopic(), []byte(`{"mode":"med"}`))
	}

	if len(out.applied) != 1 || out.applied[0] != protocol.LightMed {
		t.Errorf("outputs applied %v, want a single med", out.applied)
	}
	st := statuses(t, pub)
	if len(st) != 3 {
		t.Fatalf("published %d echoes, want 3", len(st))
	}
	for _, s := range st {
		if s.Mode != protocol.LightMed {
			t.Errorf("echo mode = %q, want med", s.Mode)
		}
	}
}

func TestLightNode_DropsBadCommands(t *testing.T) {
	out := &fakeOutputs{}
	pub := &MockPublisher{}
	l := NewLightNode("room_control", out, pub, nil)

	for _, payload := range []string{
		`{"mode":"max"}`,
		`{"mode":"MED"}`,
		`{"mode":1}`,
		`{}`,
		`not json`,
		`{"mode":"low","device_id":"hall_light"}`,
	} {
		if err := l.HandleCommand(l.CommandTopic(), []byte(payload)); err != nil {
			t.Errorf("HandleCommand(%s) error = %v", payload, err)
		}
	}

	if len(out.applied) != 0 || len(pub.GetPublished()) != 0 {
		t.Errorf("bad commands caused actuation %v or echoes %d", out.applied, len(pub.GetPublished()))
	}
	if l.Mode() != protocol.LightOff {
		t.Errorf("Mode() = %q, want off", l.Mode())
	}
}

func TestLightNode_OutputFailureNoEcho(t *testing.T) {
	out := &fakeOutputs{err: errors.New("gpio")}
	pub := &MockPublisher{}
	l := NewLightNode("room_control", out, pub, nil)

	_ = l.HandleCommand(l.CommandTopic(), []byte(`{"mode":"low"}`))

	if l.Mode() != protocol.LightOff || len(pub.GetPublished()) != 0 {
		t.Errorf("failed apply changed mode to %q or echoed", l.Mode())
	}
}

type fakeSubscriber struct {
	topic   string
	handler func(string, []byte) error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h func(string, []byte) error) error {
	f.topic, f.handler = topic, h
	return nil
}

func TestLightNode_RunStartsOff(t *testing.T) {
	out := &fakeOutputs{}
	l := NewLightNode("room_control", out, &MockPublisher{}, nil)
	sub := &fakeSubscriber{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx, sub); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sub.topic != "control/room_control/command" {
		t.Errorf("subscribed to %q", sub.topic)
	}
	if len(out.applied) != 1 || out.applied[0] != protocol.LightOff {
		t.Errorf("initial outputs = %v, want [off]", out.applied)
	}
}

// recordingTransport logs subscribes and publishes in call order.
type recordingTransport struct {
	calls    []string
	payloads [][]byte
}

func (r *recordingTransport) Subscribe(topic string, _ byte, _ func(string, []byte) error) error {
	r.calls = append(r.calls, "subscribe "+topic)
	return nil
}

func (r *recordingTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	r.calls = append(r.calls, "publish "+topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestLightNode_AnnouncesStartupAfterSubscribing(t *testing.T) {
	tr := &recordingTransport{}
	l := NewLightNode("room_control", &fakeOutputs{}, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx, tr); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"subscribe control/room_control/command", "publish control/room_control/status"}
	if len(tr.calls) != len(want) || tr.calls[0] != want[0] || tr.calls[1] != want[1] {
		t.Fatalf("calls = %v, want %v", tr.calls, want)
	}
	st, err := protocol.DecodeLightStatus(tr.payloads[0])
	if err != nil {
		t.Fatalf("DecodeLightStatus() error = %v", err)
	}
	if !st.Startup || st.Mode != protocol.LightOff || st.DeviceID != "room_control" {
		t.Errorf("startup status = %+v, want off with startup set", st)
	}
}

func TestChannels(t *testing.T) {
	for _, mode := range protocol.LightModes {
		on := 0
		for _, c := range Channels(mode) {
			if c {
				on++
			}
		}
		want := 1
		if mode == protocol.LightOff {
			want = 0
		}
		if on != want {
			t.Errorf("Channels(%s) has %d channels on, want %d", mode, on, want)
		}
	}
}
