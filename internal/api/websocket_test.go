package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/protocol"
)

// dialWS connects to the test server's WebSocket endpoint.
func dialWS(t *testing.T, env *testEnv, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

// waitForClients waits for the hub to register n clients; registration
// follows the upgrade response.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func subscribeWS(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := dialWS(t, env, "")
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWebSocket_StateChangedBroadcast(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := dialWS(t, env, mustToken(t, RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	subscribeWS(t, conn, ChannelStateChanged)

	env.srv.Hub().StateChanged(device.State{
		DeviceID: "room_control",
		Kind:     device.KindLight,
		Mode:     protocol.LightHigh,
		LastUser: "04A1B2C3",
	})

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelStateChanged {
		t.Fatalf("event = %+v", msg)
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var st device.State
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if st.DeviceID != "room_control" || st.Mode != protocol.LightHigh {
		t.Errorf("state = %+v", st)
	}
}

func TestWebSocket_OnlySubscribedChannels(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := dialWS(t, env, mustToken(t, RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	subscribeWS(t, conn, ChannelAccessDecided)

	hub := env.srv.Hub()
	hub.StateChanged(device.State{DeviceID: "door_lock", Kind: device.KindDoor, Status: device.StatusLocked})
	hub.AccessDecided(device.AccessEvent{
		DeviceID:     "door_lock",
		Credential:   "04A1B2C3",
		Granted:      true,
		Reason:       protocol.ReasonCredentialAllowed,
		RequestToken: 7,
	})

	msg := readWS(t, conn)
	if msg.EventType != ChannelAccessDecided {
		t.Fatalf("first event = %q, want %q", msg.EventType, ChannelAccessDecided)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	if payload["granted"] != true || payload["request_token"] != float64(7) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := dialWS(t, env, mustToken(t, RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msg)
	}
}

func TestWebSocket_ChannelsQuerySubscribes(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := dialWS(t, env, mustToken(t, RoleViewer)+"&channels="+ChannelStateChanged)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, env.srv.Hub(), 1)
	env.srv.Hub().StateChanged(device.State{DeviceID: "room_sensor", Kind: device.KindSensor})

	if msg := readWS(t, conn); msg.EventType != ChannelStateChanged {
		t.Errorf("event = %+v, want %s", msg, ChannelStateChanged)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := dialWS(t, env, mustToken(t, RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Channels: []string{"door.opened"}},
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != "s1" {
		t.Errorf("reply = %+v, want error for s1", msg)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.Hub()

	c := &WSClient{
		hub:      hub,
		channels: map[string]struct{}{ChannelStateChanged: {}},
		send:     make(chan []byte, 1),
	}
	hub.add(c)

	hub.StateChanged(device.State{DeviceID: "a"})
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d after first event, want 1", hub.ClientCount())
	}
	hub.StateChanged(device.State{DeviceID: "b"})
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d, want slow client dropped", hub.ClientCount())
	}

	// Queued frame is still drained, then the queue reports closed.
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send queue still open")
	}
}
