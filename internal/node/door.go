package node

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/protocol"
)

// doorEventBuffer bounds tokens and responses waiting for the event loop.
const doorEventBuffer = 8

// DoorState is the door's position in the access exchange.
type DoorState int32

// Door states.
const (
	DoorIdle DoorState = iota
	DoorRequestSent
	DoorActuating
	DoorDenied
)

func (s DoorState) String() string {
	switch s {
	case DoorIdle:
		return "idle"
	case DoorRequestSent:
		return "request_sent"
	case DoorActuating:
		return "actuating"
	case DoorDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// doorEvent is either a presented token or a received response.
type doorEvent struct {
	token    string
	response *protocol.AccessResponse
}

// DoorNode is the access-request client.
//
// All state is owned by the Run loop. PresentToken and HandleResponse only
// queue events, so they are safe to call from any goroutine.
//
//	Idle ──token──▶ RequestSent ──granted──▶ Actuating ──dwell──▶ Idle
//	                     │
//	                     └─denied/timeout──▶ Denied ──hold──▶ Idle
type DoorNode struct {
	id      string
	cfg     config.DoorConfig
	pub     Publisher
	lock    Lock
	display Display
	clock   Clock
	logger  Logger

	events chan doorEvent
	state  atomic.Int32

	// Loop-owned.
	token    uint64
	unlocked bool
	timer    <-chan time.Time
}

// DoorOptions holds the dependencies for NewDoorNode.
type DoorOptions struct {
	Config    config.DoorConfig
	Publisher Publisher
	Lock      Lock
	Display   Display

	// Clock defaults to the wall clock.
	Clock  Clock
	Logger Logger
}

// NewDoorNode creates a door. Call Run to start it.
func NewDoorNode(opts DoorOptions) *DoorNode {
	d := &DoorNode{
		id:      opts.Config.DeviceID,
		cfg:     opts.Config,
		pub:     opts.Publisher,
		lock:    opts.Lock,
		display: opts.Display,
		clock:   opts.Clock,
		logger:  opts.Logger,
		events:  make(chan doorEvent, doorEventBuffer),
	}
	if d.clock == nil {
		d.clock = realClock{}
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	return d
}

// State returns the current state.
func (d *DoorNode) State() DoorState {
	return DoorState(d.state.Load())
}

// ResponseTopic is the topic HandleResponse must be subscribed to.
func (d *DoorNode) ResponseTopic() string {
	return protocol.Topics{}.AccessResponse(d.id)
}

// PresentToken reports a token presented at the reader.
// Presentations while a request or actuation is in progress are ignored.
func (d *DoorNode) PresentToken(raw string) {
	select {
	case d.events <- doorEvent{token: raw}:
	default:
		d.logger.Warn("door busy, token dropped")
	}
}

// HandleResponse is the message handler for the door's response topic.
// Malformed payloads are dropped.
func (d *DoorNode) HandleResponse(_ string, payload []byte) error {
	resp, err := protocol.DecodeAccessResponse(payload)
	if err != nil {
		d.logger.Debug("dropping malformed access response", "error", err)
		return nil
	}
	select {
	case d.events <- doorEvent{response: &resp}:
	default:
		d.logger.Warn("door busy, response dropped", "request_token", resp.RequestToken)
	}
	return nil
}

// Run drives the door until ctx is cancelled. The lock is driven to the
// locked position on entry and on exit.
func (d *DoorNode) Run(ctx context.Context) error {
	d.setLocked(true, true)
	d.enterIdle()
	d.logger.Info("door ready", "device_id", d.id)

	for {
		select {
		case <-ctx.Done():
			d.setLocked(true, false)
			return nil
		case ev := <-d.events:
			if ev.response != nil {
				d.onResponse(*ev.response)
			} else {
				d.onToken(ev.token)
			}
		case <-d.timer:
			d.onTimer()
		}
	}
}

func (d *DoorNode) onToken(raw string) {
	if state := d.State(); state != DoorIdle {
		d.logger.Debug("token ignored", "state", state)
		return
	}

	credential := protocol.NormalizeCredential(raw)
	if credential == "" {
		d.logger.Debug("token ignored, no credential digits")
		return
	}

	d.token++
	now := d.clock.Now().UTC()
	req := protocol.AccessRequest{
		DeviceID:     d.id,
		Credential:   credential,
		Action:       protocol.ActionUnlockRequest,
		RequestToken: d.token,
		RequestTime:  &now,
	}

	payload, err := protocol.Encode(req)
	if err == nil {
		err = d.pub.Publish(protocol.Topics{}.AccessRequest(d.id), payload, 1, false)
	}
	if err != nil {
		d.logger.Error("access request not sent", "error", err)
		d.enterDenied(protocol.ReasonTransportError)
		return
	}

	d.logger.Info("access requested", "credential", credential, "request_token", d.token)
	d.display.ShowWaiting()
	d.timer = d.clock.After(d.cfg.ResponseTimeout)
	d.setState(DoorRequestSent)
}

func (d *DoorNode) onResponse(resp protocol.AccessResponse) {
	if d.State() != DoorRequestSent || resp.DeviceID != d.id || resp.RequestToken != d.token {
		d.logger.Debug("stale access response discarded",
			"request_token", resp.RequestToken, "current_token", d.token, "state", d.State())
		return
	}

	if !resp.Granted {
		d.enterDenied(resp.Reason)
		return
	}

	d.logger.Info("access granted", "request_token", resp.RequestToken)
	d.setLocked(false, false)
	d.display.ShowGranted()
	d.timer = d.clock.After(d.cfg.Dwell)
	d.setState(DoorActuating)
}

func (d *DoorNode) onTimer() {
	switch d.State() {
	case DoorRequestSent:
		d.logger.Warn("access response timed out", "request_token", d.token)
		d.enterDenied(protocol.ReasonTimeout)
	case DoorActuating:
		d.setLocked(true, false)
		d.enterIdle()
	case DoorDenied:
		d.enterIdle()
	default:
		d.timer = nil
	}
}

func (d *DoorNode) enterIdle() {
	d.timer = nil
	d.display.ShowReady()
	d.setState(DoorIdle)
}

func (d *DoorNode) enterDenied(reason string) {
	d.logger.Info("access denied", "reason", reason, "request_token", d.token)
	d.display.ShowDenied(reason)
	d.timer = d.clock.After(d.cfg.DeniedHold)
	d.setState(DoorDenied)
}

// setLocked drives the actuator only when its position changes, unless force is set.
func (d *DoorNode) setLocked(locked, force bool) {
	if !force && d.unlocked == !locked {
		return
	}

	var err error
	if locked {
		err = d.lock.Lock()
	} else {
		err = d.lock.Unlock()
	}
	if err != nil {
		d.logger.Error("actuator failed", "locked", locked, "error", err)
	}
	d.unlocked = !locked
}

// setState is called last in every transition, so observers that see the
// new state also see its side effects.
func (d *DoorNode) setState(s DoorState) {
	d.state.Store(int32(s))
}

// PumpTokens feeds tokens from r into the door until ctx is cancelled or r
// returns an error other than ErrNoToken.
func PumpTokens(ctx context.Context, r TokenReader, d *DoorNode) error {
	for ctx.Err() == nil {
		tok, err := r.ReadToken()
		switch {
		case err == nil:
			d.PresentToken(tok)
		case errors.Is(err, ErrNoToken):
		default:
			return err
		}
	}
	return nil
}
