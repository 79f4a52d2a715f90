package bridge

import (
	"context"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/protocol"
)

// mirrorTelemetry writes a sensor sample through to the state store.
func (b *Bridge) mirrorTelemetry(ctx context.Context, deviceID string, payload []byte) {
	t, err := protocol.DecodeTelemetry(payload)
	if err != nil {
		b.logger.Debug("dropping malformed telemetry", "device_id", deviceID, "error", err)
		return
	}
	if t.DeviceID != deviceID {
		b.logger.Debug("dropping telemetry with mismatched device_id",
			"topic_device_id", deviceID, "payload_device_id", t.DeviceID)
		return
	}

	storeCtx, cancel := b.storeContext(ctx)
	defer cancel()

	st, err := b.states.Update(storeCtx, deviceID, device.KindSensor, func(s *device.State) error {
		s.Temperature = device.Float(t.Temperature)
		s.Humidity = device.Float(t.Humidity)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to write telemetry", "device_id", deviceID, "error", err)
	} else {
		b.notifyState(st)
	}

	if b.timeSeries != nil {
		b.timeSeries.WriteTelemetry(deviceID, t.Temperature, t.Humidity, b.now())
	}
}

// mirrorLightStatus writes a light's status echo through to the state store.
//
// last_user changes only when the mode actually changes, and only to the
// requester of the command for that mode; a change nobody requested keeps
// the previous last_user.
//
// A startup echo from a light that has just subscribed to commands is
// answered with a replay of the stored mode when bridge.replay_light_state
// is set and the modes differ; the store is left as it was.
func (b *Bridge) mirrorLightStatus(ctx context.Context, deviceID string, payload []byte) {
	status, err := protocol.DecodeLightStatus(payload)
	if err != nil {
		b.logger.Debug("dropping malformed light status", "device_id", deviceID, "error", err)
		return
	}
	if status.DeviceID != deviceID {
		b.logger.Debug("dropping light status with mismatched device_id",
			"topic_device_id", deviceID, "payload_device_id", status.DeviceID)
		return
	}

	if status.Startup && b.cfg.ReplayLightState && b.replayLightState(ctx, deviceID, status.Mode) {
		return
	}

	requester := b.takePending(deviceID, status.Mode)

	storeCtx, cancel := b.storeContext(ctx)
	defer cancel()

	changed := false
	st, err := b.states.Update(storeCtx, deviceID, device.KindLight, func(s *device.State) error {
		if s.Mode != status.Mode {
			changed = true
			s.Mode = status.Mode
			if requester != "" {
				s.LastUser = requester
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to write light status", "device_id", deviceID, "error", err)
		return
	}

	if changed {
		b.logger.Info("light mode changed", "device_id", deviceID, "mode", status.Mode, "by", requester)
		if b.timeSeries != nil {
			b.timeSeries.WriteLightMode(deviceID, string(status.Mode), st.UpdatedAt)
		}
	}
	b.notifyState(st)
}

// pendingCommand is a light command awaiting its status echo.
type pendingCommand struct {
	requester string
	mode      protocol.LightMode
}

func (b *Bridge) setPending(lightID, requester string, mode protocol.LightMode) {
	b.pendingMu.Lock()
	b.pending[lightID] = pendingCommand{requester: requester, mode: mode}
	b.pendingMu.Unlock()
}

// takePending returns the requester of the pending command for lightID if it
// asked for mode. Echoes of other modes leave the command pending.
func (b *Bridge) takePending(lightID string, mode protocol.LightMode) string {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	p, ok := b.pending[lightID]
	if !ok || p.mode != mode {
		return ""
	}
	delete(b.pending, lightID)
	return p.requester
}

func (b *Bridge) clearPending(lightID string) {
	b.pendingMu.Lock()
	delete(b.pending, lightID)
	b.pendingMu.Unlock()
}
