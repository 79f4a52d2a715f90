package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/protocol"
)

// RequestLightMode asks a light to change mode on behalf of a credential
// holder.
//
// If the light is linked to a door, only the door's last user (the person
// who last entered the room) may control it. Otherwise any allow-list member
// may. The command runs on the light's worker, so it is ordered with the
// light's status echoes.
//
// Returns ErrNotAuthorised if the credential may not control the light.
func (b *Bridge) RequestLightMode(ctx context.Context, lightID string, mode protocol.LightMode, credential string) error {
	info, ok := b.devices[lightID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, lightID)
	}
	if info.kind != device.KindLight {
		return fmt.Errorf("%w: %s is a %s", ErrWrongKind, lightID, info.kind)
	}
	if _, err := protocol.ParseLightMode(string(mode)); err != nil {
		return err
	}
	cred, err := protocol.ParseCredential(credential)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	if err := b.dispatcher.submit(lightID, func(ctx context.Context) {
		result <- b.commandLight(ctx, lightID, info.door, mode, cred)
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) commandLight(ctx context.Context, lightID, doorID string, mode protocol.LightMode, credential string) error {
	if err := b.authoriseLight(ctx, doorID, credential); err != nil {
		b.logger.Info("light command refused",
			"device_id", lightID, "credential", credential, "error", err)
		return err
	}

	b.setPending(lightID, credential, mode)
	cmd := protocol.LightCommand{Mode: mode, DeviceID: lightID, RequestedBy: credential}
	if err := b.publish(protocol.Topics{}.ControlCommand(lightID), cmd); err != nil {
		b.clearPending(lightID)
		return fmt.Errorf("publishing light command: %w", err)
	}

	b.logger.Info("light command sent", "device_id", lightID, "mode", mode, "by", credential)
	return nil
}

func (b *Bridge) authoriseLight(ctx context.Context, doorID, credential string) error {
	storeCtx, cancel := b.storeContext(ctx)
	defer cancel()

	if doorID == "" {
		ok, err := b.allowList.Contains(storeCtx, credential)
		if err != nil {
			return fmt.Errorf("%w: allow-list unavailable: %v", ErrNotAuthorised, err)
		}
		if !ok {
			return fmt.Errorf("%w: credential not allowed", ErrNotAuthorised)
		}
		return nil
	}

	door, err := b.states.Get(storeCtx, doorID)
	if errors.Is(err, device.ErrNotFound) {
		return fmt.Errorf("%w: nobody has entered through %s", ErrNotAuthorised, doorID)
	}
	if err != nil {
		return fmt.Errorf("reading door state: %w", err)
	}
	if door.LastUser != credential {
		return fmt.Errorf("%w: not the last user of %s", ErrNotAuthorised, doorID)
	}
	return nil
}

// replayLightState re-sends a light's stored mode after the light announces
// it has started in reported. It reports whether a command was sent.
func (b *Bridge) replayLightState(ctx context.Context, lightID string, reported protocol.LightMode) bool {
	storeCtx, cancel := b.storeContext(ctx)
	defer cancel()

	st, err := b.states.Get(storeCtx, lightID)
	if err != nil {
		if !errors.Is(err, device.ErrNotFound) {
			b.logger.Warn("light replay skipped", "device_id", lightID, "error", err)
		}
		return false
	}
	if st.Mode == "" || st.Mode == reported {
		return false
	}

	cmd := protocol.LightCommand{Mode: st.Mode, DeviceID: lightID}
	if err := b.publish(protocol.Topics{}.ControlCommand(lightID), cmd); err != nil {
		b.logger.Warn("light replay failed", "device_id", lightID, "error", err)
		return false
	}
	b.logger.Info("light state replayed", "device_id", lightID, "mode", st.Mode)
	return true
}
