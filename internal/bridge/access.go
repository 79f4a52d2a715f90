package bridge

import (
	"context"
	"errors"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/protocol"
)

// evaluateAccess decides one AccessRequest from a door.
//
// The response is published on deviceID's response topic whether or not
// the state write succeeds. The allow-list lookup and the state write share
// one bridge.store_timeout deadline, so an unreachable store yields a denial
// before the door gives up. A failed write is logged and never turns a
// decision around.
func (b *Bridge) evaluateAccess(ctx context.Context, deviceID string, payload []byte) {
	req, err := protocol.DecodeAccessRequest(payload)
	if err != nil {
		b.logger.Debug("dropping malformed access request", "device_id", deviceID, "error", err)
		return
	}
	if req.DeviceID != deviceID {
		b.logger.Warn("dropping access request with mismatched device_id",
			"topic_device_id", deviceID, "payload_device_id", req.DeviceID)
		return
	}

	decideCtx, cancel := b.storeContext(ctx)
	credential, granted, reason := b.decide(decideCtx, req.Credential)
	decidedAt := b.now()

	if granted {
		b.granted.Add(1)
		b.recordEntry(decideCtx, deviceID, credential)
	} else {
		b.denied.Add(1)
	}
	cancel()

	resp := protocol.AccessResponse{
		DeviceID:     deviceID,
		Granted:      granted,
		Reason:       reason,
		RequestToken: req.RequestToken,
	}
	if err := b.publish(protocol.Topics{}.AccessResponse(deviceID), resp); err != nil {
		b.logger.Error("failed to publish access response",
			"device_id", deviceID, "request_token", req.RequestToken, "error", err)
	}

	b.logger.Info("access decided",
		"device_id", deviceID,
		"credential", credential,
		"granted", granted,
		"reason", reason,
		"request_token", req.RequestToken)

	ev := device.AccessEvent{
		DeviceID:     deviceID,
		Credential:   credential,
		Granted:      granted,
		Reason:       reason,
		RequestToken: req.RequestToken,
		DecidedAt:    decidedAt,
	}
	if b.events != nil {
		storeCtx, cancel := b.storeContext(ctx)
		if err := b.events.Record(storeCtx, ev); err != nil {
			b.logger.Warn("failed to record access event", "device_id", deviceID, "error", err)
		}
		cancel()
	}
	if b.timeSeries != nil {
		b.timeSeries.WriteAccessDecision(deviceID, granted, reason, decidedAt)
	}
	if b.notifier != nil {
		b.notifier.AccessDecided(ev)
	}
}

// decide normalises the credential and checks membership. Anything other
// than a confirmed member is a denial.
func (b *Bridge) decide(ctx context.Context, raw string) (credential string, granted bool, reason string) {
	credential = protocol.NormalizeCredential(raw)
	if !protocol.ValidCredential(credential) {
		return credential, false, protocol.ReasonInvalidCredential
	}

	ok, err := b.allowList.Contains(ctx, credential)
	if err != nil {
		b.logger.Warn("allow-list unavailable, denying", "error", err)
		return credential, false, protocol.ReasonAllowListUnavailable
	}
	if !ok {
		return credential, false, protocol.ReasonCredentialNotAllowed
	}
	return credential, true, protocol.ReasonCredentialAllowed
}

// recordEntry stores the settled door state after a grant: Locked, with the
// credential as last user. ctx carries the decision deadline.
func (b *Bridge) recordEntry(ctx context.Context, doorID, credential string) {
	st, err := b.states.Update(ctx, doorID, device.KindDoor, func(s *device.State) error {
		s.Status = device.StatusLocked
		s.LastUser = credential
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.logger.Warn("door state write timed out", "device_id", doorID)
		} else {
			b.logger.Error("failed to write door state", "device_id", doorID, "error", err)
		}
		return
	}
	b.notifyState(st)
}
