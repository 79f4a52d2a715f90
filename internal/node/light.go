package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/homesync/internal/protocol"
)

// LightNode applies mode commands to its outputs and echoes the applied mode.
//
// It starts in off and does not restore its previous mode. Once subscribed
// it announces itself with a startup status echo, to which the bridge may
// answer with the last known mode.
type LightNode struct {
	id      string
	outputs LightOutputs
	pub     Publisher
	logger  Logger

	mu   sync.Mutex
	mode protocol.LightMode
}

// NewLightNode creates a light. Outputs are driven to off by Run.
func NewLightNode(deviceID string, outputs LightOutputs, pub Publisher, logger Logger) *LightNode {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LightNode{
		id:      deviceID,
		outputs: outputs,
		pub:     pub,
		logger:  logger,
		mode:    protocol.LightOff,
	}
}

// Mode returns the applied mode.
func (l *LightNode) Mode() protocol.LightMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// CommandTopic is the topic HandleCommand must be subscribed to.
func (l *LightNode) CommandTopic() string {
	return protocol.Topics{}.ControlCommand(l.id)
}

// HandleCommand applies one command. Malformed commands and unknown modes
// are dropped without actuation or echo. Outputs change only when the mode
// does; the status echo is published for every accepted command.
func (l *LightNode) HandleCommand(_ string, payload []byte) error {
	cmd, err := protocol.DecodeLightCommand(payload)
	if err != nil {
		l.logger.Debug("dropping malformed light command", "error", err)
		return nil
	}
	if cmd.DeviceID != "" && cmd.DeviceID != l.id {
		l.logger.Debug("dropping light command for another device", "device_id", cmd.DeviceID)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cmd.Mode != l.mode {
		if err := l.outputs.Apply(cmd.Mode); err != nil {
			l.logger.Error("applying light mode failed", "mode", cmd.Mode, "error", err)
			return nil
		}
		l.logger.Info("light mode applied", "mode", cmd.Mode, "from", l.mode, "requested_by", cmd.RequestedBy)
		l.mode = cmd.Mode
	}

	return l.publishStatus(false)
}

// publishStatus echoes the applied mode. Callers hold l.mu.
func (l *LightNode) publishStatus(startup bool) error {
	data, err := protocol.Encode(protocol.LightStatus{DeviceID: l.id, Mode: l.mode, Startup: startup})
	if err != nil {
		return err
	}
	if err := l.pub.Publish(protocol.Topics{}.ControlStatus(l.id), data, 1, false); err != nil {
		l.logger.Warn("light status echo failed", "startup", startup, "error", err)
	}
	return nil
}

// Run drives the outputs to off, subscribes to commands, announces the
// startup status and blocks until ctx is cancelled.
func (l *LightNode) Run(ctx context.Context, sub Subscriber) error {
	l.mu.Lock()
	err := l.outputs.Apply(protocol.LightOff)
	l.mode = protocol.LightOff
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("initialising light outputs: %w", err)
	}

	if err := sub.Subscribe(l.CommandTopic(), 1, l.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	l.mu.Lock()
	err = l.publishStatus(true)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("announcing startup: %w", err)
	}
	l.logger.Info("light ready", "device_id", l.id)

	<-ctx.Done()
	return nil
}
