package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// connectFunc is replaced in tests.
var connectFunc = Connect

// ConnectWithRetry connects to the broker, retrying with exponential backoff.
//
// Nodes call this from their run loop before doing any other work: while it
// blocks, no requests are sent and no commands are applied. Delays start at
// cfg.Reconnect.InitialDelay and double up to cfg.Reconnect.MaxDelay. After
// cfg.Reconnect.MaxAttempts failures (0 means unbounded) the last error is
// returned so the caller can decide whether to start another round.
//
// Once connected, paho's own auto-reconnect takes over for later drops.
//
// Parameters:
//   - ctx: Cancels the retry loop
//   - cfg: MQTT configuration
//   - logger: Receives a warning per failed attempt (may be nil)
//
// Returns:
//   - *Client: Connected client
//   - error: Wrapped ErrConnectionFailed after the attempt budget, or ctx error
func ConnectWithRetry(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	b := newBackoff(cfg.Reconnect)
	var lastErr error

	for attempt := 1; ; attempt++ {
		client, err := connectFunc(ctx, cfg)
		if err == nil {
			if logger != nil {
				client.SetLogger(logger)
			}
			return client, nil
		}
		lastErr = err

		if cfg.Reconnect.MaxAttempts > 0 && attempt >= cfg.Reconnect.MaxAttempts {
			return nil, fmt.Errorf("%w: gave up after %d attempts: %w", ErrConnectionFailed, attempt, lastErr)
		}

		delay := b.next()
		if logger != nil {
			logger.Warn("MQTT connect failed, retrying",
				"attempt", attempt,
				"retry_in", delay.String(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mqtt connect: %w", ctx.Err())
		case <-timeAfter(delay):
		}
	}
}

// backoff yields exponentially growing delays capped at max.
type backoff struct {
	current time.Duration
	max     time.Duration
}

func newBackoff(cfg config.MQTTReconnectConfig) *backoff {
	initial := time.Duration(cfg.InitialDelay) * time.Second
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := time.Duration(cfg.MaxDelay) * time.Second
	if maxDelay < initial {
		maxDelay = initial
	}
	return &backoff{current: initial, max: maxDelay}
}

func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}
