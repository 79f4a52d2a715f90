package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homesync/internal/protocol"
)

// qosAtLeastOnce is used for every bridge subscription and publish.
const qosAtLeastOnce = 1

// pruneInterval is how often old access events are removed.
const pruneInterval = time.Hour

// defaultDrainTimeout is how long Stop lets queued work finish before
// cancelling it.
const defaultDrainTimeout = 5 * time.Second

// deviceInfo is the static description of one configured device.
type deviceInfo struct {
	kind device.Kind

	// door is the linked door for a light, if any.
	door string
}

// Bridge is the SyncBridge: it decides access requests against the
// allow-list and mirrors every device's state into the state store.
//
// Inbound messages are routed to a per-device worker, so messages about one
// device are handled strictly in arrival order while different devices are
// handled concurrently. Responses are always published on the response
// topic of the device named in the request topic.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       config.BridgeConfig
	transport Transport
	allowList AllowList
	states    device.StateStore

	events     device.AccessEventRepository // optional
	timeSeries TimeSeries                   // optional
	notifier   Notifier                     // optional

	devices    map[string]deviceInfo
	dispatcher *dispatcher
	health     *HealthReporter
	logger     Logger
	now        func() time.Time

	drainTimeout time.Duration

	// Pending light commands, consumed by the status echo of the commanded mode.
	pendingMu sync.Mutex
	pending   map[string]pendingCommand

	presenceMu sync.RWMutex
	online     map[string]bool

	granted atomic.Uint64
	denied  atomic.Uint64

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// Options holds the dependencies for New.
type Options struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Transport is the broker connection. Required.
	Transport Transport

	// AllowList decides membership. Required.
	AllowList AllowList

	// States persists device state. Required.
	States device.StateStore

	// Events records access decisions. Optional.
	Events device.AccessEventRepository

	// TimeSeries mirrors samples for trending. Optional.
	TimeSeries TimeSeries

	// Notifier receives live updates. Optional.
	Notifier Notifier

	// Logger is optional.
	Logger Logger

	// Version is reported in health messages.
	Version string
}

// New creates a bridge. Call Start to begin processing.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.AllowList == nil {
		return nil, fmt.Errorf("allow-list is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("state store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	devices := make(map[string]deviceInfo, len(opts.Config.Devices))
	ids := make([]string, 0, len(opts.Config.Devices))
	for _, d := range opts.Config.Devices {
		devices[d.ID] = deviceInfo{kind: device.Kind(d.Kind), door: d.Door}
		ids = append(ids, d.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config.Bridge,
		transport:  opts.Transport,
		allowList:  opts.AllowList,
		states:     opts.States,
		events:     opts.Events,
		timeSeries: opts.TimeSeries,
		notifier:   opts.Notifier,
		devices:    devices,
		dispatcher: newDispatcher(ids, opts.Config.Bridge.QueueSize),
		logger:     logger,
		now:        time.Now,
		pending:    make(map[string]pendingCommand),
		online:     make(map[string]bool),
		ctx:        ctx,
		ctxCancel:  cancel,

		drainTimeout: defaultDrainTimeout,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.Bridge.HealthInterval,
		Publisher: opts.Transport,
		Stats:     b.stats,
		MaxAge:    opts.Config.AllowList.MaxStaleness,
	})
	b.health.SetLogger(logger)

	return b, nil
}

// Start subscribes to device topics and starts the workers.
//
// Subscriptions are restored by the transport after a reconnect, so Start
// is called once per process.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.dispatcher.start(b.ctx)

	topics := protocol.Topics{}
	subs := []string{
		topics.AllAccessRequests(),
		topics.AllTelemetry(),
		topics.AllControlStatus(),
		mqtt.Topics{}.AllPresence(),
	}
	for _, topic := range subs {
		if err := b.transport.Subscribe(topic, qosAtLeastOnce, b.handleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Debug("subscribed", "topic", topic)
	}

	b.health.Start(ctx)

	if b.events != nil && b.cfg.EventRetention > 0 {
		b.wg.Add(1)
		go b.pruneLoop()
	}

	b.logger.Info("bridge started",
		"bridge_id", b.cfg.ID,
		"devices", len(b.devices))
	return nil
}

// Stop finishes queued work and shuts the bridge down. Work still running
// after the drain timeout is cancelled.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if !b.dispatcher.stop(b.drainTimeout, b.ctxCancel) {
			b.logger.Warn("queued work cancelled at shutdown", "drain_timeout", b.drainTimeout.String())
		}
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// handleMessage routes one inbound message to its device's worker.
// It never returns an error for bad input: malformed and unknown messages
// are dropped.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	if clientID, ok := mqtt.PresenceClientID(topic); ok {
		b.handlePresence(clientID, payload)
		return nil
	}

	route, err := protocol.ParseTopic(topic)
	if err != nil {
		b.logger.Debug("dropping message on unknown topic", "topic", topic)
		return nil
	}

	info, ok := b.devices[route.DeviceID]
	if !ok {
		b.logger.Debug("dropping message for unknown device", "topic", topic)
		return nil
	}

	var want device.Kind
	var handle func(ctx context.Context, deviceID string, payload []byte)
	switch route.Kind {
	case protocol.RouteAccessRequest:
		want, handle = device.KindDoor, b.evaluateAccess
	case protocol.RouteTelemetry:
		want, handle = device.KindSensor, b.mirrorTelemetry
	case protocol.RouteControlStatus:
		want, handle = device.KindLight, b.mirrorLightStatus
	default:
		return nil
	}
	if info.kind != want {
		b.logger.Debug("dropping message for wrong device kind",
			"topic", topic, "kind", info.kind)
		return nil
	}

	data := append([]byte(nil), payload...)
	deviceID := route.DeviceID
	if err := b.dispatcher.submit(deviceID, func(ctx context.Context) {
		handle(ctx, deviceID, data)
	}); err != nil {
		b.logger.Warn("dropping message", "device_id", deviceID, "topic", topic, "error", err)
	}
	return nil
}

// handlePresence tracks node liveness. Light state is replayed from the
// light's startup status echo, which is only sent once the light is
// subscribed to commands.
func (b *Bridge) handlePresence(clientID string, payload []byte) {
	if _, ok := b.devices[clientID]; !ok {
		return
	}

	p, err := mqtt.ParsePresence(payload)
	if err != nil {
		b.logger.Debug("dropping malformed presence", "client_id", clientID, "error", err)
		return
	}

	online := p.Status == mqtt.StatusOnline
	b.presenceMu.Lock()
	was := b.online[clientID]
	b.online[clientID] = online
	b.presenceMu.Unlock()

	if online != was {
		b.logger.Info("node presence changed", "device_id", clientID, "online", online)
	}
}

// Online reports whether a device's node last announced itself online.
func (b *Bridge) Online(deviceID string) bool {
	b.presenceMu.RLock()
	defer b.presenceMu.RUnlock()
	return b.online[deviceID]
}

// storeContext bounds a state store call so the access response is never
// delayed past the door's timeout.
func (b *Bridge) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.StoreTimeout)
}

// publish encodes and publishes a wire message.
func (b *Bridge) publish(topic string, msg any) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return b.transport.Publish(topic, payload, qosAtLeastOnce, false)
}

func (b *Bridge) notifyState(st device.State) {
	if b.notifier != nil {
		b.notifier.StateChanged(st)
	}
}

func (b *Bridge) pruneLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := b.events.Prune(b.ctx, b.cfg.EventRetention)
		switch {
		case err != nil && b.ctx.Err() == nil:
			b.logger.Warn("access event pruning failed", "error", err)
		case n > 0:
			b.logger.Info("pruned access events", "count", n)
		}

		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stats snapshots counters for the health reporter.
func (b *Bridge) stats() Stats {
	b.presenceMu.RLock()
	online := 0
	for _, up := range b.online {
		if up {
			online++
		}
	}
	b.presenceMu.RUnlock()

	return Stats{
		Devices:        len(b.devices),
		DevicesOnline:  online,
		AccessGranted:  b.granted.Load(),
		AccessDenied:   b.denied.Load(),
		Dropped:        b.dispatcher.dropped.Load(),
		AllowListAge:   b.allowList.Age(),
		TransportReady: b.transport.IsConnected(),
	}
}
