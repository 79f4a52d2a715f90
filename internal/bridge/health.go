package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthStatus is the operational status of the bridge.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// Stats is a snapshot of bridge counters.
type Stats struct {
	Devices        int
	DevicesOnline  int
	AccessGranted  uint64
	AccessDenied   uint64
	Dropped        uint64
	AllowListAge   time.Duration
	TransportReady bool
}

// HealthMessage is published retained on the bridge's health topic.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Devices        int    `json:"devices"`
	DevicesOnline  int    `json:"devices_online"`
	AccessGranted  uint64 `json:"access_granted"`
	AccessDenied   uint64 `json:"access_denied"`
	Dropped        uint64 `json:"dropped"`
	AllowListAgeMS int64  `json:"allowlist_age_ms"`
}

// HealthPublisher publishes health messages. Typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Stats supplies counters for each report. Optional.
	Stats func() Stats

	// MaxAge is the allow-list snapshot age above which the bridge reports degraded.
	MaxAge time.Duration
}

// HealthReporter publishes the bridge's health periodically.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus(h.stats())
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) stats() Stats {
	if h.cfg.Stats == nil {
		return Stats{TransportReady: h.cfg.Publisher != nil && h.cfg.Publisher.IsConnected()}
	}
	return h.cfg.Stats()
}

// determineStatus evaluates the bridge's status from a stats snapshot.
func (h *HealthReporter) determineStatus(s Stats) (HealthStatus, string) {
	if !s.TransportReady {
		return HealthDegraded, "MQTT disconnected"
	}
	if s.AllowListAge < 0 {
		return HealthDegraded, "allow-list not loaded"
	}
	if h.cfg.MaxAge > 0 && s.AllowListAge > h.cfg.MaxAge {
		return HealthDegraded, "allow-list stale"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	s := h.stats()
	msg := HealthMessage{
		Bridge:         h.cfg.BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Reason:         reason,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		Devices:        s.Devices,
		DevicesOnline:  s.DevicesOnline,
		AccessGranted:  s.AccessGranted,
		AccessDenied:   s.AccessDenied,
		Dropped:        s.Dropped,
		AllowListAgeMS: s.AllowListAge.Milliseconds(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(h.cfg.BridgeID), payload, qosAtLeastOnce, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
