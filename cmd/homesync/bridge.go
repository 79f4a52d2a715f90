package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/homesync/internal/allowlist"
	"github.com/nerrad567/homesync/internal/api"
	"github.com/nerrad567/homesync/internal/bridge"
	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/database"
	"github.com/nerrad567/homesync/internal/infrastructure/influxdb"
	"github.com/nerrad567/homesync/internal/infrastructure/logging"
	"github.com/nerrad567/homesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homesync/migrations"
)

func newBridgeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run the SyncBridge",
		Long: `Run the SyncBridge: decide access requests against the allow-list,
mirror telemetry and light status into the device state store, and serve
the dashboard API when api.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load("bridge")
			if err != nil {
				return err
			}
			return runBridge(cmd.Context(), cfg, log)
		},
	}
}

// runBridge builds every bridge component, waits for ctx, then shuts down
// in reverse order.
func runBridge(ctx context.Context, cfg *config.Config, log *logging.Logger) error { //nolint:gocognit,gocyclo // startup sequence
	log.Info("starting homesync bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	states := device.NewSQLiteStateStore(db.DB)
	for _, d := range cfg.Devices {
		if err := states.Ensure(ctx, d.ID, device.Kind(d.Kind)); err != nil {
			return fmt.Errorf("registering device %s: %w", d.ID, err)
		}
	}
	log.Info("devices registered", "devices", len(cfg.Devices))

	store, closeStore, err := openAllowList(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	if len(cfg.AllowList.Seed) > 0 {
		n, seedErr := allowlist.Seed(ctx, store, cfg.AllowList.Seed)
		if seedErr != nil {
			return fmt.Errorf("seeding allow-list: %w", seedErr)
		}
		log.Info("allow-list seeded", "credentials", n)
	}

	cache := allowlist.NewCache(store, cfg.AllowList)
	cache.SetLogger(log.Component("allowlist"))

	// Background workers stop when bgCtx is cancelled, after the bridge.
	bgCtx, cancelBg := context.WithCancel(ctx)
	var bg sync.WaitGroup
	defer func() {
		cancelBg()
		bg.Wait()
	}()
	bg.Add(1)
	go func() {
		defer bg.Done()
		cache.Run(bgCtx)
	}()

	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, log.Component("mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// A nil *influxdb.Client must not reach the bridge as a non-nil interface.
	var timeSeries bridge.TimeSeries
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		timeSeries = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var notifier bridge.Notifier
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		notifier = hub
		bg.Add(1)
		go func() {
			defer bg.Done()
			hub.Run(bgCtx)
		}()
	}

	b, err := bridge.New(bridge.Options{
		Config:     cfg,
		Transport:  mqttClient,
		AllowList:  cache,
		States:     states,
		Events:     device.NewSQLiteAccessEventRepository(db.DB),
		TimeSeries: timeSeries,
		Notifier:   notifier,
		Logger:     log.Component("bridge"),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log.Component("api"),
			States:    states,
			AllowList: store,
			Lights:    b,
			Hub:       hub,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := srv.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("database ready", "path", cfg.Database.Path)
	return db, nil
}

// openAllowList returns the configured allow-list backend and its cleanup.
func openAllowList(ctx context.Context, cfg *config.Config, db *database.DB) (allowlist.Store, func(), error) {
	switch cfg.AllowList.Backend {
	case config.AllowListBackendRedis:
		rs := allowlist.NewRedisStore(cfg.Redis)
		if err := rs.Ping(ctx); err != nil {
			rs.Close() //nolint:errcheck // best effort on error path
			return nil, nil, fmt.Errorf("connecting to redis allow-list: %w", err)
		}
		return rs, func() { rs.Close() }, nil //nolint:errcheck // shutdown path
	default:
		return allowlist.NewSQLiteStore(db.DB), func() {}, nil
	}
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
