package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Device kinds recognised in the devices section.
const (
	KindDoor   = "door"
	KindSensor = "sensor"
	KindLight  = "light"
)

// Allow-list backends.
const (
	AllowListBackendSQLite = "sqlite"
	AllowListBackendRedis  = "redis"
)

// Config is the whole of config.yaml. Every process of a deployment reads
// the same file and uses the sections relevant to its role.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	AllowList AllowListConfig `yaml:"allow_list"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Door      DoorConfig      `yaml:"door"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Light     LightConfig     `yaml:"light"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
//
// InitialDelay and MaxDelay are in seconds. MaxAttempts bounds the initial
// connect loop used by nodes; 0 means retry until the context is cancelled.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains Redis connection settings for the redis allow-list backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// AllowListConfig selects the allow-list backend and its cache behaviour.
type AllowListConfig struct {
	// Backend is "sqlite" (default) or "redis".
	Backend string `yaml:"backend"`

	// RefreshInterval is how often the bridge reloads its allow-list snapshot.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// MaxStaleness is the oldest snapshot the bridge will decide against.
	// Past this age a synchronous reload is attempted and access is denied if it fails.
	MaxStaleness time.Duration `yaml:"max_staleness"`

	// Seed lists credentials added to the store at bridge startup.
	Seed []string `yaml:"seed"`
}

// BridgeConfig contains SyncBridge settings.
type BridgeConfig struct {
	ID               string        `yaml:"id"`
	QueueSize        int           `yaml:"queue_size"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	ReplayLightState bool          `yaml:"replay_light_state"`
	EventRetention   time.Duration `yaml:"event_retention"`
}

// DeviceConfig declares one device the bridge serves.
type DeviceConfig struct {
	ID   string `yaml:"device_id"`
	Kind string `yaml:"kind"`

	// Door links a light to the door whose last user occupies the room.
	Door string `yaml:"door,omitempty"`
}

// SerialConfig describes a UART-attached peripheral.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DoorConfig contains DoorNode settings.
type DoorConfig struct {
	DeviceID        string        `yaml:"device_id"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Dwell           time.Duration `yaml:"dwell"`
	DeniedHold      time.Duration `yaml:"denied_hold"`
	Reader          SerialConfig  `yaml:"reader"`
}

// SensorConfig contains SensorNode settings.
type SensorConfig struct {
	DeviceID string        `yaml:"device_id"`
	Interval time.Duration `yaml:"interval"`
	Serial   SerialConfig  `yaml:"serial"`
}

// LightConfig contains LightNode settings.
type LightConfig struct {
	DeviceID string `yaml:"device_id"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// RedactCredentials masks all but the last four digits of any
	// "credential" attribute.
	RedactCredentials bool `yaml:"redact_credentials"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads path over the built-in defaults, applies HOMESYNC_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "home",
			Name: "Home",
		},
		Database: DatabaseConfig{
			Path:        "./data/homesync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homesync-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			Key:  "homesync:allowlist",
		},
		AllowList: AllowListConfig{
			Backend:         AllowListBackendSQLite,
			RefreshInterval: 2 * time.Second,
			MaxStaleness:    6 * time.Second,
		},
		Bridge: BridgeConfig{
			ID:               "bridge",
			QueueSize:        32,
			StoreTimeout:     2 * time.Second,
			HealthInterval:   30 * time.Second,
			ReplayLightState: true,
			EventRetention:   30 * 24 * time.Hour,
		},
		Door: DoorConfig{
			DeviceID:        "door_lock",
			ResponseTimeout: 5 * time.Second,
			Dwell:           3 * time.Second,
			DeniedHold:      1500 * time.Millisecond,
			Reader: SerialConfig{
				BaudRate:    115200,
				ReadTimeout: 500 * time.Millisecond,
			},
		},
		Sensor: SensorConfig{
			DeviceID: "room_sensor",
			Interval: 10 * time.Second,
			Serial: SerialConfig{
				BaudRate:    115200,
				ReadTimeout: 2 * time.Second,
			},
		},
		Light: LightConfig{
			DeviceID: "room_control",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// envOverrides maps HOMESYNC_* variables onto string settings. Secrets
// belong here rather than in the YAML file.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"HOMESYNC_DATABASE_PATH":      &cfg.Database.Path,
		"HOMESYNC_MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"HOMESYNC_MQTT_CLIENT_ID":     &cfg.MQTT.Broker.ClientID,
		"HOMESYNC_MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"HOMESYNC_MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"HOMESYNC_INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"HOMESYNC_REDIS_ADDR":         &cfg.Redis.Addr,
		"HOMESYNC_REDIS_PASSWORD":     &cfg.Redis.Password,
		"HOMESYNC_ALLOW_LIST_BACKEND": &cfg.AllowList.Backend,
		"HOMESYNC_JWT_SECRET":         &cfg.Security.JWT.Secret,
	}
}

// applyEnvOverrides replaces settings whose environment variable is set and
// non-empty. An unparsable HOMESYNC_MQTT_PORT is ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("HOMESYNC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	switch c.AllowList.Backend {
	case AllowListBackendSQLite:
	case AllowListBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis allow-list backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("allow_list.backend %q must be sqlite or redis", c.AllowList.Backend))
	}
	if c.AllowList.RefreshInterval <= 0 {
		errs = append(errs, "allow_list.refresh_interval must be positive")
	}
	if c.AllowList.MaxStaleness < c.AllowList.RefreshInterval {
		errs = append(errs, "allow_list.max_staleness must not be shorter than refresh_interval")
	}

	if c.Bridge.QueueSize < 1 {
		errs = append(errs, "bridge.queue_size must be at least 1")
	}
	if c.Door.ResponseTimeout > 0 && c.Bridge.StoreTimeout >= c.Door.ResponseTimeout {
		errs = append(errs, "bridge.store_timeout must be shorter than door.response_timeout")
	}

	errs = append(errs, c.validateDevices()...)

	if c.Door.ResponseTimeout <= 0 || c.Door.Dwell <= 0 || c.Door.DeniedHold <= 0 {
		errs = append(errs, "door timings must be positive")
	}
	if c.Sensor.Interval <= 0 {
		errs = append(errs, "sensor.interval must be positive")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		errs = append(errs, c.validateJWT()...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	kinds := make(map[string]string, len(c.Devices))

	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id is required", i))
			continue
		}
		if strings.ContainsAny(d.ID, "/+#") {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q must not contain topic separators", i, d.ID))
		}
		if _, dup := kinds[d.ID]; dup {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q is duplicated", i, d.ID))
		}
		switch d.Kind {
		case KindDoor, KindSensor, KindLight:
		default:
			errs = append(errs, fmt.Sprintf("devices[%d].kind %q must be door, sensor, or light", i, d.Kind))
		}
		kinds[d.ID] = d.Kind
	}

	for i, d := range c.Devices {
		if d.Door == "" {
			continue
		}
		if d.Kind != KindLight {
			errs = append(errs, fmt.Sprintf("devices[%d].door is only valid for lights", i))
		} else if kinds[d.Door] != KindDoor {
			errs = append(errs, fmt.Sprintf("devices[%d].door %q is not a configured door", i, d.Door))
		}
	}

	return errs
}

// ValidateJWT checks the signing secret needed by the API and token command.
func (c *Config) ValidateJWT() error {
	if errs := c.validateJWT(); len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateJWT() []string {
	const minJWTSecretLength = 32
	switch {
	case c.Security.JWT.Secret == "":
		return []string{"security.jwt.secret is required (set HOMESYNC_JWT_SECRET environment variable)"}
	case len(c.Security.JWT.Secret) < minJWTSecretLength:
		return []string{"security.jwt.secret must be at least 32 characters"}
	}
	return nil
}

// ReadTimeout is Read in seconds as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

// WriteTimeout is Write in seconds as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

// IdleTimeout is Idle in seconds as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
