package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Feed transport types
const (
	TransportMemory = "memory" // In-process hub, single binary demo and tests
	TransportNATS   = "nats"   // NATS core subjects
)

// Notification sink types
const (
	SinkLog   = "log"
	SinkNATS  = "nats"
	SinkKafka = "kafka"
)

// SessionConfiguration identifies the signed-in user on this device
type SessionConfiguration struct {
	UserID      string   `toml:"user_id"`
	DeviceID    string   `toml:"device_id"`    // Defaults to a machine-derived id
	Foreground  bool     `toml:"foreground"`   // Initial visibility of the view
	MemberLists []string `toml:"member_lists"` // Lists the user belongs to
}

// FeedConfiguration controls the change-feed transport
type FeedConfiguration struct {
	Transport         string `toml:"transport"`
	NatsURL           string `toml:"nats_url"`
	SubjectPrefix     string `toml:"subject_prefix"`
	BufferSize        int    `toml:"buffer_size"`        // Per-subscription delivery buffer
	CompressThreshold int    `toml:"compress_threshold"` // Bytes; 0 disables compression
}

// NotificationConfiguration controls how notification intents leave the process
type NotificationConfiguration struct {
	Sink       string   `toml:"sink"`
	DedupTTLMS int      `toml:"dedup_ttl_ms"` // Local dedup window for sinks that do not coalesce by tag
	DedupSize  int      `toml:"dedup_size"`
	NatsURL    string   `toml:"nats_url"`
	Brokers    []string `toml:"brokers"`
	Topic      string   `toml:"topic"`
}

// PermissionConfiguration seeds the headless notification platform
type PermissionConfiguration struct {
	Initial string `toml:"initial"` // "default", "granted" or "denied"
}

// ReconcileConfiguration controls the list item store refetch
type ReconcileConfiguration struct {
	Driver     string `toml:"driver"` // "sqlite3" or "mysql"
	DSN        string `toml:"dsn"`
	TimeoutMS  int    `toml:"timeout_ms"`
	DebounceMS int    `toml:"debounce_ms"` // 0 disables coalescing
}

// AdminConfiguration for the HTTP control surface
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	DataDir string `toml:"data_dir"`

	Session       SessionConfiguration      `toml:"session"`
	Feed          FeedConfiguration         `toml:"feed"`
	Notifications NotificationConfiguration `toml:"notifications"`
	Permission    PermissionConfiguration   `toml:"permission"`
	Reconcile     ReconcileConfiguration    `toml:"reconcile"`
	Admin         AdminConfiguration        `toml:"admin"`
	Logging       LoggingConfiguration      `toml:"logging"`
	Prometheus    PrometheusConfiguration   `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	UserIDFlag     = flag.String("user-id", "", "Signed-in user id (overrides config)")
	NatsURLFlag    = flag.String("nats-url", "", "NATS URL for the change feed (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DataDir: "./listsync-data",

	Session: SessionConfiguration{
		Foreground: true,
	},

	Feed: FeedConfiguration{
		Transport:         TransportMemory,
		NatsURL:           "nats://127.0.0.1:4222",
		SubjectPrefix:     "shopwise",
		BufferSize:        64,
		CompressThreshold: 1024,
	},

	Notifications: NotificationConfiguration{
		Sink:       SinkLog,
		DedupTTLMS: 10000, // 10 seconds
		DedupSize:  1024,
		Topic:      "shopwise.notifications",
	},

	Permission: PermissionConfiguration{
		Initial: "default",
	},

	Reconcile: ReconcileConfiguration{
		Driver:     "sqlite3",
		DSN:        "file:listsync.db?cache=shared",
		TimeoutMS:  5000,
		DebounceMS: 0,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    8088,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *UserIDFlag != "" {
		Config.Session.UserID = *UserIDFlag
	}
	if *NatsURLFlag != "" {
		Config.Feed.NatsURL = *NatsURLFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.Session.DeviceID == "" {
		Config.Session.DeviceID = generateDeviceID()
		log.Info().Str("device_id", Config.Session.DeviceID).Msg("Auto-generated device ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateDeviceID derives a stable, app-scoped id from the machine id.
// Falls back to the hostname on platforms without a readable machine id.
func generateDeviceID() string {
	id, err := machineid.ProtectedID("listsync")
	if err == nil {
		return id[:16]
	}

	log.Warn().Err(err).Msg("Machine ID unavailable, deriving device ID from hostname")
	hostname, herr := os.Hostname()
	if herr != nil || hostname == "" {
		return "unknown-device"
	}
	return hostname
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Session.UserID == "" {
		return fmt.Errorf("session user_id is required")
	}

	switch Config.Feed.Transport {
	case TransportMemory:
	case TransportNATS:
		if Config.Feed.NatsURL == "" {
			return fmt.Errorf("nats transport requires feed.nats_url")
		}
	default:
		return fmt.Errorf("invalid feed transport: %s", Config.Feed.Transport)
	}

	if Config.Feed.SubjectPrefix == "" {
		return fmt.Errorf("feed subject prefix cannot be empty")
	}

	if Config.Feed.BufferSize < 1 {
		return fmt.Errorf("feed buffer size must be >= 1")
	}

	if Config.Feed.CompressThreshold < 0 {
		return fmt.Errorf("feed compress threshold must be >= 0")
	}

	switch Config.Notifications.Sink {
	case SinkLog:
	case SinkNATS:
		if Config.Notifications.NatsURL == "" && Config.Feed.NatsURL == "" {
			return fmt.Errorf("nats notification sink requires a nats_url")
		}
	case SinkKafka:
		if len(Config.Notifications.Brokers) == 0 {
			return fmt.Errorf("kafka notification sink requires at least one broker")
		}
		if Config.Notifications.Topic == "" {
			return fmt.Errorf("kafka notification sink requires a topic")
		}
	default:
		return fmt.Errorf("invalid notification sink: %s", Config.Notifications.Sink)
	}

	if Config.Notifications.DedupTTLMS < 0 {
		return fmt.Errorf("notification dedup TTL must be >= 0")
	}

	if Config.Notifications.DedupSize < 1 {
		return fmt.Errorf("notification dedup size must be >= 1")
	}

	switch Config.Permission.Initial {
	case "default", "granted", "denied":
	default:
		return fmt.Errorf("invalid initial permission: %s", Config.Permission.Initial)
	}

	switch Config.Reconcile.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("invalid reconcile driver: %s", Config.Reconcile.Driver)
	}

	if Config.Reconcile.TimeoutMS < 1 {
		return fmt.Errorf("reconcile timeout must be >= 1ms")
	}

	if Config.Reconcile.DebounceMS < 0 {
		return fmt.Errorf("reconcile debounce must be >= 0")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// NotificationNatsURL returns the NATS URL for the notification sink,
// falling back to the feed URL.
func NotificationNatsURL() string {
	if Config.Notifications.NatsURL != "" {
		return Config.Notifications.NatsURL
	}
	return Config.Feed.NatsURL
}

// IsAdminAuthEnabled reports whether admin endpoints require a secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
