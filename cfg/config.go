package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SourceConfiguration controls the PostgreSQL logical replication host
type SourceConfiguration struct {
	DSN                   string `toml:"dsn"`         // Replication connection (replication=database is added if missing)
	CatalogDSN            string `toml:"catalog_dsn"` // Regular connection for pg_type lookups (defaults to dsn)
	Slot                  string `toml:"slot"`
	Publication           string `toml:"publication"`
	CreateSlot            bool   `toml:"create_slot"`
	TemporarySlot         bool   `toml:"temporary_slot"`
	CreatePublication     bool   `toml:"create_publication"`
	StandbyTimeoutSeconds int    `toml:"standby_timeout_seconds"`
	TypeCacheSize         int    `toml:"type_cache_size"`
}

// CaptureConfiguration controls recording of host callbacks
type CaptureConfiguration struct {
	Path     string `toml:"path"` // Empty disables capture
	Compress bool   `toml:"compress"`
}

// EncoderConfiguration holds the session options as name=value strings
type EncoderConfiguration struct {
	Options []string `toml:"options"`
}

// SinkConfiguration configures where encoded output is published
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "stdout", "file", "kafka" or "nats"
	Topic           string   `toml:"topic"`
	Path            string   `toml:"path"` // For file sink
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	NatsURL         string   `toml:"nats_url"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxAttempts     int      `toml:"max_attempts"` // 0 retries forever
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

// AdminConfiguration for the HTTP endpoint serving /metrics, /stats and /health
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Empty leaves /stats unauthenticated
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID uint64 `toml:"node_id"`

	Source     SourceConfiguration     `toml:"source"`
	Capture    CaptureConfiguration    `toml:"capture"`
	Encoder    EncoderConfiguration    `toml:"encoder"`
	Sink       SinkConfiguration       `toml:"sink"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// optionFlags collects repeated -o name=value flags
type optionFlags []string

func (o *optionFlags) String() string {
	return strings.Join(*o, ",")
}

func (o *optionFlags) Set(value string) error {
	*o = append(*o, value)
	return nil
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	ReplayFlag     = flag.String("replay", "", "Replay a capture file instead of connecting to PostgreSQL")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	OptionFlags    optionFlags
)

func init() {
	flag.Var(&OptionFlags, "o", "Encoder option name[=value] (repeatable, applied after config options)")
}

// Default configuration
var Config = &Configuration{
	NodeID: 0, // Auto-generate

	Source: SourceConfiguration{
		Publication:           "waljson",
		CreateSlot:            true,
		CreatePublication:     true,
		StandbyTimeoutSeconds: 10,
		TypeCacheSize:         1024,
	},

	Encoder: EncoderConfiguration{
		Options: []string{},
	},

	Sink: SinkConfiguration{
		Name:            "default",
		Type:            "stdout",
		Topic:           "waljson",
		RetryInitialMS:  100,
		RetryMaxMS:      30000,
		RetryMultiplier: 2.0,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
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

	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	Config.Encoder.Options = append(Config.Encoder.Options, OptionFlags...)

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if Config.Source.Slot == "" {
		Config.Source.Slot = fmt.Sprintf("waljson_%x", Config.NodeID&0xffffffff)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("waljson")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// EncoderOptions parses the configured encoder options
func (c *Configuration) EncoderOptions() (EncoderOptions, error) {
	return ParseOptions(ParseOptionStrings(c.Encoder.Options))
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate(*ReplayFlag != "")
}

// Validate checks the configuration. A replay run needs no source.
func (c *Configuration) Validate(replay bool) error {
	if !replay {
		if c.Source.DSN == "" {
			return fmt.Errorf("source dsn is required")
		}
		if c.Source.Slot == "" {
			return fmt.Errorf("replication slot name is required")
		}
		if c.Source.Publication == "" {
			return fmt.Errorf("publication name is required")
		}
		if c.Source.StandbyTimeoutSeconds < 1 {
			return fmt.Errorf("standby timeout must be >= 1 second")
		}
	}

	if c.Source.TypeCacheSize < 1 {
		return fmt.Errorf("type cache size must be >= 1")
	}

	if _, err := c.EncoderOptions(); err != nil {
		return fmt.Errorf("invalid encoder options: %w", err)
	}

	switch c.Sink.Type {
	case "stdout":
	case "file":
		if c.Sink.Path == "" {
			return fmt.Errorf("file sink requires path")
		}
	case "kafka":
		if len(c.Sink.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires brokers")
		}
	case "nats":
		if c.Sink.NatsURL == "" {
			return fmt.Errorf("nats sink requires nats_url")
		}
	default:
		return fmt.Errorf("unknown sink type: %s", c.Sink.Type)
	}

	if c.Sink.RetryInitialMS < 1 {
		return fmt.Errorf("sink retry initial backoff must be >= 1ms")
	}
	if c.Sink.RetryMaxMS < c.Sink.RetryInitialMS {
		return fmt.Errorf("sink retry max backoff must be >= initial backoff")
	}
	if c.Sink.RetryMultiplier < 1 {
		return fmt.Errorf("sink retry multiplier must be >= 1")
	}
	if c.Sink.MaxAttempts < 0 {
		return fmt.Errorf("sink max attempts must be >= 0")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}
