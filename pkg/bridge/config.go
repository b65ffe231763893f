// Package bridge assembles the device bridge: an uplink pipeline carrying
// decoded device replies from MQTT to Pub/Sub, and a downlink pipeline carrying
// commands from Pub/Sub to devices, routed through their gateways.
package bridge

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/illmade-knight/go-devicebridge/pkg/microservice"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttconverter"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog/log"
)

// Session store backends.
const (
	SessionBackendMemory    = "memory"
	SessionBackendRedis     = "redis"
	SessionBackendFirestore = "firestore"
)

// Event archive sinks.
const (
	ArchiveSinkBigQuery = "bigquery"
	ArchiveSinkGCS      = "gcs"
)

// Environment overrides for the bridge settings.
const (
	EnvRepliesTopicID         = "PUBSUB_REPLIES_TOPIC_ID"
	EnvCommandsSubscriptionID = "PUBSUB_COMMANDS_SUBSCRIPTION_ID"
	EnvUplinkWorkers          = "UPLINK_NUM_WORKERS"
	EnvDownlinkWorkers        = "DOWNLINK_NUM_WORKERS"
	EnvSessionBackend         = "SESSION_BACKEND"
	EnvRedisAddr              = "REDIS_ADDR"
	EnvRedisPassword          = "REDIS_PASSWORD"
	EnvFirestoreCollection    = "FIRESTORE_COLLECTION"
	EnvArchiveEnabled         = "ARCHIVE_ENABLED"
	EnvArchiveSink            = "ARCHIVE_SINK"
)

// Config is the complete configuration of the device bridge.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	MQTT     mqttconverter.MQTTClientConfig `yaml:"mqtt"`
	Codec    mqttcodec.Config               `yaml:"codec"`
	Uplink   UplinkConfig                   `yaml:"uplink"`
	Downlink DownlinkConfig                 `yaml:"downlink"`
	Sessions SessionConfig                  `yaml:"sessions"`
	Archive  ArchiveConfig                  `yaml:"archive"`
}

// UplinkConfig configures the device to Pub/Sub pipeline.
type UplinkConfig struct {
	RepliesTopicID string `yaml:"replies_topic_id"`
	NumWorkers     int    `yaml:"num_workers"`
	// Payloads outside [MinPayloadBytes, MaxPayloadBytes] are dropped before decoding.
	MinPayloadBytes int `yaml:"min_payload_bytes"`
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// DownlinkConfig configures the Pub/Sub to device pipeline.
type DownlinkConfig struct {
	CommandsSubscriptionID string `yaml:"commands_subscription_id"`
	NumWorkers             int    `yaml:"num_workers"`
}

// SessionConfig selects where child device sessions are kept.
type SessionConfig struct {
	Backend             string              `yaml:"backend"`
	Redis               session.RedisConfig `yaml:"redis"`
	FirestoreCollection string              `yaml:"firestore_collection"`
	// CacheSize sessions of a redis or firestore backend are cached locally
	// for CacheTTL. Zero disables the cache.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// ArchiveConfig configures the BigQuery event archive.
type ArchiveConfig struct {
	Enabled  bool                               `yaml:"enabled"`
	Sink     string                             `yaml:"sink"`
	BigQuery eventarchive.BigQueryDatasetConfig `yaml:"bigquery"`
	GCS      eventarchive.GCSConfig             `yaml:"gcs"`
	Batching eventarchive.ArchiverConfig        `yaml:"batching"`
}

// DefaultConfig returns a Config holding every default.
func DefaultConfig() *Config {
	return &Config{
		MQTT:  *mqttconverter.DefaultMQTTClientConfig(),
		Codec: mqttcodec.Config{MaxDepth: devicemessage.DefaultMaxDepth},
		Uplink: UplinkConfig{
			NumWorkers:      5,
			MaxPayloadBytes: 256 * 1024,
		},
		Downlink: DownlinkConfig{NumWorkers: 5},
		Sessions: SessionConfig{
			Backend:             SessionBackendMemory,
			Redis:               session.RedisConfig{KeyPrefix: "session:"},
			FirestoreCollection: "device-sessions",
			CacheSize:           10000,
			CacheTTL:            30 * time.Second,
		},
		Archive: ArchiveConfig{
			Sink:     ArchiveSinkBigQuery,
			GCS:      eventarchive.GCSConfig{ObjectPrefix: "events"},
			Batching: eventarchive.DefaultArchiverConfig(),
		},
	}
}

// LoadConfig builds the configuration from the defaults, the YAML file at
// path (optional) and the environment, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := microservice.LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.BaseConfig.ApplyEnv()
	cfg.MQTT.ApplyEnv()
	cfg.Codec.ApplyEnv()
	cfg.applyEnv()

	if cfg.Archive.Enabled {
		var err error
		switch cfg.Archive.Sink {
		case ArchiveSinkBigQuery:
			if cfg.Archive.BigQuery.ProjectID == "" {
				cfg.Archive.BigQuery.ProjectID = cfg.ProjectID
			}
			if cfg.Archive.BigQuery.CredentialsFile == "" {
				cfg.Archive.BigQuery.CredentialsFile = cfg.CredentialsFile
			}
			err = eventarchive.LoadBigQueryDatasetConfigFromEnv(&cfg.Archive.BigQuery)
		case ArchiveSinkGCS:
			err = eventarchive.LoadGCSConfigFromEnv(&cfg.Archive.GCS)
		default:
			err = fmt.Errorf("unknown sink %q", cfg.Archive.Sink)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid archive config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRepliesTopicID); v != "" {
		c.Uplink.RepliesTopicID = v
	}
	if v := os.Getenv(EnvCommandsSubscriptionID); v != "" {
		c.Downlink.CommandsSubscriptionID = v
	}
	envInt(EnvUplinkWorkers, &c.Uplink.NumWorkers)
	envInt(EnvDownlinkWorkers, &c.Downlink.NumWorkers)
	if v := os.Getenv(EnvSessionBackend); v != "" {
		c.Sessions.Backend = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Sessions.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Sessions.Redis.Password = v
	}
	if v := os.Getenv(EnvFirestoreCollection); v != "" {
		c.Sessions.FirestoreCollection = v
	}
	if v := os.Getenv(EnvArchiveSink); v != "" {
		c.Archive.Sink = v
	}
	if v := os.Getenv(EnvArchiveEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			log.Warn().Str("value", v).Msgf("Invalid %s, keeping %t.", EnvArchiveEnabled, c.Archive.Enabled)
		} else {
			c.Archive.Enabled = enabled
		}
	}
}

func envInt(key string, target *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("value", v).Msgf("Invalid %s, keeping %d.", key, *target)
		return
	}
	*target = n
}

// Validate checks that every setting needed to start the bridge is present.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project id is required")
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required")
	}
	if c.MQTT.TopicRoot == "" {
		return fmt.Errorf("MQTT topic root is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Uplink.RepliesTopicID == "" {
		return fmt.Errorf("uplink replies topic is required")
	}
	if c.Downlink.CommandsSubscriptionID == "" {
		return fmt.Errorf("downlink commands subscription is required")
	}
	if c.Uplink.MaxPayloadBytes < c.Uplink.MinPayloadBytes {
		return fmt.Errorf("uplink max payload size %d is below the minimum %d", c.Uplink.MaxPayloadBytes, c.Uplink.MinPayloadBytes)
	}
	if c.Sessions.CacheSize > 0 && c.Sessions.CacheTTL <= 0 {
		return fmt.Errorf("session cache needs a positive ttl")
	}
	switch c.Sessions.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("redis session backend needs an address")
		}
	case SessionBackendFirestore:
		if c.Sessions.FirestoreCollection == "" {
			return fmt.Errorf("firestore session backend needs a collection")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}
	return nil
}
