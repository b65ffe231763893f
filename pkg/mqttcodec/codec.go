// Package mqttcodec translates between device messages and the topic-addressed
// JSON encoding spoken by devices over MQTT.
//
// Outbound messages are encoded to a topic and a JSON object body. Inbound
// topic and body pairs are decoded to replies. Messages for devices behind a
// gateway are nested inside a /child-device-message envelope in both
// directions, and both directions unwrap that envelope recursively up to a
// configured depth.
//
// A Codec holds no mutable state and is safe for concurrent use.
package mqttcodec

import (
	"errors"
	"os"
	"strconv"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TransportMQTT is the transport this codec encodes for.
const TransportMQTT = "MQTT"

var (
	// ErrUnsupportedMessage is returned by Encode for a message variant that has no topic.
	ErrUnsupportedMessage = errors.New("unsupported message kind")
	// ErrUnsupportedTopic is returned by Decode for a topic that has no reply type.
	ErrUnsupportedTopic = errors.New("unsupported topic")
	// ErrNestingTooDeep is returned when child device envelopes nest beyond MaxDepth.
	ErrNestingTooDeep = devicemessage.ErrNestingTooDeep
)

// Config holds the codec settings.
type Config struct {
	// MaxDepth is the number of child device envelopes a single message may pass
	// through. Zero or less selects devicemessage.DefaultMaxDepth.
	MaxDepth int `yaml:"max_depth"`
}

// CodecMaxDepthEnv names the environment variable read by LoadConfigFromEnv.
const CodecMaxDepthEnv = "CODEC_MAX_DEPTH"

// LoadConfigFromEnv returns a Config with defaults, overridden by the environment.
func LoadConfigFromEnv() *Config {
	cfg := &Config{MaxDepth: devicemessage.DefaultMaxDepth}
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides cfg with CODEC_MAX_DEPTH when it holds a positive integer.
func (cfg *Config) ApplyEnv() {
	v := os.Getenv(CodecMaxDepthEnv)
	if v == "" {
		return
	}
	depth, err := strconv.Atoi(v)
	if err != nil || depth <= 0 {
		log.Printf("mqttcodec: invalid %s %q, using %d", CodecMaxDepthEnv, v, cfg.MaxDepth)
		return
	}
	cfg.MaxDepth = depth
}

// Codec encodes device messages and decodes device replies.
type Codec struct {
	maxDepth int
	logger   zerolog.Logger
}

// NewCodec creates a Codec. A nil cfg selects the defaults.
func NewCodec(cfg *Config, logger zerolog.Logger) *Codec {
	maxDepth := devicemessage.DefaultMaxDepth
	if cfg != nil && cfg.MaxDepth > 0 {
		maxDepth = cfg.MaxDepth
	}
	return &Codec{
		maxDepth: maxDepth,
		logger:   logger.With().Str("component", "MqttCodec").Logger(),
	}
}

// Transport reports the transport the codec supports.
func (c *Codec) Transport() string {
	return TransportMQTT
}

// MaxDepth reports the nesting bound in use.
func (c *Codec) MaxDepth() int {
	return c.maxDepth
}
