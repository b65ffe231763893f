package mqttconverter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client
// shared by the device consumer and the device publisher.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string `yaml:"broker_url"`
	// TopicRoot is the prefix under which every device has its own topic tree:
	// <TopicRoot>/<deviceId>/<codec topic>.
	TopicRoot string `yaml:"topic_root"`
	// QoS is used for both subscriptions and publishes.
	QoS byte `yaml:"qos"`
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// added because brokers reject duplicate client IDs.
	ClientIDPrefix string `yaml:"client_id_prefix"`
	// Username for authenticating with the MQTT broker.
	Username string `yaml:"username"`
	// Password for authenticating with the MQTT broker.
	Password string `yaml:"password"`
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration `yaml:"keep_alive"`
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ReconnectWaitMax is the maximum time to wait before attempting to reconnect.
	ReconnectWaitMax time.Duration `yaml:"reconnect_wait_max"`
	// PublishTimeout bounds how long a publish waits for the broker to confirm.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string `yaml:"ca_cert_file"`
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string `yaml:"client_cert_file"`
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string `yaml:"client_key_file"`
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Env constants for setting Mqtt settings
const (
	MqttBrokerURL             = "MQTT_BROKER_URL"
	MqttTopicRoot             = "MQTT_TOPIC_ROOT"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttQoS                   = "MQTT_QOS"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// DefaultTopicRoot is used when no topic root is configured.
const DefaultTopicRoot = "devices"

// DefaultMQTTClientConfig returns the client defaults.
func DefaultMQTTClientConfig() *MQTTClientConfig {
	return &MQTTClientConfig{
		TopicRoot:        DefaultTopicRoot,
		QoS:              1,
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
		PublishTimeout:   5 * time.Second,
		ClientIDPrefix:   "device-bridge-",
	}
}

// LoadMQTTClientConfigFromEnv loads MQTT configuration from environment variables,
// using defaults for anything that is not set or cannot be parsed.
func LoadMQTTClientConfigFromEnv() *MQTTClientConfig {
	cfg := DefaultMQTTClientConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides cfg with the MQTT settings found in the environment.
// Values that cannot be parsed are logged and ignored.
func (cfg *MQTTClientConfig) ApplyEnv() {
	if v := os.Getenv(MqttBrokerURL); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv(MqttUsername); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(MqttPassword); v != "" {
		cfg.Password = v
	}
	if root := os.Getenv(MqttTopicRoot); root != "" {
		cfg.TopicRoot = strings.TrimSuffix(root, "/")
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}
	if q := os.Getenv(MqttQoS); q != "" {
		qos, err := strconv.Atoi(q)
		if err == nil && qos >= 0 && qos <= 2 {
			cfg.QoS = byte(qos)
		} else {
			log.Printf("mqttconverter: invalid QoS %q, using %d", q, cfg.QoS)
		}
	}
	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqttconverter: error parsing keepAlive seconds: %s, using %s", err, cfg.KeepAlive)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqttconverter: error parsing connect timeout seconds: %s, using %s", err, cfg.ConnectTimeout)
		}
	}
}

// NewClientOptions assembles the Paho client options from the config. The
// session is kept across reconnects so the broker restores subscriptions.
func NewClientOptions(cfg *MQTTClientConfig, logger zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}

// NewClient creates a Paho client for cfg. It does not connect.
func NewClient(cfg *MQTTClientConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	return mqtt.NewClient(NewClientOptions(cfg, logger)), nil
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// connect connects client unless it already is, waiting at most timeout.
func connect(client mqtt.Client, timeout time.Duration, logger zerolog.Logger) error {
	if client.IsConnected() {
		return nil
	}
	logger.Info().Msg("Attempting to connect to MQTT broker...")
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out connecting to MQTT broker after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	logger.Info().Msg("Connection to MQTT broker successful.")
	return nil
}
