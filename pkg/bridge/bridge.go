package bridge

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/illmade-knight/go-devicebridge/pkg/gateway"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttconverter"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog"
)

// Dependencies are the clients the bridge runs on. Their lifecycles belong to
// the caller, except Sessions which the bridge closes on Stop.
type Dependencies struct {
	MQTTClient   mqtt.Client
	PubsubClient *pubsub.Client
	Sessions     session.Store
	// Inserter receives archived events. Nil disables the archive.
	Inserter eventarchive.DataBatchInserter[eventarchive.EventRecord]
}

// Bridge runs the uplink and downlink pipelines over one MQTT connection.
type Bridge struct {
	consumer        *mqttconverter.MqttConsumer
	devicePublisher *mqttconverter.DevicePublisher
	replies         *messagepipeline.GooglePubsubProducer
	archiver        *eventarchive.Archiver
	sessions        session.Store
	uplink          *messagepipeline.StreamingService[mqttconverter.DeviceReply]
	downlink        *messagepipeline.StreamingService[Command]
	logger          zerolog.Logger
}

// New wires the bridge from cfg and deps. The replies topic and commands
// subscription must already exist.
func New(ctx context.Context, cfg *Config, deps Dependencies, logger zerolog.Logger) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.PubsubClient == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	codec := mqttcodec.NewCodec(&cfg.Codec, logger)
	consumer, err := mqttconverter.NewMqttConsumer(deps.MQTTClient, &cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT consumer: %w", err)
	}
	devicePublisher, err := mqttconverter.NewDevicePublisher(deps.MQTTClient, codec, &cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device publisher: %w", err)
	}

	producerCfg := messagepipeline.NewGooglePubsubProducerDefaults()
	producerCfg.ProjectID = cfg.ProjectID
	producerCfg.TopicID = cfg.Uplink.RepliesTopicID
	replies, err := messagepipeline.NewGooglePubsubProducer(ctx, producerCfg, deps.PubsubClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create replies producer: %w", err)
	}

	consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Downlink.CommandsSubscriptionID)
	consumerCfg.ProjectID = cfg.ProjectID
	commands, err := messagepipeline.NewGooglePubsubConsumer(consumerCfg, deps.PubsubClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create commands consumer: %w", err)
	}

	b := &Bridge{
		consumer:        consumer,
		devicePublisher: devicePublisher,
		replies:         replies,
		sessions:        deps.Sessions,
		logger:          logger.With().Str("component", "Bridge").Logger(),
	}

	var archiver EventArchiver
	if deps.Inserter != nil {
		b.archiver, err = eventarchive.NewArchiver(cfg.Archive.Batching, deps.Inserter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create event archiver: %w", err)
		}
		archiver = b.archiver
	}

	tracker, err := gateway.NewTracker(deps.Sessions, logger)
	if err != nil {
		return nil, err
	}
	uplinkProcessor, err := NewUplinkProcessor(tracker, archiver, replies, logger)
	if err != nil {
		return nil, err
	}
	b.uplink, err = NewUplinkService(cfg.Uplink, consumer, codec, uplinkProcessor, logger)
	if err != nil {
		return nil, err
	}

	router, err := gateway.NewRouter(deps.Sessions, codec.MaxDepth(), logger)
	if err != nil {
		return nil, err
	}
	downlinkProcessor, err := NewDownlinkProcessor(router, devicePublisher, logger)
	if err != nil {
		return nil, err
	}
	b.downlink, err = NewDownlinkService(cfg.Downlink, commands, downlinkProcessor, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Start connects to the broker and starts both pipelines.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info().Msg("Starting device bridge...")
	if b.archiver != nil {
		b.archiver.Start(ctx)
	}
	if err := b.devicePublisher.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect device publisher: %w", err)
	}
	if err := b.uplink.Start(ctx); err != nil {
		return fmt.Errorf("failed to start uplink: %w", err)
	}
	if err := b.downlink.Start(ctx); err != nil {
		return fmt.Errorf("failed to start downlink: %w", err)
	}
	b.logger.Info().Msg("Device bridge started.")
	return nil
}

// Stop shuts the pipelines down, flushes the archive and the replies producer,
// disconnects from the broker and closes the session store.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping device bridge...")
	var errs []error
	if err := b.downlink.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("downlink: %w", err))
	}
	if err := b.uplink.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("uplink: %w", err))
	}
	if b.archiver != nil {
		if err := b.archiver.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archiver: %w", err))
		}
	}
	if err := b.replies.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("replies producer: %w", err))
	}
	if err := b.devicePublisher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("device publisher: %w", err))
	}
	if err := b.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session store: %w", err))
	}
	b.logger.Info().Msg("Device bridge stopped.")
	return errors.Join(errs...)
}

// Ready reports an error while the broker connection is down.
func (b *Bridge) Ready() error {
	if !b.consumer.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	return nil
}

// Stats returns the message counters of both pipelines keyed by pipeline name.
func (b *Bridge) Stats() map[string]messagepipeline.PipelineStats {
	return map[string]messagepipeline.PipelineStats{
		b.uplink.Name():   b.uplink.Stats(),
		b.downlink.Name(): b.downlink.Stats(),
	}
}

// NewSessionStore opens the session store selected by cfg, with the local
// cache in front of shared backends. fs is only used by the firestore backend.
func NewSessionStore(ctx context.Context, cfg SessionConfig, fs *firestore.Client, logger zerolog.Logger) (session.Store, error) {
	var store session.Store
	switch cfg.Backend {
	case SessionBackendMemory, "":
		return session.NewInMemoryStore(), nil
	case SessionBackendRedis:
		redisCfg := cfg.Redis
		redisStore, err := session.NewRedisStore(ctx, &redisCfg, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
	case SessionBackendFirestore:
		firestoreStore, err := session.NewFirestoreStore(fs, cfg.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		store = firestoreStore
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
	if cfg.CacheSize <= 0 {
		return store, nil
	}
	cached, err := session.NewCachedStore(store, cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	logger.Info().Int("cache_size", cfg.CacheSize).Dur("cache_ttl", cfg.CacheTTL).Msg("Session cache enabled.")
	return cached, nil
}
