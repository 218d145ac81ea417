package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/kevianto/IOT/internal/config"
	"github.com/kevianto/IOT/internal/server"
)

// Ingestor is the slice of the ingestion pipeline the source needs.
type Ingestor interface {
	Ingest(ctx context.Context, schema server.StreamSchema, raw []byte) (server.Reading, error)
}

// Source feeds readings published over MQTT through the same ingestion
// pipeline as the HTTP endpoints. Bad payloads are logged and dropped; they
// never take the subscription down.
type Source struct {
	client       paho.Client
	ingestor     Ingestor
	logger       *zap.Logger
	config       config.MQTTConfig
	vitalsSchema server.StreamSchema
}

func NewSource(cfg config.MQTTConfig, ingestor Ingestor, vitalsSchema server.StreamSchema, logger *zap.Logger) (*Source, error) {
	options := paho.NewClientOptions()
	options.AddBroker(cfg.Broker)
	options.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		options.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		options.SetPassword(cfg.Password)
	}
	options.SetAutoReconnect(true)
	options.SetCleanSession(true)

	client := paho.NewClient(options)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	return &Source{
		client:       client,
		ingestor:     ingestor,
		logger:       logger,
		config:       cfg,
		vitalsSchema: vitalsSchema,
	}, nil
}

func (source *Source) Start() error {
	if err := source.subscribe(source.config.TemperatureTopic, server.TemperatureSchema); err != nil {
		return err
	}
	return source.subscribe(source.config.VitalsTopic, source.vitalsSchema)
}

func (source *Source) subscribe(topic string, schema server.StreamSchema) error {
	token := source.client.Subscribe(topic, source.config.QoS, func(_ paho.Client, message paho.Message) {
		source.handleMessage(schema, message.Topic(), message.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, token.Error())
	}

	source.logger.Info("mqtt topic subscribed", zap.String("topic", topic))
	return nil
}

func (source *Source) handleMessage(schema server.StreamSchema, topic string, payload []byte) {
	timeout := source.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := source.ingestor.Ingest(ctx, schema, payload); err != nil {
		source.logger.Warn("mqtt reading rejected",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	source.logger.Debug("mqtt reading ingested", zap.String("topic", topic))
}

func (source *Source) Close() {
	source.client.Disconnect(250)
}
