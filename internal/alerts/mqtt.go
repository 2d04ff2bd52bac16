package alerts

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability/metrics"
)

const (
	mqttConnectTimeout    = 30 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
)

// mqttClient is the part of mqtt.Client the sink uses
type mqttClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes alerts as JSON to an MQTT topic
type MQTTSink struct {
	client  mqttClient
	topic   string
	qos     byte
	retain  bool
	broker  string
	metrics *metrics.AlertMetrics
	log     logger.Logger
}

// NewMQTTSink builds a sink for the configured broker. The connection is
// made by Connect; paho reconnects on its own afterwards.
func NewMQTTSink(cfg *conf.MQTTSettings, m *metrics.AlertMetrics) (*MQTTSink, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.Newf("mqtt sink requires a broker and a topic").
			Component("alerts").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := &MQTTSink{
		topic:   cfg.Topic,
		qos:     byte(min(max(cfg.QoS, 0), 2)),
		retain:  cfg.Retain,
		broker:  cfg.Broker,
		metrics: m,
		log:     GetLogger().Module("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.log.Info("connected to MQTT broker", logger.String("broker", s.broker))
		s.metrics.SetMQTTConnected(true)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("connection to MQTT broker lost", logger.String("broker", s.broker), logger.Error(err))
		s.metrics.SetMQTTConnected(false)
	})
	s.client = mqtt.NewClient(opts)
	return s, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Connect waits for the first connection to the broker.
func (s *MQTTSink) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return errors.New(err).
			Component("alerts").
			Category(errors.CategoryNetwork).
			NetworkContext(s.broker, mqttConnectTimeout).
			Context("operation", "mqtt_connect").
			Build()
	}
	return nil
}

// Send publishes a as JSON.
func (s *MQTTSink) Send(ctx context.Context, a Alert) error {
	if !s.client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("alerts").
			Category(errors.CategoryMQTTPublish).
			Context("topic", s.topic).
			Build()
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return errors.New(err).
			Component("alerts").
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	if err := waitToken(ctx, s.client.Publish(s.topic, s.qos, s.retain, payload)); err != nil {
		return errors.New(err).
			Component("alerts").
			Category(errors.CategoryMQTTPublish).
			Context("topic", s.topic).
			Context("payload_size", len(payload)).
			Build()
	}
	s.log.Debug("alert published", logger.String("topic", s.topic), logger.String("alert_id", a.ID))
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectQuiesce)
	}
	s.metrics.SetMQTTConnected(false)
	return nil
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
