// Package mqttbridge feeds machine telemetry published over MQTT into the
// same ingestion path as the HTTP endpoint.
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"nutribin-backend/config"
	"nutribin-backend/internal/machine"
)

const (
	transport      = "mqtt"
	connectTimeout = 10 * time.Second
	handleTimeout  = 10 * time.Second
)

// Ingester stores one telemetry report.
type Ingester interface {
	Ingest(ctx context.Context, transport string, p machine.Payload) (*machine.View, error)
}

// Bridge subscribes to a telemetry topic and ingests every message.
type Bridge struct {
	cfg    config.MQTTConfig
	ingest Ingester
	log    *zap.Logger
	client mqtt.Client
}

// New creates a bridge. Call Run to connect.
func New(cfg config.MQTTConfig, ingest Ingester, log *zap.Logger) *Bridge {
	return &Bridge{cfg: cfg, ingest: ingest, log: log}
}

// Run connects to the broker and subscribes until ctx is cancelled. The
// subscription is restored after every reconnect.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := b.subscribe(c); err != nil {
			b.log.Error("mqtt subscribe failed", zap.String("topic", b.cfg.Topic), zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to MQTT broker %s: timed out", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", b.cfg.Broker, err)
	}
	b.log.Info("mqtt bridge connected", zap.String("broker", b.cfg.Broker), zap.String("topic", b.cfg.Topic))

	<-ctx.Done()
	b.client.Disconnect(250)
	b.log.Info("mqtt bridge stopped")
	return nil
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	token := c.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := b.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			b.log.Warn("mqtt telemetry rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	token.Wait()
	return token.Error()
}

// Handle decodes and ingests one message. A payload without machine_id takes
// it from the topic segment matched by the subscription wildcard.
func (b *Bridge) Handle(ctx context.Context, topic string, body []byte) error {
	p, err := machine.ParsePayload(body)
	if err != nil {
		return err
	}
	if p.MachineID() == "" {
		id := TopicMachineID(b.cfg.Topic, topic)
		if id == "" {
			return errors.New("machine id missing from payload and topic")
		}
		p["machine_id"] = id
	}
	_, err = b.ingest.Ingest(ctx, transport, p)
	return err
}

// TopicMachineID returns the topic level matched by the first single-level
// wildcard of pattern, or "" when there is none.
func TopicMachineID(pattern, topic string) string {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	for i, level := range want {
		if i >= len(got) {
			return ""
		}
		if level == "+" {
			return strings.TrimSpace(got[i])
		}
		if level == "#" {
			return ""
		}
	}
	return ""
}
