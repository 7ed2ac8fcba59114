package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
)

// MQTT receives notifications relayed as raw payloads on two topics.
type MQTT struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
}

func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: logger.With("component", "mqtt")}
}

func (m *MQTT) Name() string { return config.SourceMQTT }

func (m *MQTT) Run(ctx context.Context, sink Sink) error {
	errs := make(chan error, 1)
	fail := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	c, err := dialMQTT(ctx, m.cfg, paho.ClientConfig{
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				switch pr.Packet.Topic {
				case m.cfg.WaveformTopic:
					deliver(m.logger, sink.OnWaveformNotification, pr.Packet.Payload)
				case m.cfg.HeartRateTopic:
					deliver(m.logger, sink.OnHeartRateNotification, pr.Packet.Payload)
				default:
					return false, nil
				}
				return true, nil
			},
		},
		OnClientError: fail,
		OnServerDisconnect: func(d *paho.Disconnect) {
			fail(fmt.Errorf("server disconnect: reason %d", d.ReasonCode))
		},
	})
	if err != nil {
		return err
	}

	if _, err := c.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: m.cfg.WaveformTopic, QoS: m.cfg.QoS},
			{Topic: m.cfg.HeartRateTopic, QoS: m.cfg.QoS},
		},
	}); err != nil {
		_ = c.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("subscribe: %w", err)
	}
	sink.Connected()

	select {
	case <-ctx.Done():
		_ = c.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil
	case err := <-errs:
		return err
	case <-c.Done():
		return errors.New("mqtt connection closed")
	}
}

// dialMQTT opens a TCP connection to the broker and completes the MQTT
// handshake. cc supplies callbacks; Conn and ClientID are filled in here.
func dialMQTT(ctx context.Context, cfg config.MQTTConfig, cc paho.ClientConfig) (*paho.Client, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Broker, err)
	}
	cc.Conn = conn
	cc.ClientID = cfg.ClientID
	c := paho.NewClient(cc)

	ack, err := c.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	if ack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("connect %s: reason %d", cfg.Broker, ack.ReasonCode)
	}
	return c, nil
}

// MQTTRelay publishes notifications it receives to the broker so that
// remote monitors can consume them with the MQTT source.
type MQTTRelay struct {
	c   *paho.Client
	cfg config.MQTTConfig
	ctx context.Context
}

// NewMQTTRelay connects to cfg.Broker. ctx bounds every publish.
func NewMQTTRelay(ctx context.Context, cfg config.MQTTConfig) (*MQTTRelay, error) {
	c, err := dialMQTT(ctx, cfg, paho.ClientConfig{})
	if err != nil {
		return nil, err
	}
	return &MQTTRelay{c: c, cfg: cfg, ctx: ctx}, nil
}

func (r *MQTTRelay) OnWaveformNotification(payload []byte) error {
	return r.publish(r.cfg.WaveformTopic, payload)
}

func (r *MQTTRelay) OnHeartRateNotification(payload []byte) error {
	return r.publish(r.cfg.HeartRateTopic, payload)
}

func (r *MQTTRelay) publish(topic string, payload []byte) error {
	_, err := r.c.Publish(r.ctx, &paho.Publish{
		Topic:   topic,
		QoS:     r.cfg.QoS,
		Payload: payload,
	})
	return err
}

// Close disconnects from the broker.
func (r *MQTTRelay) Close() error {
	return r.c.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
