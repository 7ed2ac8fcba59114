package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
)

// NATS receives notifications relayed as raw payloads on two subjects.
// The client reconnects on its own; Run returns only when the connection
// is closed for good.
type NATS struct {
	cfg    config.NATSConfig
	logger *slog.Logger
}

func NewNATS(cfg config.NATSConfig, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{cfg: cfg, logger: logger.With("component", "nats")}
}

func (n *NATS) Name() string { return config.SourceNATS }

func (n *NATS) Run(ctx context.Context, sink Sink) error {
	closed := make(chan struct{})
	nc, err := connectNATS(n.cfg.URL,
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", n.cfg.URL, err)
	}
	defer nc.Close()

	if _, err := nc.Subscribe(n.cfg.WaveformSubject, func(m *nats.Msg) {
		deliver(n.logger, sink.OnWaveformNotification, m.Data)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.WaveformSubject, err)
	}
	if _, err := nc.Subscribe(n.cfg.HeartRateSubject, func(m *nats.Msg) {
		deliver(n.logger, sink.OnHeartRateNotification, m.Data)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.HeartRateSubject, err)
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	sink.Connected()

	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		if err := nc.LastError(); err != nil {
			return err
		}
		return errors.New("nats connection closed")
	}
}

func connectNATS(url string, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name("h10mon"),
		nats.Timeout(3 * time.Second),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.MaxReconnects(-1),
	}
	return nats.Connect(url, append(base, opts...)...)
}

// NATSRelay publishes notifications it receives to NATS so that remote
// monitors can consume them with the NATS source.
type NATSRelay struct {
	nc  *nats.Conn
	cfg config.NATSConfig
}

// NewNATSRelay connects to cfg.URL.
func NewNATSRelay(cfg config.NATSConfig) (*NATSRelay, error) {
	nc, err := connectNATS(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	return &NATSRelay{nc: nc, cfg: cfg}, nil
}

func (r *NATSRelay) OnWaveformNotification(payload []byte) error {
	return r.nc.Publish(r.cfg.WaveformSubject, payload)
}

func (r *NATSRelay) OnHeartRateNotification(payload []byte) error {
	return r.nc.Publish(r.cfg.HeartRateSubject, payload)
}

// Close flushes pending messages and closes the connection.
func (r *NATSRelay) Close() error {
	return r.nc.Drain()
}
