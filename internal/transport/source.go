// Package transport delivers raw sensor notifications from a Polar H10, or
// from something replaying its packets, to an ingest handler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
)

var (
	// ErrDeviceNotFound is returned when a scan ends without a matching sensor.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrUnknownSource is returned by New for an unsupported source name.
	ErrUnknownSource = errors.New("unknown acquisition source")
)

// Handler receives raw notification payloads. *ingest.Ingestor implements it.
type Handler interface {
	OnWaveformNotification(payload []byte) error
	OnHeartRateNotification(payload []byte) error
}

// Sink is what a Source delivers into: the handler plus a signal that the
// link is up and notifications are subscribed.
type Sink interface {
	Handler
	Connected()
}

// Source is one way of receiving notifications. Run blocks until the link
// drops (returning the cause) or ctx is cancelled (returning nil).
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// New builds the source selected by cfg.Acquisition.Source.
func New(cfg *config.Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Acquisition.Source {
	case config.SourceBLE:
		return NewBLE(cfg.BLE, logger), nil
	case config.SourceNATS:
		return NewNATS(cfg.NATS, logger), nil
	case config.SourceMQTT:
		return NewMQTT(cfg.MQTT, logger), nil
	case config.SourceRedis:
		return NewRedis(cfg.Redis, logger), nil
	case config.SourceSim:
		return NewSim(cfg.Sim, cfg.Acquisition.SamplingRateHz, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Acquisition.Source)
	}
}

// Runner keeps a Source running, reconnecting with exponential backoff and
// publishing link state to Health.
type Runner struct {
	Source Source
	Health *ingest.TransportHealth
	Logger *slog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewRunner wraps src with the default 1s..30s backoff.
func NewRunner(src Source, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Source:     src,
		Health:     ingest.NewTransportHealth(src.Name()),
		Logger:     logger.With("component", "transport", "source", src.Name()),
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run delivers into h until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, h Handler) error {
	backoff := r.MinBackoff
	for {
		sink := &runnerSink{Handler: h, runner: r}
		err := r.Source.Run(ctx, sink)
		if ctx.Err() != nil {
			r.Health.SetDisconnected(nil)
			return nil
		}
		if err == nil {
			err = errors.New("source ended")
		}
		r.Health.SetDisconnected(err)

		// A session that got as far as connecting restarts the backoff.
		if sink.connected {
			backoff = r.MinBackoff
		}
		r.Logger.Warn("transport disconnected, retrying", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}
}

type runnerSink struct {
	Handler
	runner    *Runner
	connected bool
}

func (s *runnerSink) Connected() {
	s.connected = true
	s.runner.Health.SetConnected()
	s.runner.Logger.Info("transport connected")
}

// deliver forwards one payload and logs handler errors. Decode failures are
// already counted by the handler, so they never end a session.
func deliver(logger *slog.Logger, fn func([]byte) error, payload []byte) {
	if err := fn(payload); err != nil && !errors.Is(err, ingest.ErrStopped) {
		logger.Debug("notification rejected", "err", err)
	}
}
