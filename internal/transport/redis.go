package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
)

// Redis receives notifications relayed as raw payloads over Redis pub/sub.
type Redis struct {
	cfg    config.RedisConfig
	logger *slog.Logger
}

func NewRedis(cfg config.RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{cfg: cfg, logger: logger.With("component", "redis")}
}

func (r *Redis) Name() string { return config.SourceRedis }

func (r *Redis) Run(ctx context.Context, sink Sink) error {
	client, err := connectRedis(ctx, r.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ps := client.Subscribe(ctx, r.cfg.WaveformChannel, r.cfg.HeartRateChannel)
	defer ps.Close()
	// Wait for the subscription confirmation before reporting the link up.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	sink.Connected()

	// A blocked read does not watch ctx; closing the subscription ends it.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		switch msg.Channel {
		case r.cfg.WaveformChannel:
			deliver(r.logger, sink.OnWaveformNotification, []byte(msg.Payload))
		case r.cfg.HeartRateChannel:
			deliver(r.logger, sink.OnHeartRateNotification, []byte(msg.Payload))
		}
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisRelay publishes notifications it receives to Redis channels.
type RedisRelay struct {
	client *redis.Client
	cfg    config.RedisConfig
}

func NewRedisRelay(ctx context.Context, cfg config.RedisConfig) (*RedisRelay, error) {
	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RedisRelay{client: client, cfg: cfg}, nil
}

func (r *RedisRelay) OnWaveformNotification(payload []byte) error {
	return r.publish(r.cfg.WaveformChannel, payload)
}

func (r *RedisRelay) OnHeartRateNotification(payload []byte) error {
	return r.publish(r.cfg.HeartRateChannel, payload)
}

func (r *RedisRelay) publish(channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
