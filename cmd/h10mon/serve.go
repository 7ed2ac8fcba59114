package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/frontend"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
	"github.com/jumepi/polar-h10-health-checker/internal/transport"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

var (
	servePort   int
	serveSource string
	serveRelay  string
	serveWebDir string
	serveNoWeb  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Acquire and serve live frames",
	Long: `Start acquisition, the frame broadcaster and the HTTP/websocket server.

Analysis parameters in the config file are reloaded when the file changes.

Examples:
  h10mon serve
  h10mon serve --source sim --port 9000
  h10mon serve --source ble --relay mqtt    # forward raw notifications

The browser view is served at / unless --no-web is set.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override server port")
	cmd.Flags().StringVar(&serveSource, "source", "", "Override acquisition source (ble, nats, mqtt, redis, sim)")
	cmd.Flags().StringVar(&serveRelay, "relay", "", "Also publish raw notifications to nats, mqtt or redis")
	cmd.Flags().StringVar(&serveWebDir, "web-dir", "", "Serve the browser view from this directory instead of the embedded copy")
	cmd.Flags().BoolVar(&serveNoWeb, "no-web", false, "Do not serve the browser view")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	cfg, logger := env.cfg, env.logger

	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveSource != "" {
		cfg.Acquisition.Source = serveSource
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := export.ParseFormat(cfg.Export.DefaultFormat)
	if err != nil {
		return err
	}

	rate := cfg.Acquisition.SamplingRateHz
	store := session.NewStore(rate)
	in := ingest.New(store, logger)

	src, err := transport.New(cfg, logger)
	if err != nil {
		return err
	}
	runner := transport.NewRunner(src, logger)
	runner.MaxBackoff = cfg.Acquisition.RetryMaxInterval

	handler, closeRelay, err := withRelay(ctx, cfg, serveRelay, in, logger)
	if err != nil {
		return err
	}
	defer closeRelay()

	b := ws.NewBroadcaster(store, frameParams(cfg.Analysis, rate), cfg.Analysis.RefreshInterval, cfg.Server.MaxConnections, logger)
	b.SetConnectedFunc(runner.Health.Connected)

	srv := ws.NewServer(cfg.Server, store, in, b, runner.Health, logger)
	srv.SetExportFormat(format)
	switch {
	case serveNoWeb:
	case serveWebDir != "":
		logger.Info("serving browser view from filesystem", "dir", serveWebDir)
		srv.SetFrontend(frontend.Dir(serveWebDir))
	default:
		srv.SetFrontend(frontend.Handler())
	}

	logger.Info("starting",
		"version", version,
		"source", src.Name(),
		"rate_hz", rate,
		"window_s", cfg.Analysis.WindowSeconds,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx, handler) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		return ws.ListenAndServe(gctx, cfg.Server.Host, cfg.Server.Port, srv.Handler(), logger)
	})

	if _, err := os.Stat(configPath); err == nil {
		w, err := config.NewWatcher(configPath, cfg.Analysis, logger)
		if err != nil {
			return err
		}
		w.OnReload = func(a config.AnalysisConfig) {
			b.SetParams(frameParams(a, rate), a.RefreshInterval)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

// withRelay returns the handler the transport delivers into: the ingestor,
// optionally followed by a relay publishing the same payloads.
func withRelay(ctx context.Context, cfg *config.Config, relay string, in *ingest.Ingestor, logger *slog.Logger) (transport.Handler, func(), error) {
	if relay == "" {
		return in, func() {}, nil
	}
	if relay == cfg.Acquisition.Source {
		return nil, nil, fmt.Errorf("relay %q would feed its own source", relay)
	}

	var out relayHandler
	switch relay {
	case config.SourceNATS:
		r, err := transport.NewNATSRelay(cfg.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("nats relay: %w", err)
		}
		out = r
	case config.SourceMQTT:
		r, err := transport.NewMQTTRelay(ctx, cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt relay: %w", err)
		}
		out = r
	case config.SourceRedis:
		r, err := transport.NewRedisRelay(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis relay: %w", err)
		}
		out = r
	default:
		return nil, nil, fmt.Errorf("unknown relay %q", relay)
	}
	logger.Info("relaying notifications", "relay", relay)
	t := &tee{primary: in, relay: out, logger: logger.With("relay", relay)}
	return t, func() {
		if err := out.Close(); err != nil {
			logger.Warn("close relay", "err", err)
		}
	}, nil
}

type relayHandler interface {
	transport.Handler
	Close() error
}

// tee delivers to primary and forwards to relay. Relay failures are logged
// and never reach the transport.
type tee struct {
	primary transport.Handler
	relay   transport.Handler
	logger  *slog.Logger
}

func (t *tee) OnWaveformNotification(payload []byte) error {
	if err := t.relay.OnWaveformNotification(payload); err != nil {
		t.logger.Debug("relay waveform", "err", err)
	}
	return t.primary.OnWaveformNotification(payload)
}

func (t *tee) OnHeartRateNotification(payload []byte) error {
	if err := t.relay.OnHeartRateNotification(payload); err != nil {
		t.logger.Debug("relay heart rate", "err", err)
	}
	return t.primary.OnHeartRateNotification(payload)
}
