// h10mon acquires ECG and heart rate from a Polar H10 chest strap, detects
// R peaks live and serves the result to browsers and the terminal viewer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "h10mon",
	Short: "Live ECG monitor for the Polar H10",
	Long: `h10mon connects to a Polar H10 (or a NATS/MQTT relay, or a built-in
simulator), decodes its ECG and heart rate notifications, detects R peaks
over a sliding window and serves frames over HTTP and websocket.

Run without a subcommand to start the server.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file (defaults apply when missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	addServeFlags(rootCmd)
}

// runtimeEnv is what every command needs after flag parsing.
type runtimeEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

// setup loads config, builds the logger and starts tracing.
func setup(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	if logJSON {
		cfg.Telemetry.LogJSON = true
	}

	logger := telemetry.NewLogger(os.Stderr, cfg.Telemetry.LogLevel, cfg.Telemetry.LogJSON)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracing(ctx, telemetry.TraceConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: "h10mon",
		Version:     version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return &runtimeEnv{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func (e *runtimeEnv) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn("tracer shutdown", "err", err)
	}
}

// frameParams maps the analysis section onto detector parameters.
func frameParams(a config.AnalysisConfig, rateHz float64) analysis.FrameParams {
	return analysis.FrameParams{
		WindowSeconds: a.WindowSeconds,
		Peaks: analysis.PeakParams{
			SamplingRate:     rateHz,
			DistanceFactor:   a.DistanceFactor,
			ProminenceFactor: a.ProminenceFactor,
		},
	}
}
