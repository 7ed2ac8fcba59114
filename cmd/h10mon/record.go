package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
	"github.com/jumepi/polar-h10-health-checker/internal/transport"
)

var (
	recordDuration       time.Duration
	recordOut            string
	recordFormat         string
	recordS3             bool
	recordSource         string
	recordConnectTimeout time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture for a fixed duration, then export",
	Long: `Connect to the sensor, capture ECG and heart rate for --duration, stop
acquisition and write the session to a file.

The format comes from --format, else the --out extension, else the config
default. With --s3 the export is also uploaded to the configured bucket.

Examples:
  h10mon record --duration 30s
  h10mon record --duration 2m --out rest.parquet
  h10mon record --source sim --duration 10s --format xlsx --s3`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 10*time.Second, "Capture length")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Output file (default session-<id>.<ext>)")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "", "Export format (csv, xlsx, parquet)")
	recordCmd.Flags().BoolVar(&recordS3, "s3", false, "Also upload the export to S3")
	recordCmd.Flags().StringVar(&recordSource, "source", "", "Override acquisition source (ble, nats, mqtt, redis, sim)")
	recordCmd.Flags().DurationVar(&recordConnectTimeout, "connect-timeout", time.Minute, "Give up if the sensor is not connected in time")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordDuration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	cfg, logger := env.cfg, env.logger

	if recordSource != "" {
		cfg.Acquisition.Source = recordSource
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := recordFormatFor(recordFormat, recordOut, cfg.Export.DefaultFormat)
	if err != nil {
		return err
	}

	var uploader *export.Uploader
	if recordS3 {
		uploader, err = export.NewUploader(ctx, s3Config(cfg.Export.S3))
		if err != nil {
			return err
		}
	}

	store := session.NewStore(cfg.Acquisition.SamplingRateHz)
	in := ingest.New(store, logger)
	src, err := transport.New(cfg, logger)
	if err != nil {
		return err
	}
	runner := transport.NewRunner(src, logger)
	runner.MaxBackoff = cfg.Acquisition.RetryMaxInterval

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return runner.Run(gctx, in) })

	fmt.Fprintf(os.Stderr, "waiting for %s...\n", src.Name())
	if err := waitConnected(ctx, runner.Health, recordConnectTimeout); err != nil {
		cancelRun()
		_ = g.Wait()
		return err
	}

	// The session starts when data can flow.
	store.Reset()
	interrupted := capture(ctx, recordDuration)

	in.Stop()
	cancelRun()
	if err := g.Wait(); err != nil {
		logger.Warn("transport", "err", err)
	}

	snap := store.Snapshot()
	logger.Info("capture finished",
		"session", snap.ID,
		"samples", snap.SampleCount,
		"heart_rates", len(snap.HeartRates),
		"interrupted", interrupted,
	)

	rows, err := export.SnapshotRows(snap)
	if errors.Is(err, export.ErrEmptySession) {
		return fmt.Errorf("nothing captured from %s: %w", src.Name(), err)
	}
	if err != nil {
		return err
	}

	out := recordOut
	if out == "" {
		out = export.FileName(snap.ID, format)
	}
	if err := writeExport(context.Background(), out, format, rows); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", len(rows), out)

	if uploader != nil {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		uri, err := uploader.Upload(uctx, filepath.Base(out), format, rows)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "uploaded %s\n", uri)
	}
	return nil
}

// recordFormatFor picks the export format: explicit flag, then the output
// file's extension, then the configured default.
func recordFormatFor(flag, out, fallback string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" {
		if f, err := export.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return export.ParseFormat(fallback)
}

func s3Config(c config.S3Config) export.S3Config {
	return export.S3Config{
		Bucket:       c.Bucket,
		Region:       c.Region,
		Prefix:       c.Prefix,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.UsePathStyle,
	}
}

func waitConnected(ctx context.Context, h *ingest.TransportHealth, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for !h.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not connected after %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}

// capture shows a progress bar for d. It reports whether ctx ended first.
func capture(ctx context.Context, d time.Duration) bool {
	total := d.Milliseconds()
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("recording"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	start := time.Now()
	done := time.NewTimer(d)
	defer done.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-done.C:
			_ = bar.Set64(total)
			return false
		case <-tick.C:
			_ = bar.Set64(min(time.Since(start).Milliseconds(), total))
		}
	}
}

func writeExport(ctx context.Context, path string, f export.Format, rows []export.Row) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return export.Write(ctx, file, f, rows)
}
