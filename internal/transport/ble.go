package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
)

// Polar Measurement Data service and its characteristics.
var (
	pmdService = mustUUID("FB005C80-02E7-F387-1CAD-8ACD2D8DF0C8")
	pmdControl = mustUUID("FB005C81-02E7-F387-1CAD-8ACD2D8DF0C8")
	pmdData    = mustUUID("FB005C82-02E7-F387-1CAD-8ACD2D8DF0C8")
)

// ecgStart asks the sensor to stream ECG at 130 Hz with 14-bit resolution.
var ecgStart = []byte{0x02, 0x00, 0x00, 0x01, 0x82, 0x00, 0x01, 0x01, 0x0E, 0x00}

// stallTimeout ends a session whose link stays up but stops notifying.
const stallTimeout = 10 * time.Second

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLE connects to the sensor directly, subscribes to Heart Rate Measurement
// and PMD data notifications, and starts the ECG stream.
type BLE struct {
	cfg     config.BLEConfig
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	enableOnce sync.Once
	enableErr  error
}

func NewBLE(cfg config.BLEConfig, logger *slog.Logger) *BLE {
	if logger == nil {
		logger = slog.Default()
	}
	return &BLE{cfg: cfg, adapter: bluetooth.DefaultAdapter, logger: logger.With("component", "ble")}
}

func (b *BLE) Name() string { return config.SourceBLE }

func (b *BLE) Run(ctx context.Context, sink Sink) error {
	b.enableOnce.Do(func() { b.enableErr = b.adapter.Enable() })
	if b.enableErr != nil {
		return fmt.Errorf("enable adapter: %w", b.enableErr)
	}

	found, err := b.scan(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("connecting", "address", found.Address.String(), "name", found.LocalName())

	dev, err := b.adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", found.Address.String(), err)
	}
	defer dev.Disconnect()

	services, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate, pmdService})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}

	var last lastSeen
	last.touch()
	var notifying []bluetooth.DeviceCharacteristic
	defer func() {
		for _, c := range notifying {
			_ = c.EnableNotifications(nil)
		}
	}()
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		subscribed, err := b.subscribe(chars, sink, &last)
		notifying = append(notifying, subscribed...)
		if err != nil {
			return err
		}
	}
	sink.Connected()

	ticker := time.NewTicker(stallTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if since := last.since(); since > stallTimeout {
				return fmt.Errorf("no notifications for %s", since.Round(time.Second))
			}
		}
	}
}

// subscribe enables notifications on the characteristics it knows and
// returns those it enabled, so the caller can disable them on exit.
func (b *BLE) subscribe(chars []bluetooth.DeviceCharacteristic, sink Sink, last *lastSeen) ([]bluetooth.DeviceCharacteristic, error) {
	var (
		control *bluetooth.DeviceCharacteristic
		enabled []bluetooth.DeviceCharacteristic
	)
	for i := range chars {
		c := chars[i]
		switch c.UUID() {
		case bluetooth.CharacteristicUUIDHeartRateMeasurement:
			if err := c.EnableNotifications(func(buf []byte) {
				last.touch()
				deliver(b.logger, sink.OnHeartRateNotification, clone(buf))
			}); err != nil {
				return enabled, fmt.Errorf("enable heart rate notifications: %w", err)
			}
			enabled = append(enabled, c)
		case pmdData:
			if err := c.EnableNotifications(func(buf []byte) {
				last.touch()
				deliver(b.logger, sink.OnWaveformNotification, clone(buf))
			}); err != nil {
				return enabled, fmt.Errorf("enable pmd notifications: %w", err)
			}
			enabled = append(enabled, c)
		case pmdControl:
			control = &chars[i]
		}
	}
	if control != nil {
		if _, err := control.Write(ecgStart); err != nil {
			return enabled, fmt.Errorf("start ecg stream: %w", err)
		}
	}
	return enabled, nil
}

// scan blocks until a matching advertisement is seen, ScanTimeout passes,
// or ctx is cancelled.
func (b *BLE) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if matchDevice(b.cfg, r.Address.String(), r.LocalName()) {
				select {
				case found <- r:
				default:
				}
				_ = a.StopScan()
			}
		})
	}()

	timeout := b.cfg.ScanTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-found:
		<-done
		return r, nil
	case err := <-done:
		select {
		case r := <-found:
			return r, nil
		default:
		}
		if err == nil {
			err = ErrDeviceNotFound
		}
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
	case <-timer.C:
		_ = b.adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, fmt.Errorf("scan for %q after %s: %w", b.target(), timeout, ErrDeviceNotFound)
	case <-ctx.Done():
		_ = b.adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, errors.Join(ctx.Err(), ErrDeviceNotFound)
	}
}

func (b *BLE) target() string {
	if b.cfg.Address != "" {
		return b.cfg.Address
	}
	return b.cfg.DeviceName
}

// matchDevice prefers an explicit address. Otherwise the advertised name
// must contain the configured name, since sensors advertise as
// "Polar H10 <serial>".
func matchDevice(cfg config.BLEConfig, address, name string) bool {
	if cfg.Address != "" {
		return strings.EqualFold(cfg.Address, address)
	}
	return cfg.DeviceName != "" && strings.Contains(name, cfg.DeviceName)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type lastSeen struct {
	mu sync.Mutex
	at time.Time
}

func (l *lastSeen) touch() {
	l.mu.Lock()
	l.at = time.Now()
	l.mu.Unlock()
}

func (l *lastSeen) since() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.at)
}
