package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	BLE         BLEConfig         `yaml:"ble"`
	NATS        NATSConfig        `yaml:"nats"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Redis       RedisConfig       `yaml:"redis"`
	Sim         SimConfig         `yaml:"sim"`
	Export      ExportConfig      `yaml:"export"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type AcquisitionConfig struct {
	SamplingRateHz float64 `yaml:"sampling_rate_hz"`
	Source         string  `yaml:"source"`
	// RetryMaxInterval caps the reconnect backoff of a failed transport.
	RetryMaxInterval time.Duration `yaml:"retry_max_interval"`
}

// AnalysisConfig holds the parameters that may change while a session runs.
type AnalysisConfig struct {
	WindowSeconds    float64       `yaml:"window_seconds"`
	DistanceFactor   float64       `yaml:"distance_factor"`
	ProminenceFactor float64       `yaml:"prominence_factor"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
}

type BLEConfig struct {
	Address     string        `yaml:"address"`
	DeviceName  string        `yaml:"device_name"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

type NATSConfig struct {
	URL              string `yaml:"url"`
	WaveformSubject  string `yaml:"waveform_subject"`
	HeartRateSubject string `yaml:"heart_rate_subject"`
}

type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	WaveformTopic  string `yaml:"waveform_topic"`
	HeartRateTopic string `yaml:"heart_rate_topic"`
	QoS            byte   `yaml:"qos"`
	KeepAlive      uint16 `yaml:"keep_alive"`
}

type RedisConfig struct {
	Address          string        `yaml:"address"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	WaveformChannel  string        `yaml:"waveform_channel"`
	HeartRateChannel string        `yaml:"heart_rate_channel"`
	Timeout          time.Duration `yaml:"timeout"`
}

type SimConfig struct {
	HeartRateBPM float64 `yaml:"heart_rate_bpm"`
	Noise        float64 `yaml:"noise"`
	Batch        int     `yaml:"batch"`
	Amplitude    float64 `yaml:"amplitude"`
}

type ExportConfig struct {
	DefaultFormat string   `yaml:"default_format"`
	S3            S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	LogLevel     string  `yaml:"log_level"`
	LogJSON      bool    `yaml:"log_json"`
}

// Acquisition sources.
const (
	SourceBLE   = "ble"
	SourceNATS  = "nats"
	SourceMQTT  = "mqtt"
	SourceRedis = "redis"
	SourceSim   = "sim"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 100,
		},
		Acquisition: AcquisitionConfig{
			SamplingRateHz:   100,
			Source:           SourceBLE,
			RetryMaxInterval: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			WindowSeconds:    10,
			DistanceFactor:   0.3,
			ProminenceFactor: 0.5,
			RefreshInterval:  time.Second,
		},
		BLE: BLEConfig{
			DeviceName:  "Polar H10",
			ScanTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			WaveformSubject:  "h10.ecg",
			HeartRateSubject: "h10.hr",
		},
		MQTT: MQTTConfig{
			Broker:         "localhost:1883",
			ClientID:       "h10mon",
			WaveformTopic:  "h10/ecg",
			HeartRateTopic: "h10/hr",
			QoS:            0,
			KeepAlive:      30,
		},
		Redis: RedisConfig{
			Address:          "127.0.0.1:6379",
			WaveformChannel:  "h10:ecg",
			HeartRateChannel: "h10:hr",
			Timeout:          5 * time.Second,
		},
		Sim: SimConfig{
			HeartRateBPM: 72,
			Noise:        0.02,
			Batch:        73,
			Amplitude:    1000,
		},
		Export: ExportConfig{
			DefaultFormat: "csv",
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1.0,
			LogLevel:    "info",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault is Load, but a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make acquisition or analysis
// meaningless.
func (c *Config) Validate() error {
	if c.Acquisition.SamplingRateHz <= 0 {
		return fmt.Errorf("%w: acquisition.sampling_rate_hz must be positive, got %v", ErrInvalid, c.Acquisition.SamplingRateHz)
	}
	switch c.Acquisition.Source {
	case SourceBLE, SourceNATS, SourceMQTT, SourceRedis, SourceSim:
	default:
		return fmt.Errorf("%w: acquisition.source %q is not one of ble, nats, mqtt, redis, sim", ErrInvalid, c.Acquisition.Source)
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("%w: redis.timeout must be positive", ErrInvalid)
	}
	if c.Sim.Batch <= 0 {
		return fmt.Errorf("%w: sim.batch must be positive", ErrInvalid)
	}
	return nil
}

// Validate checks the hot-reloadable analysis section on its own.
func (a AnalysisConfig) Validate() error {
	if math.IsNaN(a.WindowSeconds) || math.IsInf(a.WindowSeconds, 0) || a.WindowSeconds <= 0 {
		return fmt.Errorf("%w: analysis.window_seconds must be a positive finite number", ErrInvalid)
	}
	if math.IsNaN(a.DistanceFactor) || math.IsInf(a.DistanceFactor, 0) || a.DistanceFactor < 0 {
		return fmt.Errorf("%w: analysis.distance_factor must be a finite non-negative number", ErrInvalid)
	}
	if math.IsNaN(a.ProminenceFactor) || math.IsInf(a.ProminenceFactor, 0) || a.ProminenceFactor < 0 {
		return fmt.Errorf("%w: analysis.prominence_factor must be a finite non-negative number", ErrInvalid)
	}
	if a.RefreshInterval <= 0 {
		return fmt.Errorf("%w: analysis.refresh_interval must be positive", ErrInvalid)
	}
	return nil
}
