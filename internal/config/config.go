// ABOUTME: YAML configuration for the speechlink client and ingest server
// ABOUTME: Defaults are filled first, then overridden by the file, then validated per section
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

// Config represents the complete configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	NATS    NATSConfig    `yaml:"nats"`
}

// ClientConfig controls the uploader
type ClientConfig struct {
	URL               string            `yaml:"url"`
	Discover          bool              `yaml:"discover"`
	Source            string            `yaml:"source"` // microphone, file, push, tone
	File              string            `yaml:"file"`
	Backend           string            `yaml:"backend"`  // portaudio, ffmpeg
	Recorder          string            `yaml:"recorder"` // pcm, opus
	CaptureRate       int               `yaml:"capture_rate"`
	UploadInterval    time.Duration     `yaml:"upload_interval"`
	MaxFileBytes      int64             `yaml:"max_file_bytes"`
	Formatter         string            `yaml:"formatter"` // speech, json
	Query             map[string]string `yaml:"query"`
	ReconnectAttempts int               `yaml:"reconnect_attempts"`
	ReconnectBackoff  time.Duration     `yaml:"reconnect_backoff"`
	Monitor           bool              `yaml:"monitor"`
	Output            string            `yaml:"output"` // oto, portaudio
	UI                bool              `yaml:"ui"`
	ToneFrequency     float64           `yaml:"tone_frequency"`
	ToneDuration      time.Duration     `yaml:"tone_duration"`
}

// ServerConfig controls the local ingest server
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	Path        string        `yaml:"path"`
	Name        string        `yaml:"name"`
	OutputDir   string        `yaml:"output_dir"`
	AckInterval time.Duration `yaml:"ack_interval"`
	Echo        bool          `yaml:"echo"`
	Advertise   bool          `yaml:"advertise"`
	DropAfter   int           `yaml:"drop_after"` // close each session after this many audio messages, 0 disables

	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// AudioConfig describes the upload format
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	BitsPerSample int `yaml:"bits_per_sample"`
	Channels      int `yaml:"channels"`
}

// LoggingConfig controls log level, format and optional rotated file output
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NATSConfig controls publishing of diagnostic events
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Attempts      int           `yaml:"attempts"`
	RetryWait     time.Duration `yaml:"retry_wait"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Source:            "microphone",
			Backend:           "portaudio",
			Recorder:          "pcm",
			CaptureRate:       48000,
			UploadInterval:    200 * time.Millisecond,
			MaxFileBytes:      32000*600 + audio.WAVHeaderSize,
			Formatter:         "speech",
			ReconnectAttempts: 3,
			ReconnectBackoff:  time.Second,
			Output:            "oto",
			ToneFrequency:     440,
			ToneDuration:      5 * time.Second,
		},
		Server: ServerConfig{
			Addr:        ":8927",
			Path:        "/speech",
			Name:        "", // hostname-speechlink-server
			OutputDir:   "recordings",
			AckInterval: 500 * time.Millisecond,
			Advertise:   true,

			SessionTimeout: 30 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:    audio.DefaultSampleRate,
			BitsPerSample: audio.DefaultBitsPerSample,
			Channels:      audio.DefaultChannels,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "speechlink",
			Attempts:      3,
			RetryWait:     2 * time.Second,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise returns the defaults
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// ValidateClient checks every section plus what only the uploader needs
func (c *Config) ValidateClient() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Client.URL == "" && !c.Client.Discover {
		return fmt.Errorf("client config: url is required unless discover is enabled")
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}
	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	switch c.Source {
	case "microphone":
	case "tone":
		if c.ToneFrequency <= 0 || c.ToneDuration <= 0 {
			return fmt.Errorf("tone source needs a positive frequency and duration")
		}
	case "file", "push":
		if c.File == "" {
			return fmt.Errorf("source %q needs a file", c.Source)
		}
	default:
		return fmt.Errorf("unknown source %q (microphone, file, push, tone)", c.Source)
	}
	if c.Source == "file" && filepath.Ext(c.File) == "" {
		return fmt.Errorf("file %q has no extension", c.File)
	}
	switch c.Backend {
	case "portaudio", "ffmpeg":
	default:
		return fmt.Errorf("unknown capture backend %q (portaudio, ffmpeg)", c.Backend)
	}
	switch c.Recorder {
	case "pcm", "opus":
	default:
		return fmt.Errorf("unknown recorder %q (pcm, opus)", c.Recorder)
	}
	switch c.Formatter {
	case "speech", "json":
	default:
		return fmt.Errorf("unknown formatter %q (speech, json)", c.Formatter)
	}
	if c.CaptureRate < 8000 {
		return fmt.Errorf("capture_rate must be at least 8000, got %d", c.CaptureRate)
	}
	if c.UploadInterval < 0 {
		return fmt.Errorf("upload_interval cannot be negative")
	}
	if c.MaxFileBytes < audio.WAVHeaderSize {
		return fmt.Errorf("max_file_bytes must be at least %d, got %d", audio.WAVHeaderSize, c.MaxFileBytes)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts cannot be negative")
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("path must start with /, got %q", s.Path)
	}
	if s.AckInterval <= 0 {
		return fmt.Errorf("ack_interval must be positive")
	}
	if s.DropAfter < 0 {
		return fmt.Errorf("drop_after cannot be negative")
	}
	if s.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	return nil
}

// Validate validates the audio format
func (a *AudioConfig) Validate() error {
	return a.Format().Validate()
}

// Format returns the PCM format described by the section
func (a *AudioConfig) Format() audio.Format {
	return audio.NewPCMFormat(a.SampleRate, a.BitsPerSample, a.Channels)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (text, json)", l.Format)
	}
	return nil
}

// Validate validates NATS configuration
func (n *NATSConfig) Validate() error {
	if n.Enabled && n.URL == "" {
		return fmt.Errorf("url cannot be empty when nats is enabled")
	}
	return nil
}
