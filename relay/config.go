package relay

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lomik/zapwriter"

	"github.com/go-graphite/udp-relay/listener"
	"github.com/go-graphite/udp-relay/sender"
)

const MetricEndpointLocal = "local"

// Duration wrapper time.Duration for TOML
type Duration struct {
	time.Duration
}

var _ toml.TextMarshaler = &Duration{}

// UnmarshalText from TOML
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText encode text with TOML format
func (d *Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Value return time.Duration value
func (d *Duration) Value() time.Duration {
	return d.Duration
}

type commonConfig struct {
	User           string    `toml:"user"`
	GraphPrefix    string    `toml:"graph-prefix"`
	MetricInterval *Duration `toml:"metric-interval"`
	MetricEndpoint string    `toml:"metric-endpoint"`
	MaxCPU         int       `toml:"max-cpu"`
}

type prometheusConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type pprofConfig struct {
	Listen  string `toml:"listen"`
	Enabled bool   `toml:"enabled"`
}

// Config ...
type Config struct {
	Common       commonConfig       `toml:"common"`
	Listen       listener.Options   `toml:"listen"`
	Destinations []*sender.Options  `toml:"destination"`
	Prometheus   prometheusConfig   `toml:"prometheus"`
	Pprof        pprofConfig        `toml:"pprof"`
	Logging      []zapwriter.Config `toml:"logging"`
}

// NewLoggingConfig returns default logging section. Repeated messages
// (e.g. per datagram send failures) are sampled each second
func NewLoggingConfig() zapwriter.Config {
	cfg := zapwriter.NewConfig()
	cfg.File = "/var/log/udp-relay/udp-relay.log"
	cfg.SampleTick = "1s"
	cfg.SampleInitial = 10
	cfg.SampleThereafter = 1000
	return cfg
}

// NewStderrLoggingConfig is NewLoggingConfig writing to stderr
func NewStderrLoggingConfig() zapwriter.Config {
	cfg := NewLoggingConfig()
	cfg.File = "stderr"
	return cfg
}

// NewConfig ...
func NewConfig() *Config {
	cfg := &Config{
		Common: commonConfig{
			GraphPrefix: "relay.agents.{host}",
			MetricInterval: &Duration{
				Duration: time.Minute,
			},
			MetricEndpoint: MetricEndpointLocal,
			MaxCPU:         1,
			User:           "",
		},
		Listen:       *listener.NewOptions(),
		Destinations: []*sender.Options{},
		Prometheus: prometheusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9102",
		},
		Pprof: pprofConfig{
			Listen:  "localhost:7007",
			Enabled: false,
		},
		Logging: nil,
	}

	return cfg
}

// PrintDefaultConfig prints default config with one sample destination
func PrintDefaultConfig() error {
	cfg := NewConfig()
	cfg.Destinations = append(cfg.Destinations, sender.NewOptions("127.0.0.1:9999"))
	cfg.Logging = []zapwriter.Config{NewLoggingConfig()}
	return PrintConfig(cfg)
}

// PrintConfig ...
func PrintConfig(cfg interface{}) error {
	buf := new(bytes.Buffer)

	encoder := toml.NewEncoder(buf)
	encoder.Indent = ""

	if err := encoder.Encode(cfg); err != nil {
		return err
	}

	fmt.Print(buf.String())
	return nil
}

// ParseConfig reads TOML config file over defaults
func ParseConfig(filename string) (*Config, error) {
	cfg := NewConfig()

	if filename != "" {
		body, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}

		if _, err := toml.Decode(string(body), cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}

	if cfg.Logging == nil {
		cfg.Logging = make([]zapwriter.Config, 0)
	}

	if len(cfg.Logging) == 0 {
		cfg.Logging = append(cfg.Logging, NewLoggingConfig())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks config consistency
func (cfg *Config) Validate() error {
	if err := cfg.Listen.Validate(); err != nil {
		return fmt.Errorf("[listen] %w", err)
	}

	if len(cfg.Destinations) == 0 {
		return fmt.Errorf("no [[destination]] configured")
	}

	names := make(map[string]bool)
	for _, d := range cfg.Destinations {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("[[destination]] %w", err)
		}

		name := d.Name
		if name == "" {
			name = d.Address
		}
		if names[name] {
			return fmt.Errorf("[[destination]] duplicate name %q", name)
		}
		names[name] = true
	}

	if cfg.Common.MetricInterval == nil || cfg.Common.MetricInterval.Value() <= 0 {
		return fmt.Errorf("[common] metric-interval must be positive")
	}

	if cfg.Common.MetricEndpoint != MetricEndpointLocal {
		u, err := url.Parse(cfg.Common.MetricEndpoint)
		if err != nil {
			return fmt.Errorf("[common] metric-endpoint: %w", err)
		}
		if u.Scheme != "tcp" && u.Scheme != "udp" {
			return fmt.Errorf("[common] metric-endpoint: unsupported scheme %q", u.Scheme)
		}
	}

	if err := zapwriter.CheckConfig(cfg.Logging, LoggerNames); err != nil {
		return fmt.Errorf("[logging] %w", err)
	}

	return nil
}

// TestConfig writes config into rootDir. Listen and destination addresses are
// the caller's, logs go to rootDir
func TestConfig(rootDir string, listen string, destinations ...string) string {
	cfg := NewConfig()

	cfg.Listen.Listen = listen
	for _, d := range destinations {
		cfg.Destinations = append(cfg.Destinations, sender.NewOptions(d))
	}

	logging := NewLoggingConfig()
	logging.File = filepath.Join(rootDir, "udp-relay.log")
	cfg.Logging = []zapwriter.Config{logging}

	configFile := filepath.Join(rootDir, "udp-relay.conf")

	buf := new(bytes.Buffer)

	encoder := toml.NewEncoder(buf)
	encoder.Indent = ""

	if err := encoder.Encode(cfg); err != nil {
		return configFile
	}

	os.WriteFile(configFile, buf.Bytes(), 0644)

	return configFile
}
