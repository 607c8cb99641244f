package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sensorlink-go/errcode"
)

// EnvPath names the settings file when no --config flag is given.
const EnvPath = "SENSORLINK_CONFIG"

// Settings configure the agent process. The board file describes the
// hardware; these describe how the agent runs it.
type Settings struct {
	Device   string        `yaml:"device"`     // embedded board key when board_file is empty
	Board    string        `yaml:"board_file"` // path to the board text file
	Interval time.Duration `yaml:"interval"`

	Backlog   BacklogSettings   `yaml:"backlog"`
	Transport TransportSettings `yaml:"transport"`
	Gate      GateSettings      `yaml:"gate"`
	Watchdog  WatchdogSettings  `yaml:"watchdog"`
	Metrics   MetricsSettings   `yaml:"metrics"`
	Log       LogSettings       `yaml:"log"`

	// Simulate gives fixed raw values per channel for hosts without ADCs.
	Simulate map[int]float32 `yaml:"simulate"`
}

type BacklogSettings struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type TransportSettings struct {
	Kind     string        `yaml:"kind"`    // http | jetstream
	Encoder  string        `yaml:"encoder"` // query | json | cbor | msgpack
	URL      string        `yaml:"url"`     // overrides the board's ConnInfo
	Secure   bool          `yaml:"secure"`
	Timeout  time.Duration `yaml:"timeout"`
	Compress bool          `yaml:"compress"`

	NATS NATSSettings `yaml:"nats"`
}

type NATSSettings struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject_prefix"`
}

type GateSettings struct {
	Kind    string        `yaml:"kind"` // dial | static
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
	Timeout time.Duration `yaml:"timeout"`
}

type WatchdogSettings struct {
	Disabled bool          `yaml:"disabled"`
	Factor   float64       `yaml:"factor"`
	Grace    time.Duration `yaml:"grace"`
}

type MetricsSettings struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

type LogSettings struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the settings every file is layered over.
func Default() *Settings {
	return &Settings{
		Device:   "host",
		Interval: 5 * time.Second,
		Backlog:  BacklogSettings{Dir: "."},
		Transport: TransportSettings{
			Kind:    "http",
			Encoder: "query",
			Timeout: 10 * time.Second,
			NATS:    NATSSettings{URL: "nats://127.0.0.1:4222", Subject: "sensorlink.readings"},
		},
		Gate:     GateSettings{Kind: "dial", Retries: 3, Backoff: time.Second, Timeout: 5 * time.Second},
		Watchdog: WatchdogSettings{Factor: 4, Grace: 30 * time.Second},
		Log:      LogSettings{Level: "info", Format: "text"},
	}
}

// Load reads the file named by SENSORLINK_CONFIG. An unset variable
// yields the defaults.
func Load() (*Settings, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		s := Default()
		return s, s.Validate()
	}
	return LoadFile(path)
}

// LoadFile layers a YAML file over Default and validates the result.
// Unknown keys are rejected.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Config, "config.load", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Settings, error) {
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes as io.EOF and leaves the defaults.
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, errcode.Wrap(errcode.Config, "config.parse", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	var errs []error
	if s.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive"))
	}
	if s.Board == "" && s.Device == "" {
		errs = append(errs, fmt.Errorf("one of board_file or device is required"))
	}
	if s.Backlog.Dir == "" {
		errs = append(errs, fmt.Errorf("backlog.dir is required"))
	}
	if s.Backlog.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("backlog.max_bytes must not be negative"))
	}
	if !oneOf(s.Transport.Kind, "http", "jetstream") {
		errs = append(errs, fmt.Errorf("transport.kind must be one of: http, jetstream"))
	}
	if !oneOf(s.Transport.Encoder, "query", "json", "cbor", "msgpack") {
		errs = append(errs, fmt.Errorf("transport.encoder must be one of: query, json, cbor, msgpack"))
	}
	if s.Transport.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.timeout must be positive"))
	}
	if !oneOf(s.Gate.Kind, "dial", "static") {
		errs = append(errs, fmt.Errorf("gate.kind must be one of: dial, static"))
	}
	if s.Gate.Retries <= 0 {
		errs = append(errs, fmt.Errorf("gate.retries must be positive"))
	}
	if !s.Watchdog.Disabled && s.Watchdog.Factor < 2 {
		errs = append(errs, fmt.Errorf("watchdog.factor must be at least 2"))
	}
	if !oneOf(s.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	if !oneOf(s.Log.Format, "text", "json") {
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}
	if len(errs) > 0 {
		return errcode.Wrap(errcode.Config, "config.validate", errors.Join(errs...))
	}
	return nil
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}
