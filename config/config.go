// Package config holds the YAML configuration of a host and its module
// processes. Every section has defaults; a file only needs the values it
// changes.
//
//	module:
//	  id: IO
//	  executable: ./io-module
//	  args: ["--port", "{PORT}"]
//	timeouts:
//	  handshake: 5s
//	handler:
//	  timeout: 30s
//	  rate_limit: 100
//	  rate_burst: 20
//	codecs:
//	  AlarmOrEvent: msgpack
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediator/codec"
	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
)

// PortPlaceholder is replaced by the host's listen port in module arguments.
const PortPlaceholder = "{PORT}"

// Config is the complete configuration.
type Config struct {
	Module       ModuleConfig      `yaml:"module"`
	Timeouts     TimeoutConfig     `yaml:"timeouts"`
	Handler      HandlerConfig     `yaml:"handler"`
	Restart      RestartConfig     `yaml:"restart"`
	Log          LogConfig         `yaml:"log"`
	Registry     RegistryConfig    `yaml:"registry"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	Codecs       map[string]string `yaml:"codecs"` // Event code name → json | binary | msgpack
	MaxFrameSize uint32            `yaml:"max_frame_size"`
}

// ModuleConfig describes the external module process a host starts.
type ModuleConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Executable string            `yaml:"executable"`
	Args       []string          `yaml:"args"` // Must contain {PORT}
	WorkDir    string            `yaml:"work_dir"`
	Env        map[string]string `yaml:"env"`
}

// TimeoutConfig holds every deadline of the module link. Zero disables the
// request timeout; all others must be positive.
type TimeoutConfig struct {
	Handshake time.Duration `yaml:"handshake"`
	Liveness  time.Duration `yaml:"liveness"`
	Connect   time.Duration `yaml:"connect"`
	Request   time.Duration `yaml:"request"`
	Shutdown  time.Duration `yaml:"shutdown"`
	InitAbort time.Duration `yaml:"init_abort"`
	Send      time.Duration `yaml:"send"`
}

// HandlerConfig limits module request handlers. Zero disables a limit.
type HandlerConfig struct {
	Timeout   time.Duration `yaml:"timeout"`    // Per request; Run is exempt
	RateLimit float64       `yaml:"rate_limit"` // Requests per second; lifecycle requests are exempt
	RateBurst int           `yaml:"rate_burst"`
}

// RestartConfig controls supervision of a crashed module.
type RestartConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// RegistryConfig enables etcd registration of running modules.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints"` // Empty disables the registry
	TTL         int64         `yaml:"ttl"`       // Seconds
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	return &Config{
		Timeouts:     DefaultTimeoutConfig(),
		Handler:      DefaultHandlerConfig(),
		Restart:      DefaultRestartConfig(),
		Log:          DefaultLogConfig(),
		Registry:     DefaultRegistryConfig(),
		MaxFrameSize: protocol.DefaultMaxFrameSize,
	}
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Handshake: 5 * time.Second,
		Liveness:  5 * time.Second,
		Connect:   60 * time.Second,
		Shutdown:  20 * time.Second,
		InitAbort: 12 * time.Second,
		Send:      10 * time.Second,
	}
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{RateBurst: 1}
}

func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info"}
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{TTL: 10, DialTimeout: 5 * time.Second}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Timeouts.Validate(); err != nil {
		return err
	}
	if err := c.Handler.Validate(); err != nil {
		return err
	}
	if err := c.Restart.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if _, err := c.CodecTable(); err != nil {
		return err
	}
	if c.MaxFrameSize == 0 {
		return invalid("max_frame_size must be positive")
	}
	return nil
}

// ValidateModule checks the section a host needs to start a module process.
func (c *Config) ValidateModule() error {
	m := c.Module
	if m.ID == "" {
		return invalid("module.id is required")
	}
	if m.Executable == "" {
		return invalid("module.executable is required")
	}
	for _, a := range m.Args {
		if strings.Contains(a, PortPlaceholder) {
			return nil
		}
	}
	return invalid("module.args must contain " + PortPlaceholder)
}

func (t TimeoutConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"handshake":  t.Handshake,
		"liveness":   t.Liveness,
		"connect":    t.Connect,
		"shutdown":   t.Shutdown,
		"init_abort": t.InitAbort,
		"send":       t.Send,
	} {
		if d <= 0 {
			return invalid("timeouts." + name + " must be positive")
		}
	}
	if t.Request < 0 {
		return invalid("timeouts.request must not be negative")
	}
	return nil
}

func (h HandlerConfig) Validate() error {
	if h.Timeout < 0 {
		return invalid("handler.timeout must not be negative")
	}
	if h.RateLimit < 0 {
		return invalid("handler.rate_limit must not be negative")
	}
	if h.RateLimit > 0 && h.RateBurst <= 0 {
		return invalid("handler.rate_burst must be positive when rate_limit is set")
	}
	return nil
}

func (r RestartConfig) Validate() error {
	if r.MinBackoff <= 0 || r.MaxBackoff < r.MinBackoff {
		return invalid("restart backoff must satisfy 0 < min_backoff <= max_backoff")
	}
	return nil
}

func (r RegistryConfig) Validate() error {
	if len(r.Endpoints) > 0 && r.TTL <= 0 {
		return invalid("registry.ttl must be positive")
	}
	return nil
}

// CodecTable builds the event codec table from the codecs section.
func (c *Config) CodecTable() (codec.Table, error) {
	names := make(map[message.EventCode]string, len(c.Codecs))
	for event, name := range c.Codecs {
		code, ok := eventCodeByName(event)
		if !ok {
			return nil, invalid("codecs: unknown event " + event)
		}
		names[code] = name
	}
	table, err := codec.NewTable(names)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return table, nil
}

func eventCodeByName(name string) (message.EventCode, bool) {
	for _, code := range []message.EventCode{
		message.EventVariableValuesChanged,
		message.EventConfigChanged,
		message.EventAlarmOrEvent,
	} {
		if strings.EqualFold(code.String(), name) {
			return code, true
		}
	}
	return 0, false
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg)
}
