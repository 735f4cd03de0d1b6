// Package config loads pane-relay configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Command-line flags (applied by the caller after Load)
//  2. Environment variables (PANE_RELAY_*)
//  3. Config file
//  4. Built-in defaults
//
// Config file search order:
//  1. The path passed to Load (from --config)
//  2. .pane-relay.yaml in current directory
//  3. ~/.config/pane-relay/config.yaml
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIP      = "127.0.0.1"
	DefaultPort    = 3000
	DefaultTmux    = "tmux"
	DefaultTimeout = "30s"

	localFileName = ".pane-relay.yaml"
)

// Config holds all pane-relay configuration shared by both roles.
type Config struct {
	// Listener (server) or target (client) address.
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`

	// EnterCommand is the server's explicit enter command (shell-quoted).
	EnterCommand string `yaml:"enter_command"`

	// Multiplexer settings
	Tmux       string `yaml:"tmux"`        // tmux binary
	TmuxSocket string `yaml:"tmux_socket"` // tmux -S socket path
	Timeout    string `yaml:"timeout"`     // Go duration string; "0" or "off" disables

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs

	Daemon Daemon `yaml:"daemon"`

	// Parsed values (not from YAML, set after loading)
	TimeoutDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Daemon holds the fixed paths used when the server detaches.
type Daemon struct {
	Stdout  string `yaml:"stdout"`
	Stderr  string `yaml:"stderr"`
	PIDFile string `yaml:"pid_file"`
	WorkDir string `yaml:"work_dir"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		IP:       DefaultIP,
		Port:     DefaultPort,
		Tmux:     DefaultTmux,
		Timeout:  DefaultTimeout,
		LogLevel:  "info",
		LogFormat: "json",
		Daemon: Daemon{
			Stdout:  "/tmp/pane-relay.out",
			Stderr:  "/tmp/pane-relay.err",
			PIDFile: "/tmp/pane-relay.pid",
			WorkDir: "/tmp",
		},
	}
}

// Load reads configuration from file and environment variables.
// An explicit path must exist; the implicit search locations are optional.
// The result is not validated until Finalize.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	file, data, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", file, err)
		}
		cfg.ConfigFile = file
		mergeFile(cfg, &fileCfg)
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize parses derived fields and validates. Load does not call it, so
// flags applied afterwards can still replace a bad file or env value.
func (c *Config) Finalize() error {
	d, err := parseDurationOrDisable(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	c.TimeoutDuration = d

	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("invalid ip %q", c.IP)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q: must be json or text", c.LogFormat)
	}
	return nil
}

// Addr returns the host:port the server listens on or the client dials.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// findConfigFile returns the path and contents of the config file to use,
// or an empty path when none of the implicit locations exist.
func findConfigFile(explicit string) (string, []byte, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return "", nil, fmt.Errorf("reading config file: %w", err)
		}
		return explicit, data, nil
	}

	candidates := []string{localFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pane-relay", "config.yaml"))
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading config file %s: %w", p, err)
		}
	}
	return "", nil, nil
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString(&cfg.IP, file.IP)
	if file.Port > 0 {
		cfg.Port = file.Port
	}
	setString(&cfg.EnterCommand, file.EnterCommand)
	setString(&cfg.Tmux, file.Tmux)
	setString(&cfg.TmuxSocket, file.TmuxSocket)
	setString(&cfg.Timeout, file.Timeout)
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.LogFormat, file.LogFormat)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)
	setString(&cfg.Daemon.Stdout, file.Daemon.Stdout)
	setString(&cfg.Daemon.Stderr, file.Daemon.Stderr)
	setString(&cfg.Daemon.PIDFile, file.Daemon.PIDFile)
	setString(&cfg.Daemon.WorkDir, file.Daemon.WorkDir)
}

// mergeEnv applies environment variables onto cfg. Env always wins over the file.
func mergeEnv(cfg *Config) error {
	setString(&cfg.IP, os.Getenv("PANE_RELAY_IP"))
	if v := os.Getenv("PANE_RELAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PANE_RELAY_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	setString(&cfg.EnterCommand, os.Getenv("PANE_RELAY_ENTER_COMMAND"))
	setString(&cfg.Tmux, os.Getenv("PANE_RELAY_TMUX"))
	setString(&cfg.TmuxSocket, os.Getenv("PANE_RELAY_TMUX_SOCKET"))
	setString(&cfg.Timeout, os.Getenv("PANE_RELAY_TIMEOUT"))
	setString(&cfg.LogLevel, os.Getenv("PANE_RELAY_LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("PANE_RELAY_LOG_FORMAT"))
	setString(&cfg.OTELEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setString(&cfg.OTELHeaders, os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable"
// and the empty string return 0 (no bound).
func parseDurationOrDisable(s string) (time.Duration, error) {
	switch s {
	case "", "0", "off", "disable":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
