// Package config defines the runtime configuration for rtpmidid and
// loads it from defaults, a YAML file and the environment.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	rerrors "rtpmidid/internal/errors"
)

// Config holds every tuneable of the daemon.
type Config struct {
	// ── Session ──────────────────────────────────────────────────────
	ServiceName string `yaml:"name"`
	ControlPort int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"` // empty: all interfaces, IPv4 and IPv6

	// ── Shared memory ────────────────────────────────────────────────
	ShmName string `yaml:"shm_name"`

	// ── Startup behaviour ────────────────────────────────────────────
	Advertise       bool `yaml:"advertise"`
	ReplaceExisting bool `yaml:"replace_existing"`
	BindAttempts    int  `yaml:"bind_attempts"`

	// ── Event loop ───────────────────────────────────────────────────
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// ── Diagnostics ──────────────────────────────────────────────────
	MonitorAddr string `yaml:"monitor"` // empty: live monitor disabled
	Verbose     int    `yaml:"verbose"`
	DryRun      bool   `yaml:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ServiceName:     DefaultServiceName,
		ControlPort:     DefaultControlPort,
		ShmName:         DefaultShmName,
		Advertise:       true,
		ReplaceExisting: true,
		BindAttempts:    DefaultBindAttempts,
		PollTimeout:     DefaultPollTimeout,
		Verbose:         DefaultVerbose,
	}
}

// DataPort returns the RTP-MIDI data port.
func (c *Config) DataPort() int { return c.ControlPort + 1 }

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return &rerrors.ConfigError{
			Field:   "name",
			Message: "service name is required",
			Hint:    fmt.Sprintf("the default is %q", DefaultServiceName),
		}
	}
	if len(c.ServiceName) > MaxServiceNameLen {
		return &rerrors.ConfigError{
			Field:   "name",
			Value:   c.ServiceName,
			Message: fmt.Sprintf("service name longer than %d bytes", MaxServiceNameLen),
			Hint:    "DNS-SD instance names are limited to one label",
		}
	}

	if c.ControlPort < 1 || c.ControlPort > 65534 {
		return &rerrors.ConfigError{
			Field:   "port",
			Value:   c.ControlPort,
			Message: "control port out of range 1-65534",
			Hint:    "the data port is the control port plus one",
		}
	}

	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		return &rerrors.ConfigError{
			Field:   "bind-address",
			Value:   c.BindAddress,
			Message: "not an IP address",
			Hint:    "leave empty to listen on all interfaces",
		}
	}

	if err := validateShmName(c.ShmName); err != nil {
		return err
	}

	if c.BindAttempts < 1 {
		return &rerrors.ConfigError{
			Field:   "bind-attempts",
			Value:   c.BindAttempts,
			Message: "must be at least 1",
		}
	}

	if c.PollTimeout <= 0 || c.PollTimeout > MaxPollTimeout {
		return &rerrors.ConfigError{
			Field:   "poll-timeout",
			Value:   c.PollTimeout,
			Message: fmt.Sprintf("must be between 0 and %v", MaxPollTimeout),
			Hint:    "shutdown waits up to this long",
		}
	}

	if c.MonitorAddr != "" {
		if _, _, err := net.SplitHostPort(c.MonitorAddr); err != nil {
			return &rerrors.ConfigError{
				Field:   "monitor",
				Value:   c.MonitorAddr,
				Message: err.Error(),
				Hint:    "use host:port, e.g. 127.0.0.1:7070",
			}
		}
	}

	if c.Verbose < 0 || c.Verbose > 3 {
		return &rerrors.ConfigError{
			Field:   "verbose",
			Value:   c.Verbose,
			Message: "verbosity must be 0-3",
		}
	}

	return nil
}

func validateShmName(name string) error {
	switch {
	case !strings.HasPrefix(name, "/"):
		return &rerrors.ConfigError{
			Field:   "shm-name",
			Value:   name,
			Message: "shared-memory name must start with '/'",
			Hint:    fmt.Sprintf("the shim expects %q", DefaultShmName),
		}
	case len(name) < 2 || strings.Contains(name[1:], "/"):
		return &rerrors.ConfigError{
			Field:   "shm-name",
			Value:   name,
			Message: "shared-memory name must be a single path component",
		}
	case len(name) > 255:
		return &rerrors.ConfigError{
			Field:   "shm-name",
			Value:   name,
			Message: "shared-memory name too long",
		}
	}
	return nil
}
