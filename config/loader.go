package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. YAML file  (--config)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file keep their current value; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the RTPMIDID_ prefix.  Boolean values
// accept "1", "true", "yes" and "0", "false", "no" (case-insensitive);
// anything else is ignored.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flags are applied so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RTPMIDID_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := envInt("RTPMIDID_PORT"); v > 0 {
		cfg.ControlPort = v
	}
	if v := os.Getenv("RTPMIDID_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("RTPMIDID_SHM_NAME"); v != "" {
		cfg.ShmName = v
	}
	if v, ok := envBool("RTPMIDID_ADVERTISE"); ok {
		cfg.Advertise = v
	}
	if v, ok := envBool("RTPMIDID_REPLACE"); ok {
		cfg.ReplaceExisting = v
	}
	if v := envInt("RTPMIDID_BIND_ATTEMPTS"); v > 0 {
		cfg.BindAttempts = v
	}
	if v := envDuration("RTPMIDID_POLL_TIMEOUT"); v > 0 {
		cfg.PollTimeout = v
	}
	if v := os.Getenv("RTPMIDID_MONITOR"); v != "" {
		cfg.MonitorAddr = v
	}
	if v := os.Getenv("RTPMIDID_VERBOSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Verbose = n
		}
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// envDuration accepts Go duration syntax or a bare number of
// milliseconds.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
