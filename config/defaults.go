package config

import (
	"time"

	"rtpmidid/internal/shm"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultServiceName is the session name shown to RTP-MIDI clients.
	DefaultServiceName = "Move"

	// DefaultControlPort is the AppleMIDI control port.  The data port
	// is always one above it.
	DefaultControlPort = 5004

	// DefaultShmName is the POSIX shared-memory name the shim reads.
	DefaultShmName = shm.DefaultName

	// DefaultPollTimeout bounds each socket wait, and with it how long
	// shutdown can take to be noticed.
	DefaultPollTimeout = time.Second

	// DefaultBindAttempts is how many times the port pair bind is tried
	// while a replaced instance releases it.
	DefaultBindAttempts = 5

	// DefaultVerbose prints informational messages.
	DefaultVerbose = 1

	// MaxServiceNameLen is the DNS-SD instance label limit.
	MaxServiceNameLen = 63

	// MaxPollTimeout keeps shutdown latency bounded.
	MaxPollTimeout = 10 * time.Second
)
