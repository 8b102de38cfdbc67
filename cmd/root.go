// Package cmd wires up the CLI flags and runs the bridge daemon.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"rtpmidid/config"
	"rtpmidid/internal/advertise"
	"rtpmidid/internal/applemidi"
	"rtpmidid/internal/bridge"
	"rtpmidid/internal/instance"
	"rtpmidid/internal/metrics"
	"rtpmidid/internal/monitor"
	"rtpmidid/internal/retry"
	"rtpmidid/internal/shm"
	"rtpmidid/internal/transport"
	"rtpmidid/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X rtpmidid/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the daemon until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	var flags config.Config
	fs := flag.NewFlagSet("rtpmidid", flag.ContinueOnError)

	// ── session ──────────────────────────────────────────────────
	fs.StringVar(&flags.ServiceName, "name", config.DefaultServiceName, "Session name shown to clients")
	fs.IntVarP(&flags.ControlPort, "port", "p", config.DefaultControlPort, "Control port (data port is +1)")
	fs.StringVar(&flags.BindAddress, "bind-address", "", "Listen address (default all, IPv4 and IPv6)")

	// ── resources ────────────────────────────────────────────────
	fs.StringVar(&flags.ShmName, "shm-name", config.DefaultShmName, "Shared-memory segment name")
	var noAdvertise, noReplace bool
	fs.BoolVar(&noAdvertise, "no-advertise", false, "Do not register the service with Avahi")
	fs.BoolVar(&noReplace, "no-replace", false, "Leave already running instances alone")
	fs.IntVar(&flags.BindAttempts, "bind-attempts", config.DefaultBindAttempts, "Port bind attempts before giving up")
	fs.DurationVar(&flags.PollTimeout, "poll-timeout", config.DefaultPollTimeout, "Socket wait bound (shutdown latency)")

	// ── diagnostics ──────────────────────────────────────────────
	fs.StringVar(&flags.MonitorAddr, "monitor", "", "Serve a WebSocket event feed on host:port")
	fs.CountVarP(&flags.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	var quiet bool
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "Print the effective configuration and exit")

	var configPath string
	fs.StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "rtpmidid %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── layer: defaults < file < env < flags ─────────────────────
	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, cfg, &flags, noAdvertise, noReplace, quiet)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.DryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	return run(ctx, cfg, util.NewLogger(cfg.Verbose))
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(fs *flag.FlagSet, cfg, flags *config.Config, noAdvertise, noReplace, quiet bool) {
	if fs.Changed("name") {
		cfg.ServiceName = flags.ServiceName
	}
	if fs.Changed("port") {
		cfg.ControlPort = flags.ControlPort
	}
	if fs.Changed("bind-address") {
		cfg.BindAddress = flags.BindAddress
	}
	if fs.Changed("shm-name") {
		cfg.ShmName = flags.ShmName
	}
	if noAdvertise {
		cfg.Advertise = false
	}
	if noReplace {
		cfg.ReplaceExisting = false
	}
	if fs.Changed("bind-attempts") {
		cfg.BindAttempts = flags.BindAttempts
	}
	if fs.Changed("poll-timeout") {
		cfg.PollTimeout = flags.PollTimeout
	}
	if fs.Changed("monitor") {
		cfg.MonitorAddr = flags.MonitorAddr
	}
	if fs.Changed("verbose") {
		cfg.Verbose = config.DefaultVerbose + flags.Verbose
		if cfg.Verbose > 3 {
			cfg.Verbose = 3
		}
	}
	if quiet {
		cfg.Verbose = 0
	}
	cfg.DryRun = flags.DryRun
}

// run acquires the daemon's resources in order, runs the dispatcher and
// releases everything on the way out.  Only the shared-memory segment
// and the port pair are fatal.
func run(ctx context.Context, cfg *config.Config, logger *util.Logger) error {
	m := metrics.New()

	if cfg.ReplaceExisting {
		if n := instance.NewReplacer(logger.Named("instance")).ReplaceExisting(ctx); n > 0 {
			logger.Verbose("replaced %d running instance(s)", n)
		}
	}

	ch, err := shm.Open(cfg.ShmName, logger.Named("shm"), m)
	if err != nil {
		return fmt.Errorf("shared memory: %w", err)
	}

	pair, err := transport.ListenPairRetry(ctx, cfg.BindAddress, cfg.ControlPort,
		retry.BindBackoff(cfg.BindAttempts), logger.Named("transport"))
	if err != nil {
		ch.Close() //nolint:errcheck
		return fmt.Errorf("bind ports %d/%d: %w", cfg.ControlPort, cfg.DataPort(), err)
	}
	logger.Info("rtpmidid %s: session '%s' on ports %d/%d, shm %s",
		version, cfg.ServiceName, cfg.ControlPort, cfg.DataPort(), cfg.ShmName)

	var adv advertise.Advertiser = advertise.Noop{}
	if cfg.Advertise {
		adv = advertise.NewAvahi(logger.Named("avahi"))
	}
	adv.Register(cfg.ServiceName, pair.ControlPort())

	d := &bridge.Dispatcher{
		Control:     pair.Control,
		Data:        pair.Data,
		Session:     applemidi.NewSession(cfg.ServiceName, uint32(os.Getpid()), logger.Named("session"), m),
		Channel:     ch,
		Advertiser:  adv,
		Metrics:     m,
		Logger:      logger,
		PollTimeout: cfg.PollTimeout,
	}

	var wg sync.WaitGroup
	if cfg.MonitorAddr != "" {
		srv, err := monitor.Listen(cfg.MonitorAddr, logger.Named("monitor"))
		if err != nil {
			logger.Warn("monitor disabled: %v", err)
		} else {
			logger.Info("event monitor on ws://%s%s", srv.Addr(), monitor.Path)
			d.Publisher = srv.Hub
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Serve(ctx); err != nil {
					logger.Warn("monitor: %v", err)
				}
			}()
		}
	}

	err = d.Run(ctx)
	wg.Wait()

	logger.Info("session stats: %s", m.JSON())
	return err
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `rtpmidid - RTP-MIDI network session bridge v%s

Accepts one AppleMIDI session and writes the received MIDI into a
shared-memory mailbox for the hardware shim.

Usage:
  rtpmidid [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  RTPMIDID_NAME, RTPMIDID_PORT, RTPMIDID_BIND_ADDRESS, RTPMIDID_SHM_NAME,
  RTPMIDID_ADVERTISE, RTPMIDID_REPLACE, RTPMIDID_BIND_ATTEMPTS,
  RTPMIDID_POLL_TIMEOUT, RTPMIDID_MONITOR, RTPMIDID_VERBOSE

Examples:
  rtpmidid                                    Session "Move" on 5004/5005
  rtpmidid --name Studio --port 5104 -v       Custom name and ports
  rtpmidid --monitor 127.0.0.1:7070           Watch events over WebSocket
`)
}
