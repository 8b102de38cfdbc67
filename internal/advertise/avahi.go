package advertise

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	rerrors "rtpmidid/internal/errors"
	"rtpmidid/util"
)

const (
	avahiService     = "org.freedesktop.Avahi"
	avahiServer      = "org.freedesktop.Avahi.Server"
	avahiEntryGroup  = "org.freedesktop.Avahi.EntryGroup"
	avahiIfUnspec    = int32(-1)
	avahiProtoUnspec = int32(-1)

	callTimeout = 2 * time.Second
)

// Avahi publishes the service through avahi-daemon's D-Bus API on the
// system bus.
type Avahi struct {
	logger *util.Logger

	conn  *dbus.Conn
	group dbus.BusObject
}

// NewAvahi returns an unregistered Avahi advertiser.
func NewAvahi(logger *util.Logger) *Avahi {
	return &Avahi{logger: logger}
}

// Register creates an entry group holding one service record and
// commits it.
func (a *Avahi) Register(name string, port int) bool {
	if err := a.register(name, port); err != nil {
		a.logger.Warn("service advertisement unavailable: %v", err)
		a.close()
		return false
	}
	a.logger.Info("registered Avahi service '%s' on port %d", name, port)
	return true
}

func (a *Avahi) register(name string, port int) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrNoSystemBus, err)
	}
	a.conn = conn

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var path dbus.ObjectPath
	server := conn.Object(avahiService, "/")
	if err := server.CallWithContext(ctx, avahiServer+".EntryGroupNew", 0).Store(&path); err != nil {
		return fmt.Errorf("EntryGroupNew: %w", err)
	}
	a.group = conn.Object(avahiService, path)

	call := a.group.CallWithContext(ctx, avahiEntryGroup+".AddService", 0,
		avahiIfUnspec, avahiProtoUnspec, uint32(0),
		name, ServiceType, "", "", uint16(port), [][]byte{})
	if call.Err != nil {
		return fmt.Errorf("AddService: %w", call.Err)
	}
	if err := a.group.CallWithContext(ctx, avahiEntryGroup+".Commit", 0).Err; err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

// Unregister frees the entry group, withdrawing the record.
func (a *Avahi) Unregister() {
	if a.conn == nil {
		return
	}
	if a.group != nil {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		err := a.group.CallWithContext(ctx, avahiEntryGroup+".Free", 0).Err
		cancel()
		if err != nil {
			a.logger.Verbose("Avahi Free: %v", err)
		} else {
			a.logger.Info("unregistered Avahi service")
		}
	}
	a.close()
}

func (a *Avahi) close() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.conn = nil
	a.group = nil
}
