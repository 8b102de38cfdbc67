// Package advertise announces the daemon as an "_apple-midi._udp"
// service so RTP-MIDI clients list it without manual setup.
//
// Advertising is best effort: a failed registration is logged and the
// daemon keeps running, reachable only by address.
package advertise

// ServiceType is the DNS-SD type AppleMIDI clients browse for.
const ServiceType = "_apple-midi._udp"

// Advertiser registers and withdraws the service announcement.
type Advertiser interface {
	// Register announces name on the control port.  It reports whether
	// the announcement is live.
	Register(name string, port int) bool
	// Unregister withdraws a live announcement.  It is safe to call
	// after a failed Register.
	Unregister()
}

// Noop is the Advertiser used when advertising is disabled.
type Noop struct{}

func (Noop) Register(string, int) bool { return false }

func (Noop) Unregister() {}
