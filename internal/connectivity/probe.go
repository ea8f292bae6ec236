package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// Probe checks connectivity once.
type Probe func(ctx context.Context) bool

// InterfaceProbe reports online when any non-loopback interface is up and
// has an address.
func InterfaceProbe(ctx context.Context) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// DialProbe reports online when a TCP connection to addr succeeds.
func DialProbe(addr string, timeout time.Duration) Probe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Poller feeds a monitor from a probe on a fixed interval.
type Poller struct {
	monitor  *Monitor
	probe    Probe
	interval time.Duration
	name     string
}

// NewPoller creates a poller. A zero interval defaults to five seconds.
func NewPoller(m *Monitor, name string, probe Probe, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{monitor: m, probe: probe, interval: interval, name: name}
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	logging.Debug("connectivity poller started", map[string]interface{}{
		"source":   p.name,
		"interval": p.interval.String(),
	})
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.monitor.Set(p.probe(ctx), p.name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.monitor.Set(p.probe(ctx), p.name)
		}
	}
}
