package hublink

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// Connectivity reports whether the hub is believed reachable and signals
// changes. Subscribers only see edges, never repeated values.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ManualConnectivity is a Connectivity set by the embedding application,
// for example from the platform's network status.
type ManualConnectivity struct {
	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners map[uint64]func(bool)
}

// NewManualConnectivity creates a connectivity signal with an initial value.
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{
		online:    online,
		listeners: make(map[uint64]func(bool)),
	}
}

// IsOnline implements Connectivity.
func (c *ManualConnectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records the current value and notifies subscribers if it changed.
func (c *ManualConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	listeners := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
}

// Subscribe implements Connectivity.
func (c *ManualConnectivity) Subscribe(fn func(online bool)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// ProbeConnectivity derives connectivity from periodic TCP dials to the
// hub's host and port.
type ProbeConnectivity struct {
	*ManualConnectivity

	address string
	timeout time.Duration
	logger  Logger
	dialer  net.Dialer
}

// NewProbeConnectivity creates a prober for address ("host:port"). It
// starts offline until the first probe succeeds.
func NewProbeConnectivity(address string, timeout time.Duration, logger Logger) *ProbeConnectivity {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &ProbeConnectivity{
		ManualConnectivity: NewManualConnectivity(false),
		address:            address,
		timeout:            timeout,
		logger:             logger,
	}
}

// ProbeAddress returns the host:port to probe for a ws/wss/http/https
// endpoint, filling in the scheme's default port.
func ProbeAddress(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", NewErrorWithCause(ErrCodeConfiguration, "invalid endpoint", err)
	}
	if u.Hostname() == "" {
		return "", NewError(ErrCodeConfiguration, "endpoint must include a host")
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Probe dials once and updates the signal. It returns the new value.
func (p *ProbeConnectivity) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	online := err == nil
	if online {
		_ = conn.Close()
	}

	if was := p.IsOnline(); was != online {
		if online {
			p.logger.Infof("Hub %s reachable", p.address)
		} else {
			p.logger.Warnf("Hub %s unreachable: %v", p.address, err)
		}
	}
	p.SetOnline(online)
	return online
}

// Run probes immediately and then every interval until ctx is canceled.
//
// This method blocks and should typically be run in a goroutine.
func (p *ProbeConnectivity) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
