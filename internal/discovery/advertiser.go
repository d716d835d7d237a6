package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"
)

const domain = "local."

var ErrAdvertiserClosed = errors.New("advertiser closed")

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (Registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Advertiser publishes the streams of an RTSP server over mDNS so clients on
// the local network can find them without knowing the address.
type Advertiser struct {
	host     string
	port     int
	ifaces   []net.Interface
	register RegisterFunc

	mu      sync.Mutex
	entries map[string]Registration
	closed  bool
}

// NewAdvertiser returns an Advertiser for a server listening on addr. host
// prefixes every instance name.
func NewAdvertiser(host, addr string, ifaces []net.Interface) (*Advertiser, error) {
	_, portString, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listen address %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portString)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port in listen address %s", addr)
	}
	return &Advertiser{
		host:     host,
		port:     port,
		ifaces:   ifaces,
		register: zeroconfRegister,
		entries:  make(map[string]Registration),
	}, nil
}

// Advertise announces stream. Advertising a stream twice replaces the
// earlier announcement.
func (a *Advertiser) Advertise(stream string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdvertiserClosed
	}

	instance := a.host + " " + stream
	text := []string{"path=/" + stream}
	registration, err := a.register(instance, ServiceType, domain, a.port, text, a.ifaces)
	if err != nil {
		return fmt.Errorf("failed to advertise stream %s: %w", stream, err)
	}
	if previous, ok := a.entries[stream]; ok {
		previous.Shutdown()
	}
	a.entries[stream] = registration
	log.WithFields(log.Fields{
		"stream":   stream,
		"instance": instance,
		"port":     a.port,
	}).Info("stream advertised")
	return nil
}

// Withdraw stops announcing stream.
func (a *Advertiser) Withdraw(stream string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if registration, ok := a.entries[stream]; ok {
		registration.Shutdown()
		delete(a.entries, stream)
	}
}

// Close withdraws every stream. Further calls to Advertise fail.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for stream, registration := range a.entries {
		registration.Shutdown()
		delete(a.entries, stream)
	}
	a.closed = true
}
