package discovery

import "net"

// ServiceType is the DNS-SD service type RTSP servers are published under.
const ServiceType = "_rtsp._tcp"

// Registration is a live mDNS announcement.
type Registration interface {
	Shutdown()
}

// RegisterFunc announces instance on the network. It matches
// zeroconf.Register.
type RegisterFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (Registration, error)
