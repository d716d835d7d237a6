package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serverRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "server_requests",
		Namespace: "rtspconn",
		Help:      "number of requests answered by the server",
	}, []string{"method", "code"})
	serverConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "server_connections",
		Namespace: "rtspconn",
		Help:      "number of open client connections",
	})
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "server_sessions",
		Namespace: "rtspconn",
		Help:      "number of sessions set up against registered streams",
	})
	relayedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "server_relayed_packets",
		Namespace: "rtspconn",
		Help:      "number of media packets relayed to playing sessions",
	}, []string{"type"})
)
