package conn

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests_sent",
		Namespace: "rtspconn",
		Help:      "number of requests sent to the peer",
	}, []string{"method"})
	requestsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests_received",
		Namespace: "rtspconn",
		Help:      "number of requests received from the peer",
	}, []string{"method"})
	responsesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "responses_received",
		Namespace: "rtspconn",
		Help:      "number of responses received, by status class",
	}, []string{"class"})
	unmatchedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "unmatched_responses",
		Namespace: "rtspconn",
		Help:      "number of responses with no pending request",
	})
	requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "request_timeouts",
		Namespace: "rtspconn",
		Help:      "number of requests that timed out",
	}, []string{"type"})
	pendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "pending_requests",
		Namespace: "rtspconn",
		Help:      "number of requests waiting for a response",
	})
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "frames_sent",
		Namespace: "rtspconn",
		Help:      "number of interleaved frames queued for the peer",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "frames_dropped",
		Namespace: "rtspconn",
		Help:      "number of interleaved frames dropped before writing",
	})
	connectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "connection_errors",
		Namespace: "rtspconn",
		Help:      "number of connections torn down by an error",
	}, []string{"reason"})
)

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
