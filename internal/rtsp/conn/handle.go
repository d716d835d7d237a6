package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
)

// Handle is the caller facing side of a Connection. It is safe for
// concurrent use.
type Handle struct {
	conn *Connection

	allow atomic.Bool
	mu    sync.Mutex
	next  rtsp.CSeq

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

type requestOptions struct {
	timeout    time.Duration
	maxTimeout time.Duration
}

type RequestOption func(o *requestOptions)

// WithTimeout overrides the refreshable timeout for one request. Zero
// disables it.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithMaxTimeout overrides the absolute timeout for one request. Zero
// disables it.
func WithMaxTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.maxTimeout = d
	}
}

func newHandle(c *Connection) *Handle {
	h := &Handle{
		conn:     c,
		next:     c.config.initialCSeq,
		shutdown: make(chan struct{}),
	}
	h.allow.Store(true)
	return h
}

// Send stamps req with the next CSeq, registers it as pending and queues it
// for writing. The returned PendingRequest resolves to its final response.
func (h *Handle) Send(req *rtsp.Request, opts ...RequestOption) (*PendingRequest, error) {
	if !h.allow.Load() {
		return nil, ErrRequestNotAllowed
	}

	o := requestOptions{
		timeout:    h.conn.config.requestTimeoutDuration,
		maxTimeout: h.conn.config.requestMaxTimeoutDuration,
	}
	for _, opt := range opts {
		opt(&o)
	}

	select {
	case <-h.conn.receiverDone:
		return nil, ErrClosed
	default:
	}

	h.mu.Lock()
	cseq := h.next
	h.next = h.next.Next()
	h.mu.Unlock()

	rtsp.SetCSeq(req.Headers(), cseq)
	slot := newSlot()

	select {
	case h.conn.updates <- pendingUpdate{cseq: cseq, slot: slot}:
	case <-h.conn.receiverDone:
		return nil, ErrClosed
	}

	pending := newPendingRequest(cseq, slot, h.conn.updates, h.conn.receiverDone, o.timeout, o.maxTimeout)
	if !h.conn.writer.send(req) {
		pending.Cancel()
		return nil, ErrClosed
	}
	requestsSent.WithLabelValues(req.Method.String()).Inc()
	return pending, nil
}

// SendRequest sends req and waits for its final response.
func (h *Handle) SendRequest(ctx context.Context, req *rtsp.Request, opts ...RequestOption) (*rtsp.Response, error) {
	pending, err := h.Send(req, opts...)
	if err != nil {
		return nil, err
	}
	defer pending.Cancel()
	return pending.Wait(ctx)
}

// WriteFrame queues an interleaved frame behind the messages already
// waiting to be written. It fails with ErrWriteQueueFull instead of blocking.
func (h *Handle) WriteFrame(channel uint8, payload []byte) error {
	if len(payload) > rtsp.MaxFramePayload {
		return rtsp.ErrFrameTooLarge
	}
	if err := h.conn.writer.sendFrame(&rtsp.Frame{Channel: channel, Payload: payload}); err != nil {
		framesDropped.Inc()
		return err
	}
	framesSent.Inc()
	return nil
}

// Shutdown stops new requests in both directions and lets the connection
// close once outstanding work is done. It does not wait; use Done for that.
func (h *Handle) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.allow.Store(false)
		close(h.shutdown)
	})
}

// Done is closed once the connection has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.conn.done
}

// Err returns the error that ended the connection, if any, after Done is
// closed.
func (h *Handle) Err() error {
	return h.conn.Err()
}
