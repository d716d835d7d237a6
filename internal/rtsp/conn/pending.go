package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
)

// pendingResult is delivered into a pending slot. A Continue response
// carries the slot that replaces the current one.
type pendingResult struct {
	response *rtsp.Response
	next     chan pendingResult
}

// pendingUpdate asks the receiver to register or drop a pending slot. A nil
// slot removes the entry.
type pendingUpdate struct {
	cseq rtsp.CSeq
	slot chan pendingResult
}

func newSlot() chan pendingResult {
	return make(chan pendingResult, 1)
}

// PendingRequest resolves to the final response of a sent request. Wait
// must not be called from more than one goroutine at a time. Cancel is safe
// to call from anywhere.
type PendingRequest struct {
	cseq    rtsp.CSeq
	slot    chan pendingResult
	updates chan<- pendingUpdate
	closed  <-chan struct{}

	timeout     time.Duration
	deadline    time.Time
	maxDeadline time.Time

	cancelOnce sync.Once
	cancelled  chan struct{}

	mu       sync.Mutex
	resolved bool
	response *rtsp.Response
	err      error
}

func newPendingRequest(cseq rtsp.CSeq, slot chan pendingResult, updates chan<- pendingUpdate, closed <-chan struct{}, timeout, maxTimeout time.Duration) *PendingRequest {
	now := time.Now()
	p := &PendingRequest{
		cseq:      cseq,
		slot:      slot,
		updates:   updates,
		closed:    closed,
		timeout:   timeout,
		cancelled: make(chan struct{}),
	}
	if timeout > 0 {
		p.deadline = now.Add(timeout)
	}
	if maxTimeout > 0 {
		p.maxDeadline = now.Add(maxTimeout)
	}
	return p
}

func (p *PendingRequest) CSeq() rtsp.CSeq {
	return p.cseq
}

// Wait blocks until the final response arrives, a timeout expires, ctx is
// done or the request is cancelled. Once resolved every call returns the
// same result.
func (p *PendingRequest) Wait(ctx context.Context) (*rtsp.Response, error) {
	for {
		if p.poll(time.Now()) {
			return p.result()
		}

		var (
			timer  *time.Timer
			expiry <-chan time.Time
		)
		if wake := p.nextDeadline(); !wake.IsZero() {
			timer = time.NewTimer(time.Until(wake))
			expiry = timer.C
		}

		select {
		case r, ok := <-p.slot:
			p.receive(r, ok)
		case <-expiry:
		case <-ctx.Done():
			p.finish(nil, ctx.Err(), true)
		case <-p.cancelled:
		case <-p.closed:
			if !p.poll(time.Now()) {
				p.finish(nil, ErrRequestCancelled, false)
			}
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// Cancel abandons the request. The receiver drops its entry and a response
// arriving later is discarded.
func (p *PendingRequest) Cancel() {
	p.cancelOnce.Do(func() {
		p.finish(nil, ErrRequestCancelled, true)
		close(p.cancelled)
	})
}

// poll drains the slot, then checks the absolute deadline, then the
// refreshable one.
func (p *PendingRequest) poll(now time.Time) bool {
	if p.isResolved() {
		return true
	}

	for drained := false; !drained; {
		select {
		case r, ok := <-p.slot:
			if p.receive(r, ok) {
				return true
			}
		default:
			drained = true
		}
	}

	if !p.maxDeadline.IsZero() && !now.Before(p.maxDeadline) {
		p.finish(nil, &RequestTimedOutError{Type: TimeoutLong}, true)
		return true
	}
	if !p.deadline.IsZero() && !now.Before(p.deadline) {
		p.finish(nil, &RequestTimedOutError{Type: TimeoutShort}, true)
		return true
	}
	return p.isResolved()
}

// receive handles a value read from the slot and reports whether the
// request is resolved.
func (p *PendingRequest) receive(r pendingResult, ok bool) bool {
	switch {
	case !ok:
		p.finish(nil, ErrRequestCancelled, false)
		return true
	case r.next != nil:
		p.slot = r.next
		if p.timeout > 0 {
			p.deadline = time.Now().Add(p.timeout)
		}
		return p.isResolved()
	default:
		p.finish(r.response, nil, false)
		return true
	}
}

func (p *PendingRequest) nextDeadline() time.Time {
	switch {
	case p.deadline.IsZero():
		return p.maxDeadline
	case p.maxDeadline.IsZero(), p.deadline.Before(p.maxDeadline):
		return p.deadline
	}
	return p.maxDeadline
}

// finish records the outcome once. When remove is set the receiver is told
// to forget the entry.
func (p *PendingRequest) finish(res *rtsp.Response, err error, remove bool) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.response = res
	p.err = err
	p.mu.Unlock()

	if err != nil {
		var timeout *RequestTimedOutError
		if errors.As(err, &timeout) {
			requestTimeouts.WithLabelValues(timeout.Type.String()).Inc()
		}
	}

	if remove {
		select {
		case p.updates <- pendingUpdate{cseq: p.cseq}:
		case <-p.closed:
		}
	}
}

func (p *PendingRequest) isResolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

func (p *PendingRequest) result() (*rtsp.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.response, p.err
}
