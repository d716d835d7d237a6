package conn

import (
	"fmt"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/sirupsen/logrus"
)

// incomingRequest is a request released in CSeq order. When direct is set
// it is sent as-is and the Service is not consulted.
type incomingRequest struct {
	cseq    rtsp.CSeq
	request *rtsp.Request
	direct  *rtsp.Response
}

// correlator matches responses to pending requests and releases incoming
// requests in sequence. It is owned by the receiver goroutine.
type correlator struct {
	bufferSize int
	logger     logrus.FieldLogger

	baseline    rtsp.CSeq
	hasBaseline bool
	buffered    map[rtsp.CSeq]*rtsp.Request
	released    []incomingRequest
	pending     map[rtsp.CSeq]chan pendingResult
	refusing    bool
}

func newCorrelator(bufferSize int, logger logrus.FieldLogger) *correlator {
	return &correlator{
		bufferSize: bufferSize,
		logger:     logger,
		buffered:   make(map[rtsp.CSeq]*rtsp.Request),
		pending:    make(map[rtsp.CSeq]chan pendingResult),
	}
}

func (c *correlator) handleMessage(m rtsp.Message) error {
	switch m := m.(type) {
	case *rtsp.Request:
		return c.handleRequest(m)
	case *rtsp.Response:
		c.handleResponse(m)
		return nil
	}
	return fmt.Errorf("unexpected message type %T", m)
}

func (c *correlator) handleRequest(req *rtsp.Request) error {
	cseq, ok := req.CSeq()
	if !ok {
		return fmt.Errorf("%w: missing or invalid CSeq", ErrBadRequest)
	}

	logger := c.logger.WithField("cseq", cseq)
	if debugEnabled(c.logger) {
		logger.Debugf("received request\n%s", rtsp.Format(req))
	}
	requestsReceived.WithLabelValues(req.Method.String()).Inc()

	if !c.hasBaseline {
		c.baseline = cseq
		c.hasBaseline = true
	}
	if diff := cseq.Sub(c.baseline); diff > uint32(c.bufferSize) {
		return fmt.Errorf("%w: %d is %d ahead of %d", ErrCSeqDifferenceTooLarge, cseq, diff, c.baseline)
	}
	if _, exists := c.buffered[cseq]; exists {
		return fmt.Errorf("%w: duplicate CSeq %d", ErrBadRequest, cseq)
	}
	// A buffer filled without the baseline stops reads for good, so the
	// missing request could never arrive.
	if cseq != c.baseline && len(c.buffered)+1 >= c.bufferSize {
		return fmt.Errorf("%w: %d would fill the buffer while %d is missing", ErrCSeqDifferenceTooLarge, cseq, c.baseline)
	}
	c.buffered[cseq] = req

	for {
		next, ok := c.buffered[c.baseline]
		if !ok {
			break
		}
		delete(c.buffered, c.baseline)
		c.released = append(c.released, incomingRequest{
			cseq:    c.baseline,
			request: next,
			direct:  c.validate(next),
		})
		c.baseline = c.baseline.Next()
	}
	return nil
}

// validate returns the response for requests that are answered without
// reaching the Service.
func (c *correlator) validate(req *rtsp.Request) *rtsp.Response {
	if c.refusing {
		return rtsp.NewResponse(rtsp.StatusServiceUnavailable)
	}
	if req.Scheme() == "rtspu" {
		return rtsp.NewResponse(rtsp.StatusNotImplemented)
	}
	n, err := rtsp.ContentLength(req.Header)
	if err != nil || (n > 0 && req.Header.Get(rtsp.HeaderContentType) == "") {
		return rtsp.NewResponse(rtsp.StatusBadRequest)
	}
	return nil
}

func (c *correlator) handleResponse(res *rtsp.Response) {
	cseq, ok := res.CSeq()
	if !ok {
		c.logger.Debug("discarding response without CSeq")
		unmatchedResponses.Inc()
		return
	}

	logger := c.logger.WithField("cseq", cseq)
	if debugEnabled(c.logger) {
		logger.Debugf("received response\n%s", rtsp.Format(res))
	}

	slot, ok := c.pending[cseq]
	if !ok {
		logger.Debug("discarding response with no pending request")
		unmatchedResponses.Inc()
		return
	}
	responsesReceived.WithLabelValues(statusClass(res.StatusCode)).Inc()

	if res.IsContinue() {
		fresh := newSlot()
		select {
		case slot <- pendingResult{next: fresh}:
			c.pending[cseq] = fresh
		default:
			c.remove(cseq)
		}
		return
	}

	c.remove(cseq)
	select {
	case slot <- pendingResult{response: res}:
	default:
	}
}

func (c *correlator) addPending(cseq rtsp.CSeq, slot chan pendingResult) {
	if old, ok := c.pending[cseq]; ok {
		c.logger.WithField("cseq", cseq).Warn("replacing pending request with reused CSeq")
		close(old)
		pendingRequests.Dec()
	}
	c.pending[cseq] = slot
	pendingRequests.Inc()
}

func (c *correlator) remove(cseq rtsp.CSeq) {
	if _, ok := c.pending[cseq]; !ok {
		return
	}
	delete(c.pending, cseq)
	pendingRequests.Dec()
}

// apply registers or drops a pending entry on behalf of a Handle or a
// PendingRequest.
func (c *correlator) apply(u pendingUpdate) {
	if u.slot == nil {
		c.remove(u.cseq)
		return
	}
	c.addPending(u.cseq, u.slot)
}

// full reports whether no more incoming requests may be read.
func (c *correlator) full() bool {
	return len(c.buffered)+len(c.released) >= c.bufferSize
}

func (c *correlator) peekReleased() (incomingRequest, bool) {
	if len(c.released) == 0 {
		return incomingRequest{}, false
	}
	return c.released[0], true
}

func (c *correlator) popReleased() {
	c.released[0] = incomingRequest{}
	c.released = c.released[1:]
}

// refuseRequests answers every request released from now on with 503.
func (c *correlator) refuseRequests() {
	c.refusing = true
	for i := range c.released {
		if c.released[i].direct == nil {
			c.released[i].direct = rtsp.NewResponse(rtsp.StatusServiceUnavailable)
		}
	}
}

func (c *correlator) idle() bool {
	return len(c.pending) == 0 && len(c.buffered) == 0 && len(c.released) == 0
}

// cancelAll closes every pending slot so their waiters observe
// ErrRequestCancelled.
func (c *correlator) cancelAll() {
	for cseq, slot := range c.pending {
		close(slot)
		delete(c.pending, cseq)
		pendingRequests.Dec()
	}
}

func debugEnabled(logger logrus.FieldLogger) bool {
	switch l := logger.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	}
	return true
}
