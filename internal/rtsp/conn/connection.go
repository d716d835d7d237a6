package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	updateQueueSize = 64
	writeQueueSize  = 64
)

// Connection runs the RTSP protocol over a single transport. Requests sent
// through its Handle are matched to their responses while requests from the
// peer are passed to a Service in CSeq order.
type Connection struct {
	config    Config
	transport io.ReadWriteCloser
	logger    logrus.FieldLogger

	correlator *correlator
	reader     *reader
	writer     *writer
	handler    *requestHandler
	handle     *Handle

	updates      chan pendingUpdate
	toHandler    chan incomingRequest
	serviced     chan struct{}
	receiverDone chan struct{}
	done         chan struct{}

	inFlight int
	running  atomic.Bool

	errMu sync.Mutex
	err   error
}

// New creates a Connection over transport. A nil service answers every
// request from the peer with 501. A zero Config is replaced by
// DefaultConfig.
func New(transport io.ReadWriteCloser, service Service, config Config) *Connection {
	if config.requestBufferSize == 0 {
		config = DefaultConfig()
	}
	if service == nil {
		service = NotImplemented
	}

	c := &Connection{
		config:       config,
		transport:    transport,
		logger:       config.logger,
		correlator:   newCorrelator(config.requestBufferSize, config.logger),
		reader:       newReader(transport, config.frameHandler),
		writer:       newWriter(transport, writeQueueSize, config.logger),
		updates:      make(chan pendingUpdate, updateQueueSize),
		toHandler:    make(chan incomingRequest),
		serviced:     make(chan struct{}),
		receiverDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.handler = &requestHandler{
		service:      service,
		continueWait: config.continueWaitDuration,
		queue:        c.toHandler,
		serviced:     c.serviced,
		receiverDone: c.receiverDone,
		send:         c.writer.send,
		logger:       config.logger,
	}
	c.handle = newHandle(c)
	return c
}

func (c *Connection) Handle() *Handle {
	return c.handle
}

// Err returns the error that ended Run.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Run drives the connection until the peer goes away, ctx is done, a graceful
// shutdown completes or a fatal error occurs. The transport is closed before
// Run returns. A connection can only be run once.
func (c *Connection) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	group, gctx := errgroup.WithContext(ctx)
	readerCtx, stopReader := context.WithCancel(gctx)
	defer stopReader()
	writerCtx, stopWriter := context.WithCancel(gctx)
	defer stopWriter()
	handlerDone := make(chan struct{})

	group.Go(func() error {
		return c.reader.run(readerCtx)
	})
	group.Go(func() error {
		defer close(handlerDone)
		return c.handler.run(readerCtx)
	})
	group.Go(func() error {
		err := c.writer.run(writerCtx)
		if cerr := c.transport.Close(); cerr != nil {
			c.logger.WithError(cerr).Debug("failed to close transport")
		}
		return err
	})
	group.Go(func() error {
		err := c.receive(gctx)
		c.teardown()
		stopReader()
		<-handlerDone
		stopWriter()
		return err
	})

	err := group.Wait()
	if err != nil {
		connectionErrors.WithLabelValues(errorReason(err)).Inc()
		c.logger.WithError(err).Warn("connection closed with error")
	} else {
		c.logger.Debug("connection closed")
	}

	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	return err
}

// receive owns the correlator. It feeds decoded messages into it, applies
// pending updates from the Handle and hands released requests to the
// request handler.
func (c *Connection) receive(ctx context.Context) error {
	var (
		reading     bool
		shutdown    = c.handle.shutdown
		graceExpiry <-chan time.Time
		decodeTimer *time.Timer
		decodeC     <-chan time.Time
		closing     bool
	)
	defer func() {
		if decodeTimer != nil {
			decodeTimer.Stop()
		}
	}()

	for {
		c.applyUpdates()

		select {
		case <-shutdown:
			shutdown = nil
			closing = true
			graceExpiry = c.startShutdown()
		default:
		}

		if closing && c.inFlight == 0 && c.correlator.idle() {
			c.logger.Debug("graceful shutdown complete")
			return nil
		}

		if !reading && !c.correlator.full() {
			c.reader.pull <- struct{}{}
			reading = true
		}

		var (
			handlerQueue chan<- incomingRequest
			next         incomingRequest
		)
		if in, ok := c.correlator.peekReleased(); ok {
			handlerQueue = c.toHandler
			next = in
		}

		select {
		case <-ctx.Done():
			return nil

		case u := <-c.updates:
			c.correlator.apply(u)

		case res := <-c.reader.results:
			reading = false
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					c.logger.Debug("peer closed connection")
					return nil
				}
				return fmt.Errorf("failed to decode message: %w", res.err)
			}
			c.applyUpdates()
			if err := c.dispatch(res.message); err != nil {
				return err
			}

		case e := <-c.reader.events:
			switch e {
			case rtsp.DecodingStarted:
				if decodeTimer != nil {
					decodeTimer.Stop()
				}
				decodeTimer = time.NewTimer(c.config.decodeTimeoutDuration)
				decodeC = decodeTimer.C
			case rtsp.DecodingEnded:
				if decodeTimer != nil {
					decodeTimer.Stop()
				}
				decodeC = nil
			}

		case <-decodeC:
			return ErrDecodeTimeout

		case handlerQueue <- next:
			c.correlator.popReleased()
			c.inFlight++

		case <-c.serviced:
			c.inFlight--

		case <-shutdown:
			shutdown = nil
			closing = true
			graceExpiry = c.startShutdown()

		case <-graceExpiry:
			c.logger.Warn("graceful shutdown timed out")
			return nil
		}
	}
}

// startShutdown answers further peer requests with 503 and returns the
// channel that fires when the grace period is over.
func (c *Connection) startShutdown() <-chan time.Time {
	c.logger.Debug("graceful shutdown started")
	c.correlator.refuseRequests()
	return time.After(c.config.gracefulShutdownTimeoutDuration)
}

// applyUpdates drains queued pending updates. It runs before every decoded
// message is dispatched so a registration is always seen before the
// response it matches.
func (c *Connection) applyUpdates() {
	for {
		select {
		case u := <-c.updates:
			c.correlator.apply(u)
		default:
			return
		}
	}
}

func (c *Connection) dispatch(m rtsp.Message) error {
	err := c.correlator.handleMessage(m)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBadRequest) && !errors.Is(err, ErrCSeqDifferenceTooLarge) {
		return err
	}

	c.logger.WithError(err).Warn("rejecting request")
	res := rtsp.NewResponse(rtsp.StatusBadRequest)
	if cseq, ok := rtsp.GetCSeq(m.Headers()); ok {
		rtsp.SetCSeq(res.Headers(), cseq)
	}
	c.writer.send(res)

	if errors.Is(err, ErrCSeqDifferenceTooLarge) {
		return err
	}
	return nil
}

// teardown cancels every pending request and marks the receiver as gone.
func (c *Connection) teardown() {
	c.applyUpdates()
	c.correlator.cancelAll()
	close(c.receiverDone)
}

func errorReason(err error) string {
	var protocolErr *rtsp.ProtocolError
	switch {
	case errors.Is(err, ErrDecodeTimeout):
		return "decode_timeout"
	case errors.Is(err, ErrCSeqDifferenceTooLarge):
		return "cseq_difference"
	case errors.As(err, &protocolErr):
		return "protocol"
	}
	return "io"
}
