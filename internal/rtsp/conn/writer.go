package conn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/sirupsen/logrus"
)

// outbound is a queued message or interleaved frame.
type outbound struct {
	message rtsp.Message
	frame   *rtsp.Frame
}

// writer serialises queued messages onto the transport, flushing whenever
// the queue runs dry.
type writer struct {
	encoder  *rtsp.Encoder
	outgoing chan outbound
	done     chan struct{}
	logger   logrus.FieldLogger
}

func newWriter(w io.Writer, queueSize int, logger logrus.FieldLogger) *writer {
	return &writer{
		encoder:  rtsp.NewEncoder(w),
		outgoing: make(chan outbound, queueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// send queues m and reports false once the writer has stopped.
func (w *writer) send(m rtsp.Message) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.outgoing <- outbound{message: m}:
		return true
	case <-w.done:
		return false
	}
}

// sendFrame queues f without blocking. Media is dropped rather than stall
// the control traffic behind it.
func (w *writer) sendFrame(f *rtsp.Frame) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.outgoing <- outbound{frame: f}:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// run writes until ctx is done, then drains what is already queued.
func (w *writer) run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case o := <-w.outgoing:
			if err := w.write(o); err != nil {
				return err
			}
		case <-ctx.Done():
			return w.drain()
		}
	}
}

func (w *writer) drain() error {
	for {
		select {
		case o := <-w.outgoing:
			if err := w.write(o); err != nil {
				w.logger.WithError(err).Debug("failed to write message while closing")
				return nil
			}
		default:
			if err := w.encoder.Flush(); err != nil {
				w.logger.WithError(err).Debug("failed to flush while closing")
			}
			return nil
		}
	}
}

func (w *writer) write(o outbound) error {
	if o.frame != nil {
		if err := w.encoder.EncodeFrame(o.frame); err != nil {
			return fmt.Errorf("failed to write frame on channel %d: %w", o.frame.Channel, err)
		}
	} else {
		m := o.message
		m.Headers().Set(rtsp.HeaderDate, time.Now().UTC().Format(http.TimeFormat))
		if debugEnabled(w.logger) {
			w.logger.Debugf("sending message\n%s", rtsp.Format(m))
		}
		if err := w.encoder.Encode(m); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if len(w.outgoing) > 0 {
		return nil
	}
	if err := w.encoder.Flush(); err != nil {
		return fmt.Errorf("failed to flush transport: %w", err)
	}
	return nil
}
