package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/sirupsen/logrus"
)

type serviceResult struct {
	response *rtsp.Response
	err      error
}

// requestHandler services released requests in order, one at a time.
type requestHandler struct {
	service      Service
	continueWait time.Duration
	queue        <-chan incomingRequest
	serviced     chan<- struct{}
	receiverDone <-chan struct{}
	send         func(rtsp.Message) bool
	logger       logrus.FieldLogger
}

func (h *requestHandler) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-h.queue:
			if !ok {
				return nil
			}
			h.process(ctx, in)
			select {
			case h.serviced <- struct{}{}:
			case <-h.receiverDone:
			}
		}
	}
}

func (h *requestHandler) process(ctx context.Context, in incomingRequest) {
	if in.direct != nil {
		h.respond(in.cseq, in.direct)
		return
	}

	result := make(chan serviceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- serviceResult{err: fmt.Errorf("service panicked: %v", r)}
			}
		}()
		res, err := h.service.Serve(ctx, in.request)
		result <- serviceResult{response: res, err: err}
	}()

	var tick <-chan time.Time
	if h.continueWait > 0 {
		ticker := time.NewTicker(h.continueWait)
		defer ticker.Stop()
		tick = ticker.C
	}

	logger := h.logger.WithFields(logrus.Fields{
		"cseq":   in.cseq,
		"method": in.request.Method,
	})
	for {
		select {
		case r := <-result:
			switch {
			case r.err != nil:
				logger.WithError(r.err).Error("failed to service request")
				h.respond(in.cseq, rtsp.NewResponse(rtsp.StatusInternalServerError))
			case r.response == nil:
				logger.Error("service returned no response")
				h.respond(in.cseq, rtsp.NewResponse(rtsp.StatusInternalServerError))
			default:
				h.respond(in.cseq, r.response)
			}
			return
		case <-tick:
			logger.Debug("request still in progress, sending continue")
			h.respond(in.cseq, rtsp.NewResponse(rtsp.StatusContinue))
		case <-ctx.Done():
			return
		}
	}
}

func (h *requestHandler) respond(cseq rtsp.CSeq, res *rtsp.Response) {
	rtsp.SetCSeq(res.Headers(), cseq)
	if !h.send(res) {
		h.logger.WithField("cseq", cseq).Debug("dropping response, connection closed")
	}
}
