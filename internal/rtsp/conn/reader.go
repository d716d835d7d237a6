package conn

import (
	"context"
	"io"

	"github.com/bilbercode/rtspconn/internal/rtsp"
)

type decodeResult struct {
	message rtsp.Message
	err     error
}

// reader decodes exactly one message from the transport for every pull.
// Between pulls it does not touch the transport, which lets the receiver
// apply backpressure.
type reader struct {
	decoder *rtsp.Decoder
	pull    chan struct{}
	results chan decodeResult
	events  chan rtsp.CodecEvent
	done    <-chan struct{}
}

func newReader(r io.Reader, frames func(channel uint8, payload []byte)) *reader {
	rd := &reader{
		pull:    make(chan struct{}, 1),
		results: make(chan decodeResult),
		events:  make(chan rtsp.CodecEvent, 8),
	}
	opts := []rtsp.DecoderOption{rtsp.WithCodecEvents(rd.emit)}
	if frames != nil {
		opts = append(opts, rtsp.WithInterleavedFrames(frames))
	}
	rd.decoder = rtsp.NewDecoder(r, opts...)
	return rd
}

func (r *reader) run(ctx context.Context) error {
	r.done = ctx.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.pull:
		}

		m, err := r.decoder.Decode()
		select {
		case r.results <- decodeResult{message: m, err: err}:
		case <-ctx.Done():
			return nil
		}
		if err != nil {
			return nil
		}
	}
}

func (r *reader) emit(e rtsp.CodecEvent) {
	select {
	case r.events <- e:
	case <-r.done:
	}
}
