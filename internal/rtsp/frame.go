package rtsp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxFramePayload is the largest payload an interleaved frame can carry.
const MaxFramePayload = 0xFFFF

var ErrFrameTooLarge = errors.New("interleaved frame payload too large")

// Frame is binary data interleaved with RTSP messages on the control
// connection, typically RTP or RTCP.
type Frame struct {
	Channel uint8
	Payload []byte
}

// EncodeFrame buffers f in its `$` framed form.
func (e *Encoder) EncodeFrame(f *Frame) error {
	if len(f.Payload) > MaxFramePayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	header := [4]byte{interleavedMarker, f.Channel}
	binary.BigEndian.PutUint16(header[2:], uint16(len(f.Payload)))
	if _, err := e.bw.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := e.bw.Write(f.Payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}
