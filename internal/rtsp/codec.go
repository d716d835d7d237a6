package rtsp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	// MaxBodySize bounds the Content-Length accepted by the decoder.
	MaxBodySize = 4 << 20

	interleavedMarker = 0x24
	readBufferSize    = 4096
)

var ErrMalformedStartLine = errors.New("malformed start line")

// ProtocolError is returned by the Decoder when the byte stream cannot be
// parsed as RTSP. The connection it came from can no longer be trusted.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "rtsp protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type CodecEvent int

const (
	// DecodingStarted is emitted when the first byte of a message is seen.
	DecodingStarted CodecEvent = iota + 1
	// DecodingEnded is emitted once the message has been fully read.
	DecodingEnded
)

func (e CodecEvent) String() string {
	switch e {
	case DecodingStarted:
		return "decoding started"
	case DecodingEnded:
		return "decoding ended"
	}
	return "unknown"
}

type DecoderOption func(d *Decoder)

// WithCodecEvents registers f to be called with every CodecEvent.
func WithCodecEvents(f func(CodecEvent)) DecoderOption {
	return func(d *Decoder) {
		d.onEvent = f
	}
}

// WithInterleavedFrames registers f to receive '$' framed data interleaved
// with RTSP messages on the same stream. Without a handler frames are
// discarded.
func WithInterleavedFrames(f func(channel uint8, payload []byte)) DecoderOption {
	return func(d *Decoder) {
		d.onFrame = f
	}
}

type Decoder struct {
	br      *bufio.Reader
	reader  *textproto.Reader
	onEvent func(CodecEvent)
	onFrame func(channel uint8, payload []byte)
}

func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	br := bufio.NewReaderSize(r, readBufferSize)
	d := &Decoder{
		br:     br,
		reader: textproto.NewReader(br),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads the next message from the stream. io.EOF is returned when the
// stream ends cleanly between two messages.
func (d *Decoder) Decode() (Message, error) {
	for {
		first, err := d.br.ReadByte()
		if err != nil {
			return nil, err
		}

		// tolerate stray line breaks between messages
		if first == '\r' || first == '\n' {
			continue
		}

		if err := d.br.UnreadByte(); err != nil {
			return nil, fmt.Errorf("failed to unread socket input byte: %w", err)
		}

		d.emit(DecodingStarted)

		if first == interleavedMarker {
			if err := d.readInterleavedFrame(); err != nil {
				return nil, err
			}
			d.emit(DecodingEnded)
			continue
		}

		message, err := d.readMessage()
		if err != nil {
			return nil, err
		}
		d.emit(DecodingEnded)
		return message, nil
	}
}

func (d *Decoder) emit(e CodecEvent) {
	if d.onEvent != nil {
		d.onEvent(e)
	}
}

func (d *Decoder) readInterleavedFrame() error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(d.br, header); err != nil {
		return &ProtocolError{Err: fmt.Errorf("failed to read interleaved frame header: %w", err)}
	}

	channel := header[1]
	length := binary.BigEndian.Uint16(header[2:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.br, payload); err != nil {
		return &ProtocolError{Err: fmt.Errorf("failed to read interleaved frame payload: %w", err)}
	}

	if d.onFrame != nil {
		d.onFrame(channel, payload)
	}
	return nil
}

func (d *Decoder) readMessage() (Message, error) {
	startLine, err := d.reader.ReadLine()
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("failed to read RTSP start line: %w", err)}
	}

	mime, err := d.reader.ReadMIMEHeader()
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("failed to read RTSP headers: %w", err)}
	}
	header := http.Header(mime)

	length, err := ContentLength(header)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	if length > MaxBodySize {
		return nil, &ProtocolError{Err: fmt.Errorf("content-length %d exceeds limit %d", length, MaxBodySize)}
	}

	var body []byte
	if length > 0 {
		body = make([]byte, length)
		if _, err := io.ReadFull(d.br, body); err != nil {
			return nil, &ProtocolError{Err: fmt.Errorf("failed to read body of RTSP: %w", err)}
		}
	}

	if strings.HasPrefix(startLine, "RTSP/") {
		return parseStatusLine(startLine, header, body)
	}
	return parseRequestLine(startLine, header, body)
}

func parseStatusLine(line string, header http.Header, body []byte) (*Response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, &ProtocolError{Err: fmt.Errorf("%w: %q", ErrMalformedStartLine, line)}
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, &ProtocolError{Err: fmt.Errorf("failed to parse response code %q", parts[1])}
	}

	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	return &Response{
		Version:    strings.TrimPrefix(parts[0], "RTSP/"),
		StatusCode: code,
		Reason:     reason,
		Header:     header,
		Body:       body,
	}, nil
}

func parseRequestLine(line string, header http.Header, body []byte) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "RTSP/") {
		return nil, &ProtocolError{Err: fmt.Errorf("%w: %q", ErrMalformedStartLine, line)}
	}

	return &Request{
		Method:  Method(parts[0]),
		URL:     parts[1],
		Version: strings.TrimPrefix(parts[2], "RTSP/"),
		Header:  header,
		Body:    body,
	}, nil
}

type Encoder struct {
	bw *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{bw: bufio.NewWriter(w)}
}

// Encode buffers m. Call Flush to push buffered messages to the transport.
func (e *Encoder) Encode(m Message) error {
	return m.writeTo(e.bw)
}

func (e *Encoder) Flush() error {
	return e.bw.Flush()
}

// Format renders m the way it would be written on the wire, for logging.
func Format(m Message) string {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := m.writeTo(bw); err != nil {
		return fmt.Sprintf("<unencodable message: %v>", err)
	}
	_ = bw.Flush()
	return buf.String()
}
