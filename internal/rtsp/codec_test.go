package rtsp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	raw := "DESCRIBE rtsp://example.com/stream RTSP/1.0\r\n" +
		"CSeq: 7\r\n" +
		"Accept: application/sdp\r\n" +
		"\r\n"

	msg, err := NewDecoder(strings.NewReader(raw)).Decode()
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	require.Equal(t, MethodDescribe, req.Method)
	require.Equal(t, "rtsp://example.com/stream", req.URL)
	require.Equal(t, "1.0", req.Version)
	require.Equal(t, "application/sdp", req.Header.Get(HeaderAccept))

	seq, ok := req.CSeq()
	require.True(t, ok)
	require.Equal(t, CSeq(7), seq)
}

func TestDecodeResponseWithBody(t *testing.T) {
	raw := "RTSP/1.0 200 OK\r\n" +
		"CSeq: 3\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"v=0\r\n"

	msg, err := NewDecoder(strings.NewReader(raw)).Decode()
	require.NoError(t, err)

	res, ok := msg.(*Response)
	require.True(t, ok)
	require.Equal(t, StatusOK, res.StatusCode)
	require.Equal(t, "OK", res.Reason)
	require.Equal(t, []byte("v=0\r\n"), res.Body)
	require.False(t, res.IsContinue())
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("")).Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeTruncatedMessageIsProtocolError(t *testing.T) {
	raw := "RTSP/1.0 200 OK\r\nCSeq: 3\r\nContent-Length: 10\r\n\r\nabc"

	_, err := NewDecoder(strings.NewReader(raw)).Decode()

	var protocolErr *ProtocolError
	require.True(t, errors.As(err, &protocolErr))
}

func TestDecodeMalformedStartLine(t *testing.T) {
	for _, line := range []string{
		"RTSP/1.0 abc OK",
		"OPTIONS rtsp://example.com",
		"OPTIONS rtsp://example.com HTTP/1.1",
	} {
		_, err := NewDecoder(strings.NewReader(line + "\r\nCSeq: 1\r\n\r\n")).Decode()

		var protocolErr *ProtocolError
		require.True(t, errors.As(err, &protocolErr), line)
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	raw := "ANNOUNCE rtsp://example.com RTSP/1.0\r\nCSeq: 1\r\nContent-Length: 99999999\r\n\r\n"

	_, err := NewDecoder(strings.NewReader(raw)).Decode()

	var protocolErr *ProtocolError
	require.True(t, errors.As(err, &protocolErr))
}

func TestDecodeEmitsEventsAndInterleavedFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x24, 0x01, 0x00, 0x03, 'a', 'b', 'c'})
	stream.WriteString("RTSP/1.0 100 Continue\r\nCSeq: 9\r\n\r\n")

	var (
		events   []CodecEvent
		channels []uint8
		payloads [][]byte
	)
	decoder := NewDecoder(&stream,
		WithCodecEvents(func(e CodecEvent) {
			events = append(events, e)
		}),
		WithInterleavedFrames(func(channel uint8, payload []byte) {
			channels = append(channels, channel)
			payloads = append(payloads, payload)
		}),
	)

	msg, err := decoder.Decode()
	require.NoError(t, err)
	require.True(t, msg.(*Response).IsContinue())

	require.Equal(t, []uint8{1}, channels)
	require.Equal(t, [][]byte{[]byte("abc")}, payloads)
	require.Equal(t, []CodecEvent{DecodingStarted, DecodingEnded, DecodingStarted, DecodingEnded}, events)
}

func TestEncodeDecodeRequest(t *testing.T) {
	req := NewRequest(MethodAnnounce, "rtsp://example.com/live")
	SetCSeq(req.Header, 42)
	req.Header.Set(HeaderContentType, "application/sdp")
	req.Header.Set(HeaderRTPInfo, "url=rtsp://example.com/live;seq=1")
	req.Body = []byte("v=0\r\n")

	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	require.NoError(t, encoder.Encode(req))
	require.NoError(t, encoder.Flush())

	wire := buf.String()
	require.True(t, strings.HasPrefix(wire, "ANNOUNCE rtsp://example.com/live RTSP/1.0\r\nCSeq: 42\r\n"))
	require.Contains(t, wire, "RTP-Info: url=rtsp://example.com/live;seq=1\r\n")
	require.Contains(t, wire, "Content-Length: 5\r\n")

	msg, err := NewDecoder(&buf).Decode()
	require.NoError(t, err)
	decoded := msg.(*Request)
	require.Equal(t, req.Body, decoded.Body)
	require.Equal(t, MethodAnnounce, decoded.Method)
}

func TestFormatResponse(t *testing.T) {
	res := NewResponse(StatusSessionNotFound)
	SetCSeq(res.Header, 2)

	require.Equal(t, "RTSP/1.0 454 Session Not Found\r\nCSeq: 2\r\n\r\n", Format(res))
}

func TestEncodeFrameBetweenMessages(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)

	req := NewRequest(MethodOptions, "*")
	SetCSeq(req.Header, 1)
	require.NoError(t, encoder.Encode(req))
	require.NoError(t, encoder.EncodeFrame(&Frame{Channel: 4, Payload: []byte{1, 2, 3}}))
	res := NewResponse(StatusOK)
	SetCSeq(res.Header, 2)
	require.NoError(t, encoder.Encode(res))
	require.NoError(t, encoder.Flush())

	var frames [][]byte
	decoder := NewDecoder(&buf, WithInterleavedFrames(func(channel uint8, payload []byte) {
		require.EqualValues(t, 4, channel)
		frames = append(frames, payload)
	}))
	first, err := decoder.Decode()
	require.NoError(t, err)
	require.IsType(t, &Request{}, first)
	second, err := decoder.Decode()
	require.NoError(t, err)
	require.IsType(t, &Response{}, second)
	require.Equal(t, [][]byte{{1, 2, 3}}, frames)
}

func TestEncodeFrameTooLarge(t *testing.T) {
	encoder := NewEncoder(io.Discard)
	err := encoder.EncodeFrame(&Frame{Payload: make([]byte, MaxFramePayload+1)})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
