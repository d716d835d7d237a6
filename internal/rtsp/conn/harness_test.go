package conn

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/stretchr/testify/require"
)

const messageWait = 2 * time.Second

// harness runs a Connection over one end of a pipe and plays the peer on
// the other.
type harness struct {
	t        *testing.T
	conn     *Connection
	remote   net.Conn
	encoder  *rtsp.Encoder
	messages chan rtsp.Message
	frames   chan rtsp.Frame
	readDone chan struct{}
	runErr   chan error

	waitOnce sync.Once
	err      error
}

func newHarness(t *testing.T, service Service, opts ...ConfigOption) *harness {
	t.Helper()
	cfg, err := NewConfig(append([]ConfigOption{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)

	local, remote := net.Pipe()
	h := &harness{
		t:        t,
		conn:     New(local, service, cfg),
		remote:   remote,
		encoder:  rtsp.NewEncoder(remote),
		messages: make(chan rtsp.Message, 64),
		frames:   make(chan rtsp.Frame, 64),
		readDone: make(chan struct{}),
		runErr:   make(chan error, 1),
	}
	go func() {
		h.runErr <- h.conn.Run(context.Background())
	}()
	go h.read()
	return h
}

func (h *harness) read() {
	defer close(h.readDone)
	defer close(h.messages)
	decoder := rtsp.NewDecoder(h.remote, rtsp.WithInterleavedFrames(func(channel uint8, payload []byte) {
		h.frames <- rtsp.Frame{Channel: channel, Payload: payload}
	}))
	for {
		m, err := decoder.Decode()
		if err != nil {
			return
		}
		h.messages <- m
	}
}

func (h *harness) write(m rtsp.Message) {
	h.t.Helper()
	require.NoError(h.t, h.encoder.Encode(m))
	require.NoError(h.t, h.encoder.Flush())
}

func (h *harness) next() rtsp.Message {
	h.t.Helper()
	select {
	case m, ok := <-h.messages:
		require.True(h.t, ok, "connection closed")
		return m
	case <-time.After(messageWait):
		require.FailNow(h.t, "timed out waiting for a message")
	}
	return nil
}

func (h *harness) nextRequest() *rtsp.Request {
	h.t.Helper()
	m := h.next()
	req, ok := m.(*rtsp.Request)
	require.True(h.t, ok, "expected a request, got %T", m)
	return req
}

func (h *harness) nextResponse() *rtsp.Response {
	h.t.Helper()
	m := h.next()
	res, ok := m.(*rtsp.Response)
	require.True(h.t, ok, "expected a response, got %T", m)
	return res
}

// nextFinal skips Continue responses.
func (h *harness) nextFinal() (*rtsp.Response, int) {
	h.t.Helper()
	continues := 0
	for {
		res := h.nextResponse()
		if !res.IsContinue() {
			return res, continues
		}
		continues++
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	h.waitOnce.Do(func() {
		select {
		case h.err = <-h.runErr:
		case <-time.After(5 * time.Second):
			require.FailNow(h.t, "connection did not stop")
		}
	})
	return h.err
}

// close hangs up as the peer and waits for the connection to stop.
func (h *harness) close() error {
	h.t.Helper()
	_ = h.remote.Close()
	err := h.wait()
	<-h.readDone
	return err
}

func requireCSeq(t *testing.T, m rtsp.Message, expected rtsp.CSeq) {
	t.Helper()
	cseq, ok := rtsp.GetCSeq(m.Headers())
	require.True(t, ok, "message has no CSeq")
	require.Equal(t, expected, cseq)
}

func okService(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	return rtsp.NewResponse(rtsp.StatusOK), nil
}
