package server

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
	"github.com/bilbercode/rtspconn/internal/rtsp/transport"
)

const streamURL = "rtsp://example.com/stream/front_door"

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	s, err := NewServer("test", conn.WithLogger(discardLogger()))
	require.NoError(t, err)
	s.RegisterStream("front_door", NewH264Media("trackID=0"))
	return s.(*server)
}

// dial connects an engine client to s over a pipe. The returned func hangs
// up and waits for both sides to finish.
func dial(t *testing.T, s Server, opts ...conn.ConfigOption) (*conn.Handle, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverSide, clientSide := net.Pipe()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.ServeConn(ctx, serverSide)
	}()

	cfg, err := conn.NewConfig(append([]conn.ConfigOption{conn.WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	c := conn.New(clientSide, nil, cfg)
	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(context.Background())
	}()

	return c.Handle(), func() {
		c.Handle().Shutdown()
		require.NoError(t, <-runErr)
		require.NoError(t, <-serveErr)
		cancel()
	}
}

func send(t *testing.T, h *conn.Handle, req *rtsp.Request) *rtsp.Response {
	t.Helper()
	res, err := h.SendRequest(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestOptions(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	res := send(t, h, rtsp.NewRequest(rtsp.MethodOptions, "*"))
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.Equal(t, "OPTIONS, DESCRIBE, SETUP, PLAY, GET_PARAMETER, TEARDOWN", res.Header.Get(rtsp.HeaderPublic))
}

func TestDescribe(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	req := rtsp.NewRequest(rtsp.MethodDescribe, streamURL)
	req.Header.Set(rtsp.HeaderAccept, "application/sdp")
	res := send(t, h, req)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.Equal(t, "application/sdp", res.Header.Get(rtsp.HeaderContentType))
	require.Equal(t, streamURL+"/", res.Header.Get(rtsp.HeaderContentBase))

	description := &sdp.SessionDescription{}
	require.NoError(t, description.Unmarshal(res.Body))
	require.Equal(t, sdp.SessionName("test"), description.SessionName)
	require.Len(t, description.MediaDescriptions, 1)

	codec, err := description.GetCodecForPayloadType(96)
	require.NoError(t, err)
	require.Equal(t, "H264", codec.Name)
	require.EqualValues(t, 90000, codec.ClockRate)

	control, ok := description.MediaDescriptions[0].Attribute("control")
	require.True(t, ok)
	require.Equal(t, "trackID=0", control)
}

func TestDescribeErrors(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	res := send(t, h, rtsp.NewRequest(rtsp.MethodDescribe, "rtsp://example.com/stream/back_door"))
	require.Equal(t, rtsp.StatusNotFound, res.StatusCode)

	req := rtsp.NewRequest(rtsp.MethodDescribe, streamURL)
	req.Header.Set(rtsp.HeaderAccept, "text/plain")
	res = send(t, h, req)
	require.Equal(t, rtsp.StatusNotAcceptable, res.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	h, hangup := dial(t, s)
	defer hangup()

	setup := rtsp.NewRequest(rtsp.MethodSetup, streamURL+"/trackID=0")
	setup.Header.Set(rtsp.HeaderTransport, transport.NewInterleaved(0, 1).String())
	res := send(t, h, setup)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1", res.Header.Get(rtsp.HeaderTransport))

	session := res.Header.Get(rtsp.HeaderSession)
	require.True(t, strings.HasSuffix(session, ";timeout=60"))
	sessionID := sessionFromHeader(session)
	require.True(t, s.streams["front_door"].has(sessionID))

	play := rtsp.NewRequest(rtsp.MethodPlay, streamURL)
	play.Header.Set(rtsp.HeaderSession, sessionID)
	res = send(t, h, play)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.Equal(t, "npt=0.000-", res.Header.Get(rtsp.HeaderRange))
	require.True(t, s.streams["front_door"].sessions[sessionID].playing)

	keepalive := rtsp.NewRequest(rtsp.MethodGetParameter, streamURL)
	keepalive.Header.Set(rtsp.HeaderSession, sessionID)
	res = send(t, h, keepalive)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.Equal(t, sessionID, res.Header.Get(rtsp.HeaderSession))

	teardown := rtsp.NewRequest(rtsp.MethodTeardown, streamURL)
	teardown.Header.Set(rtsp.HeaderSession, sessionID)
	res = send(t, h, teardown)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	require.False(t, s.streams["front_door"].has(sessionID))

	play = rtsp.NewRequest(rtsp.MethodPlay, streamURL)
	play.Header.Set(rtsp.HeaderSession, sessionID)
	res = send(t, h, play)
	require.Equal(t, rtsp.StatusSessionNotFound, res.StatusCode)
}

func TestSetupRejectsTransports(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	tests := map[string]int{
		"":                    rtsp.StatusUnsupportedTransport,
		"RAW/RAW/UDP;unicast": rtsp.StatusUnsupportedTransport,
		"RTP/AVP;client_port": rtsp.StatusBadRequest,
	}
	for value, code := range tests {
		req := rtsp.NewRequest(rtsp.MethodSetup, streamURL+"/trackID=0")
		if value != "" {
			req.Header.Set(rtsp.HeaderTransport, value)
		}
		res := send(t, h, req)
		require.Equal(t, code, res.StatusCode, "transport %q", value)
	}
}

func TestPlayWithoutSession(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	res := send(t, h, rtsp.NewRequest(rtsp.MethodPlay, streamURL))
	require.Equal(t, rtsp.StatusSessionNotFound, res.StatusCode)
}

func TestUnsupportedMethod(t *testing.T) {
	h, hangup := dial(t, newTestServer(t))
	defer hangup()

	res := send(t, h, rtsp.NewRequest(rtsp.MethodAnnounce, streamURL))
	require.Equal(t, rtsp.StatusMethodNotAllowed, res.StatusCode)
	require.Contains(t, res.Header.Get(rtsp.HeaderAllow), "DESCRIBE")

	res = send(t, h, rtsp.NewRequest(rtsp.Method("FLUSH"), streamURL))
	require.Equal(t, rtsp.StatusNotImplemented, res.StatusCode)
	require.Empty(t, res.Header.Get(rtsp.HeaderAllow))
}

func TestSessionsReleasedOnDisconnect(t *testing.T) {
	s := newTestServer(t)
	h, hangup := dial(t, s)

	setup := rtsp.NewRequest(rtsp.MethodSetup, streamURL+"/trackID=0")
	setup.Header.Set(rtsp.HeaderTransport, transport.NewInterleaved(0, 1).String())
	res := send(t, h, setup)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)

	hangup()
	require.Empty(t, s.streams["front_door"].sessions)
}

func TestServeShutsDownConnections(t *testing.T) {
	s := newTestServer(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, listener)
	}()

	nc, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	c := conn.New(nc, nil, conn.Config{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(context.Background())
	}()

	res := send(t, c.Handle(), rtsp.NewRequest(rtsp.MethodOptions, "*"))
	require.Equal(t, rtsp.StatusOK, res.StatusCode)

	cancel()
	require.NoError(t, <-serveErr)
	require.NoError(t, <-runErr)
}
