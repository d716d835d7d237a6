package server

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
	"github.com/bilbercode/rtspconn/internal/rtsp/transport"
)

type relayedFrame struct {
	channel uint8
	payload []byte
}

func nextFrame(t *testing.T, frames <-chan relayedFrame) relayedFrame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame relayed")
	}
	return relayedFrame{}
}

func TestPublishedMediaRelayedToPlayingSessions(t *testing.T) {
	s := newTestServer(t)
	frames := make(chan relayedFrame, 16)
	h, hangup := dial(t, s, conn.WithInterleavedFrameHandler(func(channel uint8, payload []byte) {
		frames <- relayedFrame{channel: channel, payload: payload}
	}))
	defer hangup()

	src, err := s.Publish("front_door")
	require.NoError(t, err)
	defer src.Close()

	setup := rtsp.NewRequest(rtsp.MethodSetup, streamURL+"/trackID=0")
	setup.Header.Set(rtsp.HeaderTransport, transport.NewInterleaved(4, 5).String())
	res := send(t, h, setup)
	require.Equal(t, rtsp.StatusOK, res.StatusCode)
	sessionID := sessionFromHeader(res.Header.Get(rtsp.HeaderSession))

	// not playing yet
	src.HandleRTP(packet(0xBEEF, 1000, true))

	play := rtsp.NewRequest(rtsp.MethodPlay, streamURL)
	play.Header.Set(rtsp.HeaderSession, sessionID)
	require.Equal(t, rtsp.StatusOK, send(t, h, play).StatusCode)

	for i, ts := range []uint32{4000, 7000} {
		p := packet(0xBEEF, ts, true)
		p.SequenceNumber = 900
		src.HandleRTP(p)

		f := nextFrame(t, frames)
		require.EqualValues(t, 4, f.channel)
		relayed := &rtp.Packet{}
		require.NoError(t, relayed.Unmarshal(f.payload))
		require.EqualValues(t, i+1, relayed.SequenceNumber)
		require.Equal(t, ts, relayed.Timestamp)
		require.EqualValues(t, 0xBEEF, relayed.SSRC)
	}

	src.HandleRTCP([]rtcp.Packet{&rtcp.SenderReport{SSRC: 0xBEEF, PacketCount: 2}})
	f := nextFrame(t, frames)
	require.EqualValues(t, 5, f.channel)
	packets, err := rtcp.Unmarshal(f.payload)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.IsType(t, &rtcp.SenderReport{}, packets[0])

	teardown := rtsp.NewRequest(rtsp.MethodTeardown, streamURL)
	teardown.Header.Set(rtsp.HeaderSession, sessionID)
	require.Equal(t, rtsp.StatusOK, send(t, h, teardown).StatusCode)
	src.HandleRTP(packet(0xBEEF, 10000, true))

	// a round trip after the last packet proves nothing else was relayed
	send(t, h, rtsp.NewRequest(rtsp.MethodOptions, "*"))
	require.Empty(t, frames)
}

func TestPublishUnknownStream(t *testing.T) {
	_, err := newTestServer(t).Publish("back_door")
	require.ErrorIs(t, err, ErrStreamNotFound)
}

func TestNewRelayMediaKeepsCodecParameters(t *testing.T) {
	upstream := (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "video",
			Port:   sdp.RangedPort{Value: 0},
			Protos: []string{"RTP", "AVP"},
		},
	}).
		WithCodec(97, "H264", 90000, 0, "packetization-mode=1;sprop-parameter-sets=Z0IAH5WoFAFuQA==,aM48gA==").
		WithValueAttribute("control", "rtsp://camera.local/stream/track1")

	media := NewRelayMedia(upstream, "trackID=0")
	require.Equal(t, []string{"97"}, media.MediaName.Formats)

	control, ok := media.Attribute("control")
	require.True(t, ok)
	require.Equal(t, "trackID=0", control)
	fmtp, ok := media.Attribute("fmtp")
	require.True(t, ok)
	require.Contains(t, fmtp, "sprop-parameter-sets")

	original, _ := upstream.Attribute("control")
	require.Equal(t, "rtsp://camera.local/stream/track1", original)
}
