package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
	"github.com/bilbercode/rtspconn/internal/rtsp/transport"
)

const teardownTimeout = 5 * time.Second

var (
	ErrNoVideoStream  = errors.New("no H264 video stream described by camera")
	ErrNoSession      = errors.New("no session ID returned")
	ErrStreamInactive = errors.New("no media received from camera")
)

var (
	cameraErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_errors",
		Namespace: "rtspconn",
		Help:      "number of errors the camera has encountered",
	}, []string{"camera"})
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_packets",
		Namespace: "rtspconn",
		Help:      "number of media packets received from cameras",
	}, []string{"type"})
	packetErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_packet_errors",
		Namespace: "rtspconn",
		Help:      "number of media packets that failed to parse",
	}, []string{"type"})
)

type service struct {
	keepalive  time.Duration
	inactivity time.Duration
	options    []conn.ConfigOption
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewService returns a camera client. A GET_PARAMETER keep-alive is sent
// every keepalive and a stream is abandoned after inactivity without media.
// Zero disables either.
func NewService(keepalive, inactivity time.Duration, opts ...conn.ConfigOption) Service {
	dialer := &net.Dialer{}
	return &service{
		keepalive:  keepalive,
		inactivity: inactivity,
		options:    opts,
		dial:       dialer.DialContext,
	}
}

func (s *service) DescribeVideo(ctx context.Context, addr string) (*Description, error) {
	uri, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	c, err := s.connect(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	var description *Description
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.conn.Run(gctx)
	})
	group.Go(func() error {
		defer c.handle.Shutdown()
		d, err := c.describe(gctx, uri)
		description = d
		return err
	})
	if err := group.Wait(); err != nil {
		cameraErrors.WithLabelValues(uri.Host).Inc()
		return nil, err
	}
	return description, nil
}

// Stream sets up and plays the camera's video track, passing media to
// handler until ctx is done or the stream fails. The session is torn down
// before Stream returns.
func (s *service) Stream(ctx context.Context, addr string, handler PacketHandler) error {
	uri, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	d := newDemuxer(handler)
	c, err := s.connect(ctx, uri, d.handleFrame)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// the connection outlives ctx so the session can be torn down
		return c.conn.Run(context.WithoutCancel(gctx))
	})
	group.Go(func() error {
		defer c.handle.Shutdown()
		return s.play(gctx, c, uri, d)
	})

	if err := group.Wait(); err != nil {
		cameraErrors.WithLabelValues(uri.Host).Inc()
		return err
	}
	return nil
}

func (c *client) describe(ctx context.Context, uri *url.URL) (*Description, error) {
	if _, err := c.request(ctx, rtsp.NewRequest(rtsp.MethodOptions, uri.String())); err != nil {
		return nil, err
	}

	req := rtsp.NewRequest(rtsp.MethodDescribe, uri.String())
	req.Header.Set(rtsp.HeaderAccept, "application/sdp")
	res, err := c.request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get session description for url %s: %w", uri, err)
	}

	sessionDescription := &sdp.SessionDescription{}
	if err := sessionDescription.Unmarshal(res.Body); err != nil {
		return nil, fmt.Errorf("failed to parse SDP for URL %s: %w", uri, err)
	}

	base := uri
	for _, key := range []string{rtsp.HeaderContentBase, rtsp.HeaderContentLocation} {
		if value := res.Header.Get(key); value != "" {
			if parsed, err := url.Parse(value); err == nil {
				base = parsed
				break
			}
		}
	}

	for _, md := range sessionDescription.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			codec, err := sessionDescription.GetCodecForPayloadType(uint8(pt))
			if err != nil || !strings.EqualFold(codec.Name, "H264") {
				continue
			}
			return &Description{Base: base, Media: md, Codec: codec}, nil
		}
	}
	return nil, ErrNoVideoStream
}

func (s *service) play(ctx context.Context, c *client, uri *url.URL, d *demuxer) error {
	description, err := c.describe(ctx, uri)
	if err != nil {
		return err
	}

	setup := rtsp.NewRequest(rtsp.MethodSetup, controlURL(description.Base, description.Media))
	setup.Header.Set(rtsp.HeaderTransport, transport.NewInterleaved(0, 1).String())
	res, err := c.request(ctx, setup)
	if err != nil {
		return fmt.Errorf("failed setup resources on URL %s: %w", setup.URL, err)
	}

	sessionID := strings.TrimSpace(strings.Split(res.Header.Get(rtsp.HeaderSession), ";")[0])
	if sessionID == "" {
		return ErrNoSession
	}
	if ts, err := transport.Parse(res.Header.Values(rtsp.HeaderTransport)); err == nil {
		if il, ok := ts.Options()[0].Interleaved(); ok {
			d.setChannels(il)
		}
	}

	logger := log.WithFields(log.Fields{
		"camera":  uri.Host,
		"session": sessionID,
	})

	playURL := description.Base.String()
	play := rtsp.NewRequest(rtsp.MethodPlay, playURL)
	play.Header.Set(rtsp.HeaderSession, sessionID)
	play.Header.Set(rtsp.HeaderRange, "npt=0.000-")
	if _, err := c.request(ctx, play); err != nil {
		return fmt.Errorf("failed to request server to start stream %s: %w", playURL, err)
	}
	logger.Info("camera stream playing")

	var keepalive <-chan time.Time
	if s.keepalive > 0 {
		ticker := time.NewTicker(s.keepalive)
		defer ticker.Stop()
		keepalive = ticker.C
	}
	var (
		inactivity *time.Timer
		idle       <-chan time.Time
	)
	if s.inactivity > 0 {
		inactivity = time.NewTimer(s.inactivity)
		defer inactivity.Stop()
		idle = inactivity.C
	}

	for {
		select {
		case <-ctx.Done():
			c.teardown(playURL, sessionID, logger)
			return nil
		case <-c.handle.Done():
			return fmt.Errorf("camera closed the connection: %w", conn.ErrClosed)
		case <-d.activity:
			if inactivity != nil {
				if !inactivity.Stop() {
					<-inactivity.C
				}
				inactivity.Reset(s.inactivity)
			}
		case <-idle:
			c.teardown(playURL, sessionID, logger)
			return ErrStreamInactive
		case <-keepalive:
			req := rtsp.NewRequest(rtsp.MethodGetParameter, playURL)
			req.Header.Set(rtsp.HeaderSession, sessionID)
			if _, err := c.request(ctx, req); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("failed to keep session alive: %w", err)
			}
		}
	}
}

func (c *client) teardown(playURL, sessionID string, logger log.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	req := rtsp.NewRequest(rtsp.MethodTeardown, playURL)
	req.Header.Set(rtsp.HeaderSession, sessionID)
	if _, err := c.request(ctx, req); err != nil {
		logger.WithError(err).Warn("failed to tear down camera session")
		return
	}
	logger.Info("camera session torn down")
}

// controlURL resolves the media control attribute against base.
func controlURL(base *url.URL, media *sdp.MediaDescription) string {
	control, ok := media.Attribute("control")
	switch {
	case !ok || control == "*":
		return base.String()
	case strings.HasPrefix(control, "rtsp://"), strings.HasPrefix(control, "rtsps://"):
		return control
	}
	u := *base
	u.Path = path.Join(u.Path, control)
	u.RawQuery = ""
	return u.String()
}

// demuxer routes interleaved frames to the packet handler.
type demuxer struct {
	handler     PacketHandler
	rtpChannel  atomic.Int32
	rtcpChannel atomic.Int32
	activity    chan struct{}
}

func newDemuxer(handler PacketHandler) *demuxer {
	d := &demuxer{
		handler:  handler,
		activity: make(chan struct{}, 1),
	}
	d.rtpChannel.Store(0)
	d.rtcpChannel.Store(1)
	return d
}

func (d *demuxer) setChannels(il transport.Interleaved) {
	if len(il) == 0 {
		return
	}
	d.rtpChannel.Store(int32(il[0]))
	if len(il) > 1 {
		d.rtcpChannel.Store(int32(il[1]))
	} else {
		d.rtcpChannel.Store(int32(il[0] + 1))
	}
}

func (d *demuxer) handleFrame(channel uint8, payload []byte) {
	switch int32(channel) {
	case d.rtpChannel.Load():
		packet := &rtp.Packet{}
		if err := packet.Unmarshal(payload); err != nil {
			packetErrors.WithLabelValues("rtp").Inc()
			return
		}
		packetsReceived.WithLabelValues("rtp").Inc()
		d.handler.HandleRTP(packet)
		select {
		case d.activity <- struct{}{}:
		default:
		}
	case d.rtcpChannel.Load():
		packets, err := rtcp.Unmarshal(payload)
		if err != nil {
			packetErrors.WithLabelValues("rtcp").Inc()
			return
		}
		packetsReceived.WithLabelValues("rtcp").Inc()
		d.handler.HandleRTCP(packets)
	default:
		log.WithField("channel", channel).Debug("ignoring frame on unknown channel")
	}
}
