package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
)

type server struct {
	sync.Mutex
	description sdp.SessionDescription
	streams     map[string]*stream
	options     []conn.ConfigOption
}

// NewServer returns a Server whose connections are configured with opts.
func NewServer(name string, opts ...conn.ConfigOption) (Server, error) {
	if _, err := conn.NewConfig(opts...); err != nil {
		return nil, fmt.Errorf("failed to build connection config: %w", err)
	}
	return &server{
		streams: make(map[string]*stream),
		options: opts,
		description: sdp.SessionDescription{
			Version: 0,
			Origin: sdp.Origin{
				Username:       "-",
				SessionID:      0,
				SessionVersion: 0,
				NetworkType:    "IN",
				AddressType:    "IP4",
				UnicastAddress: "127.0.0.1",
			},
			SessionName: sdp.SessionName(name),
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address: &sdp.Address{
					Address: "0.0.0.0",
				},
			},
			TimeDescriptions: []sdp.TimeDescription{
				{
					Timing: sdp.Timing{},
				},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("range", "npt=now-"),
				sdp.NewAttribute("control", "*"),
			},
		},
	}, nil
}

// NewH264Media describes an H264 video track addressed by control.
func NewH264Media(control string) *sdp.MediaDescription {
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "video",
			Port:   sdp.RangedPort{Value: 0},
			Protos: []string{"RTP", "AVP"},
		},
	}
	return media.
		WithCodec(96, "H264", 90000, 0, "packetization-mode=1").
		WithValueAttribute("control", control)
}

// NewRelayMedia copies an upstream media description for serving under
// control, keeping its formats and codec parameters.
func NewRelayMedia(upstream *sdp.MediaDescription, control string) *sdp.MediaDescription {
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   upstream.MediaName.Media,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  append([]string(nil), upstream.MediaName.Protos...),
			Formats: append([]string(nil), upstream.MediaName.Formats...),
		},
		Bandwidth: append([]sdp.Bandwidth(nil), upstream.Bandwidth...),
	}
	for _, attribute := range upstream.Attributes {
		if attribute.Key == "control" {
			continue
		}
		media.Attributes = append(media.Attributes, attribute)
	}
	return media.WithValueAttribute("control", control)
}

func (s *server) RegisterStream(name string, media *sdp.MediaDescription) {
	s.Lock()
	defer s.Unlock()
	s.streams[name] = newStream(name, media)
	log.WithField("stream", name).Info("stream registered")
}

func (s *server) Publish(name string) (Source, error) {
	s.Lock()
	st, ok := s.streams[name]
	s.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	return &source{id: uuid.NewString(), stream: st}, nil
}

func (s *server) Start(ctx context.Context, addr string) error {
	conf := net.ListenConfig{}
	listener, err := conf.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", addr, err)
	}
	log.Infof("RTSP server listening on %s", listener.Addr())
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is done. Open connections are asked
// to shut down gracefully and Serve waits for them.
func (s *server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		nc, err := listener.Accept()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeConn(ctx, nc); err != nil {
				log.WithError(err).WithField("remote", nc.RemoteAddr()).Warn("client connection failed")
			}
		}()
	}
}

// ServeConn runs a single client connection until it closes. When ctx is
// done the connection is shut down gracefully.
func (s *server) ServeConn(ctx context.Context, nc net.Conn) error {
	logger := log.WithField("remote", nc.RemoteAddr())
	opts := append([]conn.ConfigOption{}, s.options...)
	cfg, err := conn.NewConfig(append(opts, conn.WithLogger(logger))...)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to build connection config: %w", err)
	}

	h := &handler{
		server:   s,
		sessions: make(map[string]*stream),
		logger:   logger,
	}
	c := conn.New(nc, h, cfg)
	h.frames = c.Handle().WriteFrame

	serverConnections.Inc()
	defer serverConnections.Dec()
	defer h.teardownAll()

	go func() {
		select {
		case <-ctx.Done():
			c.Handle().Shutdown()
		case <-c.Handle().Done():
		}
	}()

	logger.Debug("client connected")
	return c.Run(context.WithoutCancel(ctx))
}

// lookup finds the registered stream named by the deepest matching path
// segment of u.
func (s *server) lookup(u *url.URL) (*stream, bool) {
	s.Lock()
	defer s.Unlock()
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if st, ok := s.streams[segments[i]]; ok {
			return st, true
		}
	}
	return nil, false
}

// describe renders the session description of st for u.
func (s *server) describe(st *stream, u *url.URL) ([]byte, error) {
	s.Lock()
	description := s.description
	s.Unlock()

	description.URI = u
	description.MediaDescriptions = []*sdp.MediaDescription{st.media}
	b, err := description.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session description: %w", err)
	}
	return b, nil
}
