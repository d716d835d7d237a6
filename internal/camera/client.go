package camera

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// StatusError reports a request the camera answered with a non 2xx status.
type StatusError struct {
	Method rtsp.Method
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered with %d %s", e.Method, e.Code, e.Reason)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// client is one RTSP connection to a camera.
type client struct {
	conn   *conn.Connection
	handle *conn.Handle
}

func (s *service) connect(ctx context.Context, uri *url.URL, frames func(channel uint8, payload []byte)) (*client, error) {
	nc, err := s.dialCamera(ctx, uri)
	if err != nil {
		return nil, err
	}

	cfg, err := conn.NewConfig(s.options...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to build connection config: %w", err)
	}
	opts := []conn.ConfigOption{conn.WithLogger(cfg.Logger().WithField("camera", uri.Host))}
	if frames != nil {
		opts = append(opts, conn.WithInterleavedFrameHandler(frames))
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := conn.New(nc, nil, cfg)
	return &client{conn: c, handle: c.Handle()}, nil
}

func (s *service) dialCamera(ctx context.Context, uri *url.URL) (net.Conn, error) {
	host := uri.Host
	if uri.Port() == "" {
		port := "554"
		if uri.Scheme == "rtsps" {
			port = "322"
		}
		host = net.JoinHostPort(uri.Hostname(), port)
	}

	nc, err := s.dial(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial endpoint %s: %w", host, err)
	}
	if uri.Scheme == "rtsps" {
		nc = tls.Client(nc, &tls.Config{
			ServerName: uri.Hostname(),
		})
	}
	return nc, nil
}

// request sends req and fails unless the camera answers with a 2xx status.
func (c *client) request(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	res, err := c.handle.SendRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s to %s: %w", req.Method, req.URL, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{Method: req.Method, Code: res.StatusCode, Reason: res.Reason}
	}
	return res, nil
}
