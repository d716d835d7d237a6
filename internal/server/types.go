package server

import (
	"context"
	"errors"
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

var ErrStreamNotFound = errors.New("stream not found")

// Source publishes media into a registered stream. When several sources
// feed one stream the newest takes over at the next frame boundary.
type Source interface {
	HandleRTP(packet *rtp.Packet)
	HandleRTCP(packets []rtcp.Packet)
	Close()
}

type Server interface {
	RegisterStream(name string, media *sdp.MediaDescription)
	Publish(name string) (Source, error)
	Start(ctx context.Context, addr string) error
	Serve(ctx context.Context, listener net.Listener) error
	ServeConn(ctx context.Context, nc net.Conn) error
}
