package camera

import (
	"context"
	"net/url"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// Description is the video track a camera offers.
type Description struct {
	Base  *url.URL
	Media *sdp.MediaDescription
	Codec sdp.Codec
}

// PacketHandler receives media read from a playing stream. It is called on
// the connection's decoding goroutine and must not block.
type PacketHandler interface {
	HandleRTP(packet *rtp.Packet)
	HandleRTCP(packets []rtcp.Packet)
}

type Service interface {
	DescribeVideo(ctx context.Context, addr string) (*Description, error)
	Stream(ctx context.Context, addr string, handler PacketHandler) error
}
