package conn

import (
	"context"

	"github.com/bilbercode/rtspconn/internal/rtsp"
)

// Service answers requests initiated by the peer. Requests reach it one at a
// time in CSeq order. A returned error is answered with 500.
type Service interface {
	Serve(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error)
}

type ServiceFunc func(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error)

func (f ServiceFunc) Serve(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	return f(ctx, req)
}

// NotImplemented answers every request with 501.
var NotImplemented Service = ServiceFunc(func(context.Context, *rtsp.Request) (*rtsp.Response, error) {
	return rtsp.NewResponse(rtsp.StatusNotImplemented), nil
})
