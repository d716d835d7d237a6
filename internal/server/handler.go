package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/bilbercode/rtspconn/internal/rtsp/transport"
)

const sessionTimeout = 60

var supportedMethods = []rtsp.Method{
	rtsp.MethodOptions,
	rtsp.MethodDescribe,
	rtsp.MethodSetup,
	rtsp.MethodPlay,
	rtsp.MethodGetParameter,
	rtsp.MethodTeardown,
}

// handler serves the requests of one client connection.
type handler struct {
	server *server
	logger log.FieldLogger
	frames frameWriter

	mu       sync.Mutex
	sessions map[string]*stream
}

func (h *handler) Serve(ctx context.Context, request *rtsp.Request) (*rtsp.Response, error) {
	var res *rtsp.Response
	switch request.Method {
	case rtsp.MethodOptions:
		res = h.handleOptions(request)
	case rtsp.MethodDescribe:
		res = h.handleDescribe(request)
	case rtsp.MethodSetup:
		res = h.handleSetup(request)
	case rtsp.MethodPlay:
		res = h.handlePlay(request)
	case rtsp.MethodGetParameter:
		res = h.handleGetParameter(request)
	case rtsp.MethodTeardown:
		res = h.handleTeardown(request)
	default:
		res = h.handleUnsupportedMethod(request)
	}

	method := request.Method.String()
	if !request.Method.Valid() {
		method = "unknown"
	}
	serverRequests.WithLabelValues(method, strconv.Itoa(res.StatusCode)).Inc()
	return res, nil
}

func (h *handler) handleOptions(request *rtsp.Request) *rtsp.Response {
	res := rtsp.NewResponse(rtsp.StatusOK)
	res.Header.Set(rtsp.HeaderPublic, joinMethods(supportedMethods))
	return res
}

func (h *handler) handleDescribe(request *rtsp.Request) *rtsp.Response {
	requestURL, err := url.Parse(request.URL)
	if err != nil {
		return rtsp.NewResponse(rtsp.StatusBadRequest)
	}

	if accept := request.Header.Get(rtsp.HeaderAccept); accept != "" && !strings.Contains(accept, "application/sdp") {
		return rtsp.NewResponse(rtsp.StatusNotAcceptable)
	}

	st, ok := h.server.lookup(requestURL)
	if !ok {
		return rtsp.NewResponse(rtsp.StatusNotFound)
	}

	body, err := h.server.describe(st, requestURL)
	if err != nil {
		h.logger.WithError(err).Error("failed to describe stream")
		return rtsp.NewResponse(rtsp.StatusInternalServerError)
	}

	res := rtsp.NewResponse(rtsp.StatusOK)
	res.Header.Set(rtsp.HeaderContentType, "application/sdp")
	res.Header.Set(rtsp.HeaderContentBase, strings.TrimSuffix(requestURL.String(), "/")+"/")
	res.Body = body
	return res
}

func (h *handler) handleSetup(request *rtsp.Request) *rtsp.Response {
	requestURL, err := url.Parse(request.URL)
	if err != nil {
		return rtsp.NewResponse(rtsp.StatusBadRequest)
	}
	st, ok := h.server.lookup(requestURL)
	if !ok {
		return rtsp.NewResponse(rtsp.StatusNotFound)
	}

	values := request.Header.Values(rtsp.HeaderTransport)
	if len(values) == 0 {
		return rtsp.NewResponse(rtsp.StatusUnsupportedTransport)
	}
	ts, err := transport.Parse(values)
	switch {
	case errors.Is(err, transport.ErrUnsupportedTransport):
		return rtsp.NewResponse(rtsp.StatusUnsupportedTransport)
	case err != nil:
		return rtsp.NewResponse(rtsp.StatusBadRequest)
	}
	option := ts.Options()[0]
	chosen := option.String()

	sessionID := sessionFromHeader(request.Header.Get(rtsp.HeaderSession))
	switch {
	case sessionID == "":
		sessionID = uuid.NewString()
	case !st.has(sessionID):
		return rtsp.NewResponse(rtsp.StatusSessionNotFound)
	}

	st.setup(sessionID, option, h.frames)
	h.mu.Lock()
	h.sessions[sessionID] = st
	h.mu.Unlock()
	h.logger.WithField("session", sessionID).Infof("session set up with transport %s", chosen)

	res := rtsp.NewResponse(rtsp.StatusOK)
	res.Header.Set(rtsp.HeaderSession, sessionID+";timeout="+strconv.Itoa(sessionTimeout))
	res.Header.Set(rtsp.HeaderTransport, chosen)
	return res
}

func (h *handler) handlePlay(request *rtsp.Request) *rtsp.Response {
	st, sessionID, res := h.session(request)
	if res != nil {
		return res
	}
	st.play(sessionID)

	res = rtsp.NewResponse(rtsp.StatusOK)
	res.Header.Set(rtsp.HeaderSession, sessionID)
	res.Header.Set(rtsp.HeaderRange, "npt=0.000-")
	return res
}

func (h *handler) handleGetParameter(request *rtsp.Request) *rtsp.Response {
	res := rtsp.NewResponse(rtsp.StatusOK)
	if session := request.Header.Get(rtsp.HeaderSession); session != "" {
		res.Header.Set(rtsp.HeaderSession, sessionFromHeader(session))
	}
	return res
}

func (h *handler) handleTeardown(request *rtsp.Request) *rtsp.Response {
	st, sessionID, res := h.session(request)
	if res != nil {
		return res
	}
	st.teardown(sessionID)
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	h.logger.WithField("session", sessionID).Info("session torn down")
	return rtsp.NewResponse(rtsp.StatusOK)
}

func (h *handler) handleUnsupportedMethod(request *rtsp.Request) *rtsp.Response {
	if !request.Method.Valid() {
		h.logger.WithField("method", request.Method).Debug("unknown method")
		return rtsp.NewResponse(rtsp.StatusNotImplemented)
	}
	res := rtsp.NewResponse(rtsp.StatusMethodNotAllowed)
	res.Header.Set(rtsp.HeaderAllow, joinMethods(supportedMethods))
	return res
}

// session resolves the stream and session a request refers to, or the error
// response to send instead.
func (h *handler) session(request *rtsp.Request) (*stream, string, *rtsp.Response) {
	requestURL, err := url.Parse(request.URL)
	if err != nil {
		return nil, "", rtsp.NewResponse(rtsp.StatusBadRequest)
	}
	sessionID := sessionFromHeader(request.Header.Get(rtsp.HeaderSession))
	if sessionID == "" {
		return nil, "", rtsp.NewResponse(rtsp.StatusSessionNotFound)
	}

	st, ok := h.server.lookup(requestURL)
	if !ok {
		h.mu.Lock()
		st, ok = h.sessions[sessionID]
		h.mu.Unlock()
	}
	if !ok {
		return nil, "", rtsp.NewResponse(rtsp.StatusNotFound)
	}
	if !st.has(sessionID) {
		return nil, "", rtsp.NewResponse(rtsp.StatusSessionNotFound)
	}
	return st, sessionID, nil
}

// teardownAll drops the sessions a closed connection left behind.
func (h *handler) teardownAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, st := range h.sessions {
		st.teardown(id)
		delete(h.sessions, id)
	}
}

func sessionFromHeader(value string) string {
	id, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(id)
}

func joinMethods(methods []rtsp.Method) string {
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}
