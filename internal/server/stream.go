package server

import (
	"errors"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
	"github.com/bilbercode/rtspconn/internal/rtsp/transport"
)

// frameWriter delivers an interleaved frame to a client connection.
type frameWriter func(channel uint8, payload []byte) error

type streamSession struct {
	transport   string
	playing     bool
	interleaved bool
	rtpChannel  uint8
	rtcpChannel uint8
	sequence    uint16
	write       frameWriter
}

// stream is a registered media source and the sessions set up against it.
// Published packets are renumbered per session.
type stream struct {
	sync.Mutex
	name     string
	media    *sdp.MediaDescription
	sessions map[string]*streamSession
	merger   *merger
}

func newStream(name string, media *sdp.MediaDescription) *stream {
	s := &stream{
		name:     name,
		media:    media,
		sessions: make(map[string]*streamSession),
	}
	s.merger = newMerger(s.fanout)
	return s
}

func (s *stream) setup(id string, option transport.Option, write frameWriter) {
	session := &streamSession{
		transport: option.String(),
		write:     write,
	}
	if il, ok := option.Interleaved(); ok && len(il) > 0 {
		session.interleaved = true
		session.rtpChannel = uint8(il[0])
		session.rtcpChannel = uint8(il[0] + 1)
		if len(il) > 1 {
			session.rtcpChannel = uint8(il[1])
		}
	}

	s.Lock()
	defer s.Unlock()
	if existing, ok := s.sessions[id]; ok {
		session.playing = existing.playing
		session.sequence = existing.sequence
		s.sessions[id] = session
		return
	}
	s.sessions[id] = session
	activeSessions.Inc()
}

func (s *stream) play(id string) bool {
	s.Lock()
	defer s.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false
	}
	session.playing = true
	return true
}

func (s *stream) teardown(id string) bool {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	activeSessions.Dec()
	return true
}

func (s *stream) has(id string) bool {
	s.Lock()
	defer s.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// fanout sends p to every playing session that receives media interleaved.
func (s *stream) fanout(p *rtp.Packet) {
	s.Lock()
	defer s.Unlock()
	for id, session := range s.sessions {
		if !session.playing || !session.interleaved {
			continue
		}
		session.sequence++
		out := *p
		out.SequenceNumber = session.sequence
		payload, err := out.Marshal()
		if err != nil {
			log.WithError(err).WithField("stream", s.name).Warn("failed to marshal RTP packet")
			return
		}
		s.deliver(id, session, session.rtpChannel, payload)
		relayedPackets.WithLabelValues("rtp").Inc()
	}
}

func (s *stream) fanoutControl(packets []rtcp.Packet) {
	payload, err := rtcp.Marshal(packets)
	if err != nil {
		log.WithError(err).WithField("stream", s.name).Warn("failed to marshal RTCP packets")
		return
	}

	s.Lock()
	defer s.Unlock()
	for id, session := range s.sessions {
		if !session.playing || !session.interleaved {
			continue
		}
		s.deliver(id, session, session.rtcpChannel, payload)
		relayedPackets.WithLabelValues("rtcp").Inc()
	}
}

func (s *stream) deliver(id string, session *streamSession, channel uint8, payload []byte) {
	err := session.write(channel, payload)
	switch {
	case err == nil, errors.Is(err, conn.ErrWriteQueueFull):
	case errors.Is(err, conn.ErrClosed):
		session.playing = false
	default:
		log.WithError(err).WithFields(log.Fields{
			"stream":  s.name,
			"session": id,
		}).Warn("failed to relay media")
	}
}

// source feeds packets from one upstream connection into a stream.
type source struct {
	id     string
	stream *stream
}

func (s *source) HandleRTP(packet *rtp.Packet) {
	s.stream.merger.push(s.id, packet)
}

func (s *source) HandleRTCP(packets []rtcp.Packet) {
	if !s.stream.merger.active(s.id) {
		return
	}
	s.stream.fanoutControl(packets)
}

func (s *source) Close() {
	s.stream.merger.release(s.id)
}
