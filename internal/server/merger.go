package server

import (
	"sync"

	"github.com/pion/rtp"
)

// handoverGap is the timestamp step inserted when a new source takes over,
// one frame at 30fps on a 90kHz clock.
const handoverGap = 3000

// merger splices packets from successive sources into a single RTP stream.
// A source that joins while another is active waits until the active one
// completes a frame, so viewers never see a partial picture at the seam.
type merger struct {
	sync.Mutex
	current  string
	next     string
	previous string

	ssrc          uint32
	offset        uint32
	rebase        bool
	lastTimestamp uint32
	started       bool

	out func(*rtp.Packet)
}

func newMerger(out func(*rtp.Packet)) *merger {
	return &merger{out: out}
}

func (m *merger) push(source string, in *rtp.Packet) {
	m.Lock()
	defer m.Unlock()

	switch {
	case m.current == "":
		m.current = source
		m.rebase = m.started
		if !m.started {
			m.ssrc = in.SSRC
		}
	case source == m.previous:
		return
	case source != m.current:
		m.next = source
		return
	}

	if m.rebase {
		m.offset = m.lastTimestamp + handoverGap - in.Timestamp
		m.rebase = false
	}

	p := *in
	p.SSRC = m.ssrc
	p.Timestamp = in.Timestamp + m.offset
	if m.started && int32(p.Timestamp-m.lastTimestamp) < 0 {
		return
	}
	m.lastTimestamp = p.Timestamp
	m.started = true
	m.out(&p)

	if m.next != "" && in.Marker {
		m.previous = m.current
		m.current = m.next
		m.next = ""
		m.rebase = true
	}
}

// active reports whether source is the one currently forwarded.
func (m *merger) active(source string) bool {
	m.Lock()
	defer m.Unlock()
	return source == m.current
}

// release removes a source that stopped producing packets.
func (m *merger) release(source string) {
	m.Lock()
	defer m.Unlock()
	switch source {
	case m.next:
		m.next = ""
	case m.current:
		m.current = m.next
		m.next = ""
		m.rebase = m.current != ""
	}
}
