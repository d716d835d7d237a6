package transport

import "strings"

type option struct {
	unicast  bool
	protocol Protocol
	params   []Parameter
}

// NewInterleaved returns a unicast RTP/AVP/TCP option carrying RTP on
// channel rtp and RTCP on channel rtcp.
func NewInterleaved(rtp, rtcp int) Option {
	return &option{
		unicast:  true,
		protocol: ProtocolTCP,
		params:   []Parameter{Interleaved{rtp, rtcp}},
	}
}

// NewUnicastUDP returns a unicast RTP/AVP option with the given client ports.
func NewUnicastUDP(rtpPort, rtcpPort int) Option {
	return &option{
		unicast:  true,
		protocol: ProtocolUDP,
		params:   []Parameter{ClientPort{rtpPort, rtcpPort}},
	}
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

func (o *option) Interleaved() (Interleaved, bool) {
	for _, param := range o.params {
		if il, ok := param.(Interleaved); ok {
			return il, true
		}
	}
	return nil, false
}

func (o *option) String() string {
	segments := []string{"RTP/AVP"}
	if o.protocol == ProtocolTCP {
		segments[0] += "/TCP"
	}
	if o.unicast {
		segments = append(segments, "unicast")
	} else {
		segments = append(segments, "multicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}

type header struct {
	options []Option
}

func (h *header) Options() []Option {
	return h.options
}

func (h *header) String() string {
	parts := make([]string, 0, len(h.options))
	for _, o := range h.options {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, ",")
}
