package transport

import "errors"

// Protocol is the lower transport of an RTP profile, UDP unless the
// profile says otherwise.
type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrMalformedParameter   = errors.New("malformed transport parameter")
)

// Header is a parsed Transport header: the options in the order the sender
// prefers them.
type Header interface {
	Options() []Option
	String() string
}

// Option is one transport specification of a Transport header.
type Option interface {
	Protocol() Protocol
	IsUnicast() bool
	Parameters() []Parameter
	// Interleaved returns the channels media is interleaved on when the
	// option carries them.
	Interleaved() (Interleaved, bool)
	String() string
}

// Parameter renders itself in its header form, e.g. "ttl=16".
type Parameter interface {
	String() string
}
