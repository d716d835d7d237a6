package transport

import (
	"fmt"
	"strconv"
)

// Range is a single port or channel, or an inclusive pair of them.
type Range []int

func (r Range) format(name string) string {
	switch len(r) {
	case 0:
		return name
	case 1:
		return fmt.Sprintf("%s=%d", name, r[0])
	}
	return fmt.Sprintf("%s=%d-%d", name, r[0], r[1])
}

type Destination string

func (p Destination) String() string {
	if p == "" {
		return "destination"
	}
	return "destination=" + string(p)
}

type Interleaved Range

func (p Interleaved) String() string {
	return Range(p).format("interleaved")
}

type Append struct{}

func (Append) String() string {
	return "append"
}

// TTL is the multicast time-to-live in hops.
type TTL int

func (p TTL) String() string {
	return fmt.Sprintf("ttl=%d", int(p))
}

type Layers int

func (p Layers) String() string {
	return fmt.Sprintf("layers=%d", p)
}

type Port Range

func (p Port) String() string {
	return Range(p).format("port")
}

type ClientPort Range

func (p ClientPort) String() string {
	return Range(p).format("client_port")
}

type ServerPort Range

func (p ServerPort) String() string {
	return Range(p).format("server_port")
}

// SSRC is written as eight hexadecimal digits.
type SSRC uint32

func (p SSRC) String() string {
	return fmt.Sprintf("ssrc=%08X", uint32(p))
}

type Mode string

func (p Mode) String() string {
	return "mode=" + strconv.Quote(string(p))
}
