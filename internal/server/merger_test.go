package server

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func packet(ssrc, timestamp uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: 96,
			SSRC:        ssrc,
			Timestamp:   timestamp,
			Marker:      marker,
		},
		Payload: []byte{0x65},
	}
}

func collect() (*merger, *[]*rtp.Packet) {
	var out []*rtp.Packet
	return newMerger(func(p *rtp.Packet) {
		out = append(out, p)
	}), &out
}

func timestamps(packets []*rtp.Packet) []uint32 {
	ts := make([]uint32, 0, len(packets))
	for _, p := range packets {
		ts = append(ts, p.Timestamp)
	}
	return ts
}

func TestMergerForwardsSingleSource(t *testing.T) {
	m, out := collect()
	m.push("a", packet(10, 1000, false))
	m.push("a", packet(10, 1000, true))
	m.push("a", packet(10, 4000, true))

	require.Len(t, *out, 3)
	require.Equal(t, []uint32{1000, 1000, 4000}, timestamps(*out))
	for _, p := range *out {
		require.EqualValues(t, 10, p.SSRC)
	}
	require.True(t, m.active("a"))
}

func TestMergerHandsOverAtFrameBoundary(t *testing.T) {
	m, out := collect()
	m.push("a", packet(10, 1000, true))
	m.push("b", packet(20, 50, false))
	require.Len(t, *out, 1, "joining source waits for the active one")

	m.push("a", packet(10, 4000, false))
	m.push("a", packet(10, 4000, true))
	require.True(t, m.active("b"))
	m.push("a", packet(10, 7000, true))

	m.push("b", packet(20, 50, false))
	m.push("b", packet(20, 3050, true))

	require.Equal(t, []uint32{1000, 4000, 4000, 7000, 10000}, timestamps(*out))
	require.True(t, m.active("b"), "retired source cannot take over again")
	for _, p := range *out {
		require.EqualValues(t, 10, p.SSRC)
	}
}

func TestMergerDropsTimestampsGoingBackwards(t *testing.T) {
	m, out := collect()
	m.push("a", packet(10, 5000, true))
	m.push("a", packet(10, 2000, true))
	m.push("a", packet(10, 8000, true))
	require.Equal(t, []uint32{5000, 8000}, timestamps(*out))
}

func TestMergerTimestampWraps(t *testing.T) {
	m, out := collect()
	m.push("a", packet(10, 0xFFFFFF00, true))
	m.push("a", packet(10, 0x00000100, true))
	require.Equal(t, []uint32{0xFFFFFF00, 0x00000100}, timestamps(*out))
}

func TestMergerRelease(t *testing.T) {
	m, out := collect()
	m.push("a", packet(10, 1000, true))
	m.push("b", packet(20, 90, false))

	m.release("a")
	require.True(t, m.active("b"))
	m.push("b", packet(20, 100, true))

	m.release("b")
	require.False(t, m.active("b"))
	m.push("c", packet(30, 7, true))

	require.Equal(t, []uint32{1000, 4000, 7000}, timestamps(*out))
	require.True(t, m.active("c"))
}
