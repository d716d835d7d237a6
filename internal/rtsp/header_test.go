package rtsp

import (
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSeqWraps(t *testing.T) {
	last := CSeq(math.MaxUint32)

	require.Equal(t, CSeq(0), last.Next())
	require.Equal(t, uint32(1), CSeq(0).Sub(last))
	require.Equal(t, uint32(11), CSeq(5).Sub(last-5))
	require.Equal(t, uint32(math.MaxUint32), last.Sub(0))
}

func TestGetCSeq(t *testing.T) {
	h := http.Header{}
	_, ok := GetCSeq(h)
	require.False(t, ok)

	h.Set(HeaderCSeq, "abc")
	_, ok = GetCSeq(h)
	require.False(t, ok)

	SetCSeq(h, 4294967295)
	seq, ok := GetCSeq(h)
	require.True(t, ok)
	require.Equal(t, CSeq(math.MaxUint32), seq)
}

func TestContentLength(t *testing.T) {
	n, err := ContentLength(http.Header{})
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = ContentLength(http.Header{"Content-Length": []string{"-1"}})
	require.Error(t, err)

	n, err = ContentLength(http.Header{"Content-Length": []string{" 12 "}})
	require.NoError(t, err)
	require.Equal(t, 12, n)
}

func TestRequestScheme(t *testing.T) {
	require.Equal(t, "rtspu", NewRequest(MethodSetup, "RTSPU://example.com/").Scheme())
	require.Equal(t, "rtsp", NewRequest(MethodSetup, "rtsp://example.com/").Scheme())
	require.Equal(t, "", NewRequest(MethodOptions, "*").Scheme())
}

func TestStatusText(t *testing.T) {
	require.Equal(t, "Unsupported Transport", StatusText(StatusUnsupportedTransport))
	require.Equal(t, "Client Error", StatusText(499))
}
