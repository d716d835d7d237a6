package rtsp

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	HeaderAccept            = "Accept"
	HeaderAllow             = "Allow"
	HeaderAuthorization     = "Authorization"
	HeaderContentBase       = "Content-Base"
	HeaderContentLength     = "Content-Length"
	HeaderContentType       = "Content-Type"
	HeaderCSeq              = "CSeq"
	HeaderDate              = "Date"
	HeaderPublic            = "Public"
	HeaderRange             = "Range"
	HeaderRTPInfo           = "RTP-Info"
	HeaderSession           = "Session"
	HeaderServer            = "Server"
	HeaderTransport         = "Transport"
	HeaderUserAgent         = "User-Agent"
	HeaderWWWAuthenticate   = "WWW-Authenticate"
	HeaderProxyRequire      = "Proxy-Require"
	HeaderRequire           = "Require"
	HeaderUnsupported       = "Unsupported"
	HeaderConnection        = "Connection"
	HeaderContentEncoding   = "Content-Encoding"
	HeaderContentLanguage   = "Content-Language"
	HeaderContentLocation   = "Content-Location"
	HeaderLastModified      = "Last-Modified"
	HeaderProxyAuthenticate = "Proxy-Authenticate"
)

// wireNames maps the http.Header canonical form of keys whose RTSP spelling
// differs from it.
var wireNames = map[string]string{
	http.CanonicalHeaderKey(HeaderCSeq):            HeaderCSeq,
	http.CanonicalHeaderKey(HeaderRTPInfo):         HeaderRTPInfo,
	http.CanonicalHeaderKey(HeaderWWWAuthenticate): HeaderWWWAuthenticate,
}

// CSeq is the sequence number carried by every RTSP request and echoed by
// its response. Arithmetic on it wraps at 2^32.
type CSeq uint32

// Next returns the sequence number following s, wrapping to zero.
func (s CSeq) Next() CSeq {
	return s + 1
}

// Sub returns s - base computed modulo 2^32.
func (s CSeq) Sub(base CSeq) uint32 {
	return uint32(s - base)
}

func (s CSeq) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseCSeq parses the decimal value of a CSeq header.
func ParseCSeq(value string) (CSeq, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse CSeq %q: %w", value, err)
	}
	return CSeq(n), nil
}

// GetCSeq reads the CSeq header from h.
func GetCSeq(h http.Header) (CSeq, bool) {
	v := h.Get(HeaderCSeq)
	if v == "" {
		return 0, false
	}
	seq, err := ParseCSeq(v)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// SetCSeq replaces the CSeq header in h.
func SetCSeq(h http.Header, seq CSeq) {
	h.Set(HeaderCSeq, seq.String())
}

// ContentLength returns the declared Content-Length, zero when absent.
func ContentLength(h http.Header) (int, error) {
	v := h.Get(HeaderContentLength)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("failed to parse content-length: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative content-length %d", n)
	}
	return n, nil
}

func wireName(key string) string {
	if name, ok := wireNames[key]; ok {
		return name
	}
	return key
}

// sortedKeys orders header keys so CSeq is written first and the rest
// alphabetically.
func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	cseq := http.CanonicalHeaderKey(HeaderCSeq)
	sort.Slice(keys, func(i, j int) bool {
		switch {
		case keys[i] == cseq:
			return keys[j] != cseq
		case keys[j] == cseq:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
