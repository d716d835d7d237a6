package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Request struct {
	Method  Method
	URL     string
	Version string
	Header  http.Header
	Body    []byte
}

func NewRequest(method Method, url string) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Version: Version,
		Header:  http.Header{},
	}
}

func (r *Request) Headers() http.Header {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	return r.Header
}

func (r *Request) Payload() []byte {
	return r.Body
}

func (r *Request) CSeq() (CSeq, bool) {
	return GetCSeq(r.Header)
}

// Scheme returns the lower-cased scheme of the request URL, or "" for the
// asterisk form and unparseable URLs.
func (r *Request) Scheme() string {
	if r.URL == "*" {
		return ""
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (r *Request) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := r.writeTo(bw); err != nil {
		return err
	}
	return bw.Flush()
}

func (r *Request) writeTo(w *bufio.Writer) error {
	version := r.Version
	if version == "" {
		version = Version
	}
	_, err := fmt.Fprintf(w, "%s %s RTSP/%s\r\n", r.Method, r.URL, version)
	if err != nil {
		return fmt.Errorf("failed to write request line: %w", err)
	}
	return writeHeaderAndBody(w, r.Headers(), r.Body)
}
