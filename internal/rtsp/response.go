package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
)

type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

func NewResponse(code int) *Response {
	return &Response{
		Version:    Version,
		StatusCode: code,
		Reason:     StatusText(code),
		Header:     http.Header{},
	}
}

func (r *Response) Headers() http.Header {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	return r.Header
}

func (r *Response) Payload() []byte {
	return r.Body
}

func (r *Response) CSeq() (CSeq, bool) {
	return GetCSeq(r.Header)
}

// IsContinue reports whether r is a provisional 100 (Continue) response.
func (r *Response) IsContinue() bool {
	return r.StatusCode == StatusContinue
}

func (r *Response) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := r.writeTo(bw); err != nil {
		return err
	}
	return bw.Flush()
}

func (r *Response) writeTo(w *bufio.Writer) error {
	version := r.Version
	if version == "" {
		version = Version
	}
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.StatusCode)
	}
	_, err := fmt.Fprintf(w, "RTSP/%s %d %s\r\n", version, r.StatusCode, reason)
	if err != nil {
		return fmt.Errorf("failed to write response line: %w", err)
	}
	return writeHeaderAndBody(w, r.Headers(), r.Body)
}
