package rtsp

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
)

const Version = "1.0"

// Message is either a *Request or a *Response.
type Message interface {
	Headers() http.Header
	Payload() []byte
	writeTo(w *bufio.Writer) error
}

func writeHeaderAndBody(w *bufio.Writer, header http.Header, body []byte) error {
	if len(body) > 0 {
		header.Set(HeaderContentLength, strconv.Itoa(len(body)))
	} else {
		header.Del(HeaderContentLength)
	}

	for _, key := range sortedKeys(header) {
		name := wireName(key)
		for _, value := range header[key] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", name, value); err != nil {
				return fmt.Errorf("failed to write header %s: %w", name, err)
			}
		}
	}

	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("failed to write body: %w", err)
		}
	}
	return nil
}
