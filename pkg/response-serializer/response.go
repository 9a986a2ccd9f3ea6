package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response, with the body fully
// buffered and framed by a Content-Length header.
// The response body is set back, so the response can still be read after the call.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		b, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
		res.Body = io.NopCloser(bytes.NewReader(body))
	}

	header := res.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// the body is buffered, so chunking does not apply anymore
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "HTTP/1.1 %03d %s\r\n", res.StatusCode, http.StatusText(res.StatusCode))
	if err := header.Write(buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice to a http.Response.
// The byte slice is expected to be in the format produced by ResponseToBytes.
func BytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}
