package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"sensorlink-go/errcode"
)

// RawRequest renders p as an HTTP/1.1 request for links that carry bytes
// instead of speaking HTTP themselves (the ESP8266 socket).
func RawRequest(p Payload, dir, host string) []byte {
	if dir == "" || dir[0] != '/' {
		dir = "/" + dir
	}
	target := dir
	if p.RawQuery != "" {
		target += "?" + p.RawQuery
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n", p.Method, target, host)
	if len(p.Body) > 0 {
		if p.ContentType != "" {
			fmt.Fprintf(&b, "Content-Type: %s\r\n", p.ContentType)
		}
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(p.Body))
	}
	b.WriteString("\r\n")
	b.Write(p.Body)
	return b.Bytes()
}

// CheckRawResponse inspects a (possibly truncated) raw reply. A status
// line outside 2xx is a rejection. Replies without a status line are
// rejected only if they mention 404.
func CheckRawResponse(reply []byte) error {
	const op = "transport.raw"
	if bytes.HasPrefix(reply, []byte("HTTP/")) {
		line := reply
		if i := bytes.IndexByte(reply, '\n'); i >= 0 {
			line = reply[:i]
		}
		f := bytes.Fields(line)
		if len(f) < 2 {
			return errcode.New(errcode.Rejected, op, "malformed status line")
		}
		code, err := strconv.Atoi(string(f[1]))
		if err != nil {
			return errcode.New(errcode.Rejected, op, "malformed status line")
		}
		if code < http.StatusOK || code > 299 {
			return errcode.New(errcode.Rejected, op, fmt.Sprintf("status %d", code))
		}
		return nil
	}
	if bytes.Contains(reply, []byte("404")) {
		return errcode.New(errcode.Rejected, op, "not found")
	}
	return nil
}
