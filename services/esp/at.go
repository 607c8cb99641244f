// Package esp drives an ESP8266 Wi-Fi module over its AT command set. The
// module is both the connectivity gate and the delivery link on boards
// without a native network stack.
package esp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sensorlink-go/errcode"
)

var (
	ErrCommand  = errors.New("esp: command failed")
	ErrTimeout  = errors.New("esp: timeout")
	ErrProtocol = errors.New("esp: protocol error")
)

// SerialPort is the byte stream to the module. uartx.UART satisfies it.
type SerialPort interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

const maxLine = 256

// AT is a minimal command/response parser. It is not safe for concurrent
// use; the polling loop is its only caller.
type AT struct {
	port    SerialPort
	pending []byte
	buf     []byte
	timeout time.Duration
}

func NewAT(port SerialPort, timeout time.Duration) *AT {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AT{port: port, buf: make([]byte, 128), timeout: timeout}
}

// Send writes one command line.
func (a *AT) Send(format string, args ...any) error {
	cmd := fmt.Sprintf(format, args...) + "\r\n"
	if _, err := a.port.Write([]byte(cmd)); err != nil {
		return errcode.Wrap(errcode.Transport, "esp.send", err)
	}
	return nil
}

// Write sends raw bytes (a CIPSEND payload).
func (a *AT) Write(p []byte) error {
	if _, err := a.port.Write(p); err != nil {
		return errcode.Wrap(errcode.Transport, "esp.write", err)
	}
	return nil
}

// fill reads at least one more byte into pending.
func (a *AT) fill(ctx context.Context) error {
	for {
		n, err := a.port.RecvSomeContext(ctx, a.buf)
		if n > 0 {
			a.pending = append(a.pending, a.buf[:n]...)
			return nil
		}
		if ctx.Err() != nil {
			return ErrTimeout
		}
		if err != nil {
			return errcode.Wrap(errcode.Transport, "esp.recv", err)
		}
	}
}

// readLine returns the next non-empty line with CR dropped. Over-long
// lines are truncated.
func (a *AT) readLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(a.pending, '\n'); i >= 0 {
			raw := a.pending[:i]
			a.pending = a.pending[i+1:]
			raw = bytes.TrimRight(raw, "\r")
			if len(raw) == 0 {
				continue
			}
			if len(raw) > maxLine {
				raw = raw[:maxLine]
			}
			return string(raw), nil
		}
		if err := a.fill(ctx); err != nil {
			return "", err
		}
	}
}

func isFailure(line string) bool {
	return line == "ERROR" || line == "FAIL" || line == "SEND FAIL"
}

// Expect reads lines until one starts with prefix and returns it. An
// ERROR or FAIL line ends the wait early.
func (a *AT) Expect(ctx context.Context, prefix string) (string, error) {
	return a.ExpectWithin(ctx, a.timeout, prefix)
}

func (a *AT) ExpectWithin(ctx context.Context, d time.Duration, prefix string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for {
		line, err := a.readLine(ctx)
		if err != nil {
			return "", err
		}
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			return line, nil
		}
		if isFailure(line) {
			return line, fmt.Errorf("%w: %s", ErrCommand, line)
		}
	}
}

// Command sends a command and waits for OK.
func (a *AT) Command(ctx context.Context, format string, args ...any) error {
	if err := a.Send(format, args...); err != nil {
		return err
	}
	_, err := a.Expect(ctx, "OK")
	return err
}

// Prompt waits for the '>' that invites a CIPSEND payload. The prompt is
// not newline-terminated.
func (a *AT) Prompt(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	for {
		if i := bytes.IndexByte(a.pending, '>'); i >= 0 {
			head := a.pending[:i]
			a.pending = a.pending[i+1:]
			if bytes.Contains(head, []byte("ERROR")) {
				return fmt.Errorf("%w: no prompt", ErrCommand)
			}
			return nil
		}
		if bytes.Contains(a.pending, []byte("ERROR\r\n")) {
			a.pending = a.pending[:0]
			return fmt.Errorf("%w: no prompt", ErrCommand)
		}
		if err := a.fill(ctx); err != nil {
			return err
		}
	}
}

var ipdTag = []byte("+IPD,")

// ReadIPD returns the payload of the next +IPD,<link>,<len>:<data> frame.
// Lines before the frame are discarded.
func (a *AT) ReadIPD(ctx context.Context) ([]byte, error) {
	for {
		i := bytes.Index(a.pending, ipdTag)
		if i >= 0 {
			colon := bytes.IndexByte(a.pending[i:], ':')
			if colon >= 0 {
				meta := a.pending[i+len(ipdTag) : i+colon]
				n, err := ipdLength(meta)
				if err != nil {
					a.pending = a.pending[i+colon+1:]
					return nil, err
				}
				start := i + colon + 1
				for len(a.pending)-start < n {
					if err := a.fill(ctx); err != nil {
						return nil, err
					}
				}
				data := append([]byte(nil), a.pending[start:start+n]...)
				a.pending = a.pending[start+n:]
				return data, nil
			}
		} else if len(a.pending) > len(ipdTag) {
			// Keep a tail long enough to hold a split tag.
			a.pending = a.pending[len(a.pending)-len(ipdTag):]
		}
		if err := a.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// ipdLength parses "<link>,<len>" (multiplexed) or "<len>".
func ipdLength(meta []byte) (int, error) {
	if j := bytes.LastIndexByte(meta, ','); j >= 0 {
		meta = meta[j+1:]
	}
	n, err := strconv.Atoi(string(meta))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad +IPD length %q", ErrProtocol, meta)
	}
	return n, nil
}

// Drain discards buffered input.
func (a *AT) Drain() { a.pending = a.pending[:0] }
