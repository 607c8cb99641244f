package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]Code{
		"io_error":        IO,
		"transport_error": Transport,
		"config_error":    Config,
		"not_connected":   NotConnected,
		"rejected":        Rejected,
		"timeout":         Timeout,
		"backlog_full":    BacklogFull,
	}
	for want, c := range cases {
		if c.Error() != want {
			t.Fatalf("code %q mismatch: got %q", want, c.Error())
		}
	}
}

func TestOf_UnwrapsChain(t *testing.T) {
	base := errors.New("disk gone")
	err := fmt.Errorf("append: %w", Wrap(IO, "backlog.append", base))

	if got := Of(err); got != IO {
		t.Fatalf("Of = %q, want %q", got, IO)
	}
	if !errors.Is(err, base) {
		t.Fatal("cause lost in wrap")
	}
	if Of(nil) != OK {
		t.Fatal("Of(nil) != OK")
	}
	if Of(errors.New("x")) != Error {
		t.Fatal("unknown errors should map to Error")
	}
	if Of(Timeout) != Timeout {
		t.Fatal("bare code not recognised")
	}
}

func TestIs_MatchesParent(t *testing.T) {
	err := New(Rejected, "http.send", "status 404")
	if !errors.Is(err, Transport) {
		t.Fatal("rejected should match transport_error")
	}
	if !errors.Is(err, Rejected) {
		t.Fatal("rejected should match itself")
	}
	if errors.Is(err, IO) {
		t.Fatal("rejected must not match io_error")
	}
	if got := err.Error(); got != "http.send: rejected: status 404" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(IO, "op", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}
