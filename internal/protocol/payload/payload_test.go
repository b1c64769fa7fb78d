package payload

import (
	"errors"
	"testing"

	"github.com/danmuck/framelink/internal/testutil/testlog"
)

func TestUTF8RoundTrip(t *testing.T) {
	testlog.Start(t)

	var c Codec[string] = UTF8{}
	b, err := c.Encode("привет, ping")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != "привет, ping" {
		t.Fatalf("unexpected text: %q", out)
	}
}

func TestUTF8RejectsInvalidBytes(t *testing.T) {
	testlog.Start(t)

	if _, err := (UTF8{}).Decode([]byte{0xff, 0xfe}); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
	if _, err := (UTF8{}).Encode(string([]byte{0xc3})); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	testlog.Start(t)

	type command struct {
		Op   string            `json:"op"`
		Args map[string]string `json:"args"`
	}
	var c Codec[command] = JSON[command]{}
	b, err := c.Encode(command{Op: "echo", Args: map[string]string{"text": "hi"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Op != "echo" || out.Args["text"] != "hi" {
		t.Fatalf("unexpected command: %+v", out)
	}
	if _, err := c.Decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error for truncated json")
	}
}
