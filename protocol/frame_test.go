package protocol

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// pipeFramers wires a Framer's write side to a Framer's read side through an
// in-memory net.Pipe, so Send/Receive round-trip without a real socket.
func pipeFramers() (client, server *Framer) {
	c, s := net.Pipe()
	return NewFramer(c, time.Second, time.Second), NewFramer(s, time.Second, time.Second)
}

func TestFrameRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 8190, 8191, 16380, 16381}

	for _, n := range lengths {
		n := n
		t.Run(itoa(n), func(t *testing.T) {
			client, server := pipeFramers()
			msg := make([]byte, n)
			for i := range msg {
				msg[i] = byte('a' + i%26)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- client.Send(msg) }()

			got, err := server.Receive()
			if err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("Send: %v", err)
			}
			if n == 0 {
				if len(got) != 0 {
					t.Fatalf("expected empty message, got %d bytes", len(got))
				}
				return
			}
			if !bytes.Equal(got, msg) {
				t.Fatalf("round trip mismatch for len %d", n)
			}
		})
	}
}

func TestFrameErrorPayload(t *testing.T) {
	client, server := pipeFramers()

	go func() { _ = client.Send([]byte("!123!oops")) }()

	_, err := server.Receive()
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if pe.Src != SourceServer {
		t.Fatalf("expected SourceServer, got %v", pe.Src)
	}
	if pe.Code == nil || *pe.Code != 123 {
		t.Fatalf("expected code 123, got %v", pe.Code)
	}
	if pe.Message != "oops" {
		t.Fatalf("expected message %q, got %q", "oops", pe.Message)
	}
}

func TestFrameErrorPayloadUnparsableCode(t *testing.T) {
	client, server := pipeFramers()

	go func() { _ = client.Send([]byte("!not-a-code!oops")) }()

	_, err := server.Receive()
	pe, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if pe.Code != nil {
		t.Fatalf("expected nil code, got %v", *pe.Code)
	}
	if pe.Message != "not-a-code!oops" {
		t.Fatalf("expected full payload preserved as message, got %q", pe.Message)
	}
}

func TestSendCommandAndQuery(t *testing.T) {
	client, server := pipeFramers()
	go func() { _ = client.SendCommand("reply_size -1") }()
	got, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "Xreply_size -1\n" {
		t.Fatalf("got %q", got)
	}

	client2, server2 := pipeFramers()
	go func() { _ = client2.SendQuery("select 1") }()
	got2, err := server2.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got2) != "sselect 1;" {
		t.Fatalf("got %q", got2)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
