// Package mapitest provides an in-process fake MAPI server for driving
// mapidb's Connection/Pool/Transaction code over a real TCP socket
// without a live database, following the corpus's scriptable-mock style
// (queued responses, call counts, injectable errors) adapted to the wire
// protocol instead of an interface mock.
package mapitest

import (
	"fmt"
	"net"
	"sync"

	"github.com/dan-strohschein/mapigo/protocol"
)

// Server accepts MAPI connections, performs a scripted (always-succeeds
// unless configured otherwise) auth handshake, and then dispatches every
// subsequent client message to a caller-supplied Handler.
type Server struct {
	ln      net.Listener
	Salt    string
	Handler func(f *protocol.Framer, message []byte)

	mu       sync.Mutex
	requests [][]byte
	failAuth bool
	authMsg  string
}

// Handler is invoked once per client request after a successful
// handshake; it must call f.Send/f.SendText/f.SendCommand to reply.
type Handler func(f *protocol.Framer, message []byte)

// NewServer starts listening on 127.0.0.1 on an OS-assigned port.
func NewServer(handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, Salt: "testsalt1234567890AB", Handler: handler}
	go s.acceptLoop()
	return s, nil
}

// FailAuth makes every future handshake reject with msg instead of
// succeeding.
func (s *Server) FailAuth(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuth = true
	s.authMsg = msg
}

// HostPort returns the listener's dial target.
func (s *Server) HostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Requests returns every raw message the server has received so far,
// across every connection.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) recordRequest(msg []byte) {
	s.mu.Lock()
	s.requests = append(s.requests, append([]byte(nil), msg...))
	s.mu.Unlock()
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	f := protocol.NewFramer(conn, 0, 0)

	challenge := fmt.Sprintf("%s:mserver:9:SHA512:BIG:SHA512:", s.Salt)
	if err := f.Send([]byte(challenge)); err != nil {
		return
	}

	if _, err := f.Receive(); err != nil {
		return
	}

	s.mu.Lock()
	failAuth, authMsg := s.failAuth, s.authMsg
	s.mu.Unlock()
	if failAuth {
		f.Send([]byte("!" + authMsg))
		return
	}
	if err := f.Send([]byte{}); err != nil {
		return
	}

	for {
		msg, err := f.Receive()
		if err != nil {
			return
		}
		s.recordRequest(msg)
		if s.Handler != nil {
			s.Handler(f, msg)
		}
	}
}

// EchoMeta replies to every request with a plain "&3 0" success meta
// block, useful for handshake/session-config smoke tests that don't
// care about query results.
func EchoMeta(f *protocol.Framer, _ []byte) {
	f.Send([]byte("&3 0\n"))
}

// ScriptedResponses replies to successive requests with the given raw
// payloads in order, then repeats the final one for any extra requests.
func ScriptedResponses(payloads [][]byte) Handler {
	var i int
	var mu sync.Mutex
	return func(f *protocol.Framer, _ []byte) {
		mu.Lock()
		idx := i
		if idx >= len(payloads) {
			idx = len(payloads) - 1
		}
		i++
		mu.Unlock()
		if idx < 0 {
			f.Send([]byte("&3 0\n"))
			return
		}
		f.Send(payloads[idx])
	}
}
