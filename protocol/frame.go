package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = 8190

// finHeader packs a frame header from a payload length and the fin bit.
func finHeader(length int, fin bool) uint16 {
	h := uint16(length) << 1
	if fin {
		h |= 1
	}
	return h
}

// nonFinalHeader is the header written ahead of every full, non-final
// 8190-byte frame: (8190 << 1) | 0 = 0x3FFC, written little-endian as the
// bytes 0xFC 0x3F.
var nonFinalHeader = finHeader(MaxPayload, false)

// Framer encodes and decodes MAPI frames over a byte stream. It is the
// lowest-level component: every other piece of the driver that talks to
// the server does so through a Framer.
type Framer struct {
	conn        net.Conn
	r           *bufio.Reader
	readTimeout time.Duration
	sendTimeout time.Duration

	bufPool sync.Pool
}

// NewFramer wraps conn with MAPI frame encoding/decoding. readTimeout and
// sendTimeout are applied to every Receive/Send call via
// SetReadDeadline/SetWriteDeadline; zero disables the corresponding
// deadline.
func NewFramer(conn net.Conn, readTimeout, sendTimeout time.Duration) *Framer {
	return &Framer{
		conn:        conn,
		r:           bufio.NewReaderSize(conn, 8192),
		readTimeout: readTimeout,
		sendTimeout: sendTimeout,
		bufPool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

// Send splits message into MAPI frames and writes them as a single logical
// message, flushing before it returns.
func (f *Framer) Send(message []byte) error {
	if f.sendTimeout > 0 {
		if err := f.conn.SetWriteDeadline(time.Now().Add(f.sendTimeout)); err != nil {
			return NewNetworkError("set write deadline", err)
		}
	}

	buf := f.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer f.bufPool.Put(buf)

	var hdr [2]byte
	if len(message) == 0 {
		binary.LittleEndian.PutUint16(hdr[:], finHeader(0, true))
		buf.Write(hdr[:])
	} else {
		remaining := message
		for len(remaining) > 0 {
			chunk := remaining
			final := true
			if len(chunk) > MaxPayload {
				chunk = chunk[:MaxPayload]
				final = false
			}
			if final {
				binary.LittleEndian.PutUint16(hdr[:], finHeader(len(chunk), true))
			} else {
				binary.LittleEndian.PutUint16(hdr[:], nonFinalHeader)
			}
			buf.Write(hdr[:])
			buf.Write(chunk)
			remaining = remaining[len(chunk):]
		}
	}

	if _, err := f.conn.Write(buf.Bytes()); err != nil {
		return NewNetworkError("frame write failed", err)
	}
	return nil
}

// SendCommand wraps Send with the "X<command>\n" control-command prefix.
func (f *Framer) SendCommand(command string) error {
	return f.Send([]byte("X" + command + "\n"))
}

// SendQuery wraps Send with the "s<sql>;" simple-query prefix.
func (f *Framer) SendQuery(sql string) error {
	return f.Send([]byte("s" + sql + ";"))
}

// SendText sends a plain-text protocol command (prepare, exec, deallocate,
// commit, rollback, start transaction, set ...) unmodified.
func (f *Framer) SendText(text string) error {
	return f.Send([]byte(text))
}

// Receive reads one logical message: repeated frames until one arrives
// with its fin bit set. If the assembled payload begins with "!" it is
// parsed as a server error and returned as the error value instead of a
// payload.
func (f *Framer) Receive() ([]byte, error) {
	if f.readTimeout > 0 {
		if err := f.conn.SetReadDeadline(time.Now().Add(f.readTimeout)); err != nil {
			return nil, NewNetworkError("set read deadline", err)
		}
	}

	var out []byte
	for {
		var hdr [2]byte
		if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
			return nil, netErr(err)
		}
		h := binary.LittleEndian.Uint16(hdr[:])
		fin := h&1 != 0
		length := int(h >> 1)

		if length > 0 {
			chunk := make([]byte, length)
			if _, err := io.ReadFull(f.r, chunk); err != nil {
				return nil, netErr(err)
			}
			out = append(out, chunk...)
		}
		if fin {
			break
		}
	}

	if len(out) > 0 && out[0] == '!' {
		return nil, NewServerError(string(out[1:]))
	}
	return out, nil
}

// netErr maps a read failure (timeout, EOF, reset) to a network Error.
func netErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return NewNetworkError("read timeout", err)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return NewNetworkError("connection closed", err)
	}
	return NewNetworkError("read failed", err)
}
