package mapidb

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dan-strohschein/mapigo/protocol"
	"github.com/dan-strohschein/mapigo/resultset"
)

// Connection owns one TCP socket to the server. It is single-threaded:
// once checked out of a Pool, only the checking-out caller may use it
// until it is checked back in.
type Connection struct {
	conn   net.Conn
	framer *protocol.Framer
	opts   Options
	logger Logger

	mu           sync.Mutex
	alive        bool
	lastActivity time.Time
}

// maxRedirects bounds the redirect-then-reconnect recursion so a
// misbehaving server cannot loop the client forever.
const maxRedirects = 5

// Connect dials, authenticates (following any redirect), configures the
// session, and returns a ready Connection.
func Connect(opts Options) (*Connection, error) {
	return connect(opts, 0)
}

func connect(opts Options, redirectDepth int) (*Connection, error) {
	if redirectDepth > maxRedirects {
		return nil, protocol.NewDriverError("too many redirects", nil)
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
	if err != nil {
		return nil, protocol.NewNetworkError("dial failed", err)
	}

	framer := protocol.NewFramer(conn, opts.ReadTimeout, opts.SendTimeout)
	outcome, err := protocol.Authenticate(framer, opts.Username, opts.Password, opts.Database)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if outcome.Redirect != nil {
		conn.Close()
		merged := opts
		merged.Host = outcome.Redirect.Host
		if outcome.Redirect.Port != 0 {
			merged.Port = outcome.Redirect.Port
		}
		if outcome.Redirect.Database != "" {
			merged.Database = outcome.Redirect.Database
		}
		return connect(merged, redirectDepth+1)
	}

	c := &Connection{
		conn:         conn,
		framer:       framer,
		opts:         opts,
		logger:       opts.Logger,
		alive:        true,
		lastActivity: time.Now(),
	}
	if c.logger == nil {
		c.logger = NewNoopLogger()
	}

	if err := c.configureSession(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// configureSession runs the post-auth setup sequence: time zone, unlimited
// reply size, and any optional schema/role.
func (c *Connection) configureSession() error {
	tzCmd := fmt.Sprintf("set time zone interval '%d' minute", c.opts.TimeZoneOffsetMinutes)
	if err := c.sendPlainExpectMeta(tzCmd); err != nil {
		return err
	}

	if err := c.framer.SendCommand("reply_size -1"); err != nil {
		return err
	}
	if _, err := c.framer.Receive(); err != nil {
		return err
	}

	if c.opts.Schema != "" {
		if err := c.sendPlainExpectMeta("set schema " + c.opts.Schema); err != nil {
			return err
		}
	}
	if c.opts.Role != "" {
		if err := c.sendPlainExpectMeta("set role " + c.opts.Role); err != nil {
			return err
		}
	}
	return nil
}

// sendPlainExpectMeta sends a plain-text command and consumes its "&3"
// meta reply, surfacing any embedded server error.
func (c *Connection) sendPlainExpectMeta(text string) error {
	if err := c.framer.SendText(text); err != nil {
		return err
	}
	raw, err := c.framer.Receive()
	if err != nil {
		return err
	}
	_, err = resultset.Parse(raw)
	return err
}

// execPlain sends a plain-text command (commit/rollback/start
// transaction) and requires a successful, non-error reply.
func (c *Connection) execPlain(text string) error {
	c.debugTrace("send", text)
	if err := c.framer.SendText(text); err != nil {
		c.noteNetworkError(err)
		return err
	}
	raw, err := c.framer.Receive()
	if err != nil {
		c.noteNetworkError(err)
		return err
	}
	c.debugTrace("recv", string(raw))
	if len(raw) == 0 {
		return nil
	}
	_, err = resultset.Parse(raw)
	return err
}

// Ping sends a lightweight liveness probe ("select 1") and discards the
// reply, returning early with ctx's error if ctx is done before the probe
// completes. Used by the Pool's optional health-check pass.
func (c *Connection) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.Query("select 1")
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return protocol.NewNetworkError("ping cancelled", ctx.Err())
	}
}

// Query runs sql with no arguments over the simple query path.
func (c *Connection) Query(sql string) (*resultset.Result, error) {
	c.debugTrace("send", "s"+sql+";")
	if err := c.framer.SendQuery(sql); err != nil {
		c.noteNetworkError(err)
		return nil, err
	}
	raw, err := c.framer.Receive()
	if err != nil {
		c.noteNetworkError(err)
		return nil, err
	}
	c.debugTrace("recv", string(raw))
	return resultset.Parse(raw)
}

// QueryWithArgs runs sql as a server-side prepared statement: prepare,
// exec, deallocate. Deallocate outcomes are handled per the invariant
// that a failed exec leaves the statement already dropped server-side.
func (c *Connection) QueryWithArgs(sql string, args []resultset.Value) (*resultset.Result, error) {
	p, err := NewPrepared(c, sql)
	if err != nil {
		c.noteNetworkError(err)
		return nil, err
	}

	result, execErr := p.Exec(args)
	closeErr := p.Close()

	switch {
	case closeErr == nil:
		// statement cleanly deallocated; keep the connection.
	case IsBenignDeallocateError(closeErr):
		// already gone server-side after a failed exec (7003); benign.
	default:
		// any other deallocate failure risks a leaked prepared statement
		// server-side; the connection can no longer be trusted.
		c.setDead()
	}

	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

func (c *Connection) debugTrace(direction, payload string) {
	if !c.opts.DebugMode {
		return
	}
	c.logger.Debug("wire", FieldString("direction", direction), FieldString("payload", payload))
}

// noteNetworkError marks the connection dead if err is network-sourced;
// on any fatal error the socket is considered unusable by the Pool.
func (c *Connection) noteNetworkError(err error) {
	if pe, ok := err.(*protocol.Error); ok && pe.Src == protocol.SourceNetwork {
		c.setDead()
	}
}

func (c *Connection) setDead() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// IsAlive reports whether the connection is still considered usable.
func (c *Connection) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Close closes the underlying socket and marks the connection dead.
func (c *Connection) Close() error {
	c.setDead()
	return c.conn.Close()
}

// RemoteAddr returns the connection's remote address string, for logging.
func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// splitHostPort parses a "host:port" pair for DSN handling in Open.
func splitHostPort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, protocol.NewClientError("invalid host:port " + hostport)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, protocol.NewClientError("invalid port " + portStr)
	}
	return host, port, nil
}
