package mapidb

import (
	"context"
	"testing"
	"time"

	"github.com/dan-strohschein/mapigo/mapidb/mapitest"
)

func testOptions(t *testing.T, srv *mapitest.Server) Options {
	t.Helper()
	host, port := srv.HostPort()
	return Options{
		Host:           host,
		Port:           port,
		Database:       "testdb",
		Username:       "monetdb",
		Password:       "monetdb",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		SendTimeout:    2 * time.Second,
	}
}

func TestConnectConfiguresSession(t *testing.T) {
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(testOptions(t, srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if !conn.IsAlive() {
		t.Fatalf("expected connection to be alive")
	}

	reqs := srv.Requests()
	if len(reqs) < 2 {
		t.Fatalf("expected at least 2 session-config requests, got %d", len(reqs))
	}
	if string(reqs[0])[:24] != "set time zone interval '" {
		t.Fatalf("unexpected first request: %q", reqs[0])
	}
}

func TestQuerySimpleSelect(t *testing.T) {
	payload := []byte("&1 0 0 1\n% sys.foo #\n% x #\n% int #\n% 1 #\n")
	srv, err := mapitest.NewServer(mapitest.ScriptedResponses([][]byte{
		[]byte("&3 0\n"), // time zone
		[]byte("&3 0\n"), // reply_size
		payload,
	}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(testOptions(t, srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	result, err := conn.Query("select 1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.RowCount != 0 {
		t.Fatalf("expected empty result, got RowCount=%d", result.RowCount)
	}
}

func TestConnectSurfacesAuthFailure(t *testing.T) {
	srv, err := mapitest.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()
	srv.FailAuth("401!invalid credentials")

	_, err = Connect(testOptions(t, srv))
	if err == nil {
		t.Fatalf("expected auth error")
	}
}

func TestQueryWithArgsClosesConnectionOnNonBenignDeallocateError(t *testing.T) {
	prepared := []byte("&5 stmt1\n%  # table\n% type,\tdigits,\tscale,\ttable,\tcolumn # name\n%  # type\n%  # length\n")
	execResult := []byte("&1 0 1 1\n% sys.foo #\n% x #\n% int #\n% 1 #\n")
	dealloc := []byte("&3 1\n!12345!custom failure")

	srv, err := mapitest.NewServer(mapitest.ScriptedResponses([][]byte{
		[]byte("&3 0\n"), // time zone
		[]byte("&3 0\n"), // reply_size
		prepared,
		execResult,
		dealloc,
	}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(testOptions(t, srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.QueryWithArgs("select 1", nil); err != nil {
		t.Fatalf("QueryWithArgs: %v", err)
	}
	if conn.IsAlive() {
		t.Fatalf("expected connection to be marked dead after a non-benign deallocate error")
	}
}

func TestPingUsesQueryPath(t *testing.T) {
	payload := []byte("&1 0 1 1\n% sys.dummy #\n% x #\n% int #\n% 1 #\n")
	srv, err := mapitest.NewServer(mapitest.ScriptedResponses([][]byte{
		[]byte("&3 0\n"),
		payload,
	}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(testOptions(t, srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	reqs := srv.Requests()
	if got := string(reqs[len(reqs)-1]); got != "sselect 1;" {
		t.Fatalf("expected Ping to send a simple query, got %q", got)
	}
}

func TestPingHonorsCancelledContext(t *testing.T) {
	payload := []byte("&1 0 1 1\n% sys.dummy #\n% x #\n% int #\n% 1 #\n")
	srv, err := mapitest.NewServer(mapitest.ScriptedResponses([][]byte{
		[]byte("&3 0\n"),
		payload,
	}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(testOptions(t, srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected Ping to report the already-cancelled context")
	}
}
