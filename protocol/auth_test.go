package protocol

import (
	"net"
	"testing"
	"time"
)

func TestBuildAuthMessageDigest(t *testing.T) {
	ch := &challenge{
		salt:      "oRzY7XZr1EfNWETqU6b2",
		authTypes: "SHA256",
		hashAlgo:  "SHA512",
	}
	msg, err := buildAuthMessage("leto", "atreides", "dune", ch)
	if err != nil {
		t.Fatalf("buildAuthMessage: %v", err)
	}
	want := "LIT:leto:{SHA256}9f133d2ccda31b36cb9c4a848cf4332635d353b5c8c0fee341a8c90ffcc38127:sql:dune:"
	if msg != want {
		t.Fatalf("got %q, want %q", msg, want)
	}
}

func TestParseChallengeRejectsUnsupportedVersion(t *testing.T) {
	_, err := parseChallenge("salt:merovingian:8:SHA256:BIG:SHA512:")
	if err == nil {
		t.Fatal("expected error for unsupported protocol version")
	}
}

func TestAuthenticateRedirect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sf := NewFramer(server, time.Second, time.Second)
	cf := NewFramer(client, time.Second, time.Second)

	type result struct {
		outcome *AuthOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := Authenticate(cf, "leto", "atreides", "dune")
		done <- result{outcome, err}
	}()

	if err := sf.Send([]byte("oRzY7XZr1EfNWETqU6b2:merovingian:9:SHA256:BIG:SHA512:")); err != nil {
		t.Fatalf("send challenge: %v", err)
	}
	if _, err := sf.Receive(); err != nil {
		t.Fatalf("receive auth message: %v", err)
	}
	if err := sf.Send([]byte("^mapi:monetdb://caladan.dune.local:50001/dune_db\n")); err != nil {
		t.Fatalf("send redirect: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
	if res.outcome == nil || res.outcome.Redirect == nil {
		t.Fatalf("expected a Redirect outcome, got %+v", res.outcome)
	}
	redir := res.outcome.Redirect
	if redir.Host != "caladan.dune.local" {
		t.Errorf("Redirect.Host = %q, want %q", redir.Host, "caladan.dune.local")
	}
	if redir.Port != 50001 {
		t.Errorf("Redirect.Port = %d, want %d", redir.Port, 50001)
	}
	if redir.Database != "dune_db" {
		t.Errorf("Redirect.Database = %q, want %q", redir.Database, "dune_db")
	}
}

func TestAuthenticateProxyLoop(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sf := NewFramer(server, time.Second, time.Second)
	cf := NewFramer(client, time.Second, time.Second)

	outcomeCh := make(chan *AuthOutcome, 1)
	errCh := make(chan error, 1)
	go func() {
		outcome, err := Authenticate(cf, "leto", "atreides", "dune")
		outcomeCh <- outcome
		errCh <- err
	}()

	// First round: server plays proxy.
	if err := sf.Send([]byte("salt1:merovingian:9:SHA256:BIG:SHA512:")); err != nil {
		t.Fatalf("send challenge 1: %v", err)
	}
	if _, err := sf.Receive(); err != nil {
		t.Fatalf("receive auth message 1: %v", err)
	}
	if err := sf.Send([]byte("^mapi:merovingian://proxying\n")); err != nil {
		t.Fatalf("send proxy indication: %v", err)
	}

	// Second round: real server authenticates.
	if err := sf.Send([]byte("salt2:mserver:9:SHA256:BIG:SHA512:")); err != nil {
		t.Fatalf("send challenge 2: %v", err)
	}
	if _, err := sf.Receive(); err != nil {
		t.Fatalf("receive auth message 2: %v", err)
	}
	if err := sf.Send([]byte("")); err != nil {
		t.Fatalf("send empty ok: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	outcome := <-outcomeCh
	if outcome.Redirect != nil {
		t.Fatalf("expected no redirect, got %+v", outcome.Redirect)
	}
}
