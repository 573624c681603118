package mapidb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dan-strohschein/mapigo/mapidb/mapitest"
)

func newTestPool(t *testing.T) (*Pool, *mapitest.Server) {
	t.Helper()
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	host, port := srv.HostPort()
	pool, err := NewPool(Options{
		Host: host, Port: port, Database: "testdb", PoolSize: 1,
		ConnectTimeout: 2 * time.Second, ReadTimeout: 2 * time.Second, SendTimeout: 2 * time.Second,
	}, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("NewPool: %v", err)
	}
	return pool, srv
}

func lastCommand(reqs [][]byte) string {
	if len(reqs) == 0 {
		return ""
	}
	return string(reqs[len(reqs)-1])
}

func TestTransactionCommitsOnOk(t *testing.T) {
	pool, srv := newTestPool(t)
	defer srv.Close()
	defer pool.Close()

	ctx := context.Background()
	result, err := RunTransaction(ctx, pool, func(tx *Transaction) TxOutcome {
		return Ok("done")
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected result %q, got %v", "done", result)
	}
	if got := lastCommand(srv.Requests()); got != "commit" {
		t.Fatalf("expected final command to be commit, got %q", got)
	}
}

func TestTransactionRollsBackOnRollback(t *testing.T) {
	pool, srv := newTestPool(t)
	defer srv.Close()
	defer pool.Close()

	wantErr := errors.New("business rule violated")
	_, err := RunTransaction(context.Background(), pool, func(tx *Transaction) TxOutcome {
		return Rollback(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected returned error to be wantErr, got %v", err)
	}
	if got := lastCommand(srv.Requests()); got != "rollback" {
		t.Fatalf("expected final command to be rollback, got %q", got)
	}
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	pool, srv := newTestPool(t)
	defer srv.Close()
	defer pool.Close()

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		RunTransaction(context.Background(), pool, func(tx *Transaction) TxOutcome {
			panic("boom")
		})
	}()

	if recovered != "boom" {
		t.Fatalf("expected panic value to propagate, got %v", recovered)
	}
	if got := lastCommand(srv.Requests()); got != "rollback" {
		t.Fatalf("expected final command to be rollback after panic, got %q", got)
	}
}

func TestTransactionStartsBeforeBody(t *testing.T) {
	pool, srv := newTestPool(t)
	defer srv.Close()
	defer pool.Close()

	var sawStart bool
	_, err := RunTransaction(context.Background(), pool, func(tx *Transaction) TxOutcome {
		for _, req := range srv.Requests() {
			if strings.TrimSpace(string(req)) == "start transaction" {
				sawStart = true
			}
		}
		return Commit(nil)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if !sawStart {
		t.Fatalf("expected \"start transaction\" to be sent before body runs")
	}
}
