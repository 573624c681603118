package mapidb

import (
	"context"
	"testing"
	"time"

	"github.com/dan-strohschein/mapigo/mapidb/mapitest"
)

func TestPoolCheckoutCheckin(t *testing.T) {
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	host, port := srv.HostPort()
	opts := Options{
		Host:           host,
		Port:           port,
		Database:       "testdb",
		PoolSize:       2,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		SendTimeout:    2 * time.Second,
	}

	pool, err := NewPool(opts, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	stats := pool.Stats()
	if stats.Live != 2 {
		t.Fatalf("expected 2 live workers, got %d", stats.Live)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	conn, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	pool.Checkin(conn, nil)

	if got := pool.Stats().TotalCheckouts; got != 1 {
		t.Fatalf("expected 1 checkout recorded, got %d", got)
	}
}

func TestPoolBackoffSchedule(t *testing.T) {
	bo := newPoolBackoff()
	want := []time.Duration{
		0, 0,
		100 * time.Millisecond,
		300 * time.Millisecond,
		600 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		4 * time.Second,
		4 * time.Second, // schedule exhausted: clamps to final entry
	}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w)
		}
	}

	bo.Reset()
	if got := bo.NextBackOff(); got != 0 {
		t.Fatalf("after Reset: got %v, want 0", got)
	}
}

func TestPoolReplaceWorkerDrivesReconnecting(t *testing.T) {
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	host, port := srv.HostPort()
	opts := Options{
		Host:           host,
		Port:           port,
		Database:       "testdb",
		PoolSize:       1,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		SendTimeout:    2 * time.Second,
	}

	sm := NewStateMachine()
	if err := sm.TransitionTo(StateConnecting, nil, nil); err != nil {
		t.Fatalf("TransitionTo Connecting: %v", err)
	}

	pool, err := NewPool(opts, sm)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	if err := sm.TransitionTo(StateConnected, nil, nil); err != nil {
		t.Fatalf("TransitionTo Connected: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	conn.setDead()
	pool.Checkin(conn, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().Live == 1 && sm.State() == StateConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected pool to recover a live worker and settle back to Connected, got live=%d state=%s",
		pool.Stats().Live, sm.State())
}

func TestPoolKillsAbandonedTransaction(t *testing.T) {
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	host, port := srv.HostPort()
	opts := Options{
		Host:               host,
		Port:               port,
		Database:           "testdb",
		PoolSize:           1,
		ConnectTimeout:     2 * time.Second,
		ReadTimeout:        2 * time.Second,
		SendTimeout:        2 * time.Second,
		TransactionTimeout: 50 * time.Millisecond,
	}
	pool, err := NewPool(opts, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	pool.registerTx("abandoned-tx", conn)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !conn.IsAlive() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected abandoned-transaction monitor to close the connection")
}

func TestPoolPreparedCacheRoundTrip(t *testing.T) {
	srv, err := mapitest.NewServer(mapitest.EchoMeta)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	host, port := srv.HostPort()
	opts := Options{
		Host: host, Port: port, Database: "testdb", PoolSize: 1,
		ConnectTimeout: 2 * time.Second, ReadTimeout: 2 * time.Second, SendTimeout: 2 * time.Second,
	}
	pool, err := NewPool(opts, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	fake := &Prepared{ID: "1"}
	pool.putPrepared("tx-1", "stmt-a", fake)

	got, ok := pool.getPrepared("tx-1", "stmt-a")
	if !ok || got != fake {
		t.Fatalf("expected cached prepared statement to round-trip")
	}

	if _, ok := pool.getPrepared("tx-2", "stmt-a"); ok {
		t.Fatalf("cache entry leaked across transaction ids")
	}

	evicted := pool.evictPreparedForTx("tx-1", []string{"stmt-a"})
	if len(evicted) != 1 || evicted[0] != fake {
		t.Fatalf("expected eviction to return the cached entry")
	}
	if _, ok := pool.getPrepared("tx-1", "stmt-a"); ok {
		t.Fatalf("expected entry to be gone after eviction")
	}
}
