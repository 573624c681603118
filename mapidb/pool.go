package mapidb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash"

	"github.com/dan-strohschein/mapigo/protocol"
)

// poolBackoff reproduces the exact fixed reconnect schedule: attempts 0-1
// immediate, then 100ms, 300ms, 600ms, 1s, 2s, 3s, 4s, after which every
// further attempt sleeps 4s. It implements backoff.BackOff so the Pool's
// retry loop rides cenkalti/backoff's Retry machinery instead of a
// hand-rolled for-loop.
type poolBackoff struct {
	mu      sync.Mutex
	attempt int
}

var backoffSchedule = []time.Duration{
	0, 0,
	100 * time.Millisecond,
	300 * time.Millisecond,
	600 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	4 * time.Second,
}

// maxBackoffAttempts clamps the internal counter so it never grows
// without bound; once at the cap every further NextBackOff call returns
// the schedule's final (4s) entry.
const maxBackoffAttempts = 11

func newPoolBackoff() *poolBackoff { return &poolBackoff{} }

func (b *poolBackoff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.attempt
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	d := backoffSchedule[idx]
	if b.attempt < maxBackoffAttempts {
		b.attempt++
	}
	return d
}

// Reset zeroes the attempt counter; called on the first successful
// connect after a run of failures.
func (b *poolBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// PoolStats is a snapshot of Pool activity, exposed for observability.
type PoolStats struct {
	Live              int32
	Dead              int32
	TotalCheckouts    int64
	FailedConnections int64
}

// cacheKey identifies one cached prepared statement by the owning
// transaction's id and the statement's name, hashed with xxhash to avoid
// per-lookup string concatenation.
type cacheKey uint64

func makeCacheKey(txID, name string) cacheKey {
	return cacheKey(xxhash.Sum64String(txID + "\x00" + name))
}

// Pool is a bounded set of Connection workers with checkout/checkin,
// reconnect backoff, and the shared prepared-statement cache transactions
// use when Transaction cannot own the cache directly (Connection lifetime
// here is intertwined with Pool mechanics, per the fallback design).
type Pool struct {
	opts   Options
	logger Logger
	sm     *StateMachine

	available chan *Connection

	liveCount int32
	deadCount int32
	checkouts int64
	failed    int64

	cacheMu sync.Mutex
	cache   map[cacheKey]*Prepared

	txMu   sync.Mutex
	openTx map[string]*openTxInfo

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// openTxInfo tracks when a Transaction started, for the abandoned-
// transaction monitor.
type openTxInfo struct {
	conn  *Connection
	start time.Time
}

// NewPool starts pool_size Connection workers. Workers that fail to
// connect at startup are left as dead slots and driven by the backoff
// schedule in the background. sm, if non-nil, is the DB façade's
// aggregate StateMachine; replaceWorker drives it through Reconnecting
// while a worker is being replaced.
func NewPool(opts Options, sm *StateMachine) (*Pool, error) {
	opts = withDefaults(opts)
	p := &Pool{
		opts:      opts,
		logger:    opts.Logger,
		sm:        sm,
		available: make(chan *Connection, opts.PoolSize),
		cache:     make(map[cacheKey]*Prepared),
		openTx:    make(map[string]*openTxInfo),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < opts.PoolSize; i++ {
		conn, err := Connect(opts)
		if err != nil {
			atomic.AddInt32(&p.deadCount, 1)
			atomic.AddInt64(&p.failed, 1)
			p.logger.Warn("pool worker init failed", FieldError("error", err))
			p.wg.Add(1)
			go p.replaceWorker()
			continue
		}
		atomic.AddInt32(&p.liveCount, 1)
		p.available <- conn
	}

	if opts.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthCheckLoop()
	}

	if opts.TransactionTimeout > 0 {
		p.wg.Add(1)
		go p.txMonitorLoop()
	}

	return p, nil
}

// Checkout blocks until a live Connection is available or ctx is done.
func (p *Pool) Checkout(ctx context.Context) (*Connection, error) {
	for {
		select {
		case conn := <-p.available:
			atomic.AddInt64(&p.checkouts, 1)
			if !conn.IsAlive() {
				atomic.AddInt32(&p.liveCount, -1)
				atomic.AddInt32(&p.deadCount, 1)
				p.wg.Add(1)
				go p.replaceWorker()
				continue
			}
			return conn, nil
		case <-ctx.Done():
			return nil, protocol.NewNetworkError("checkout cancelled", ctx.Err())
		case <-p.stopCh:
			return nil, protocol.NewDriverError("pool closed", nil)
		}
	}
}

// Checkin releases conn back to the Pool. If opErr indicates the
// connection's socket has been observed closed, it is evicted and
// replaced instead of being returned to service.
func (p *Pool) Checkin(conn *Connection, opErr error) {
	if !conn.IsAlive() || isNetworkError(opErr) {
		atomic.AddInt32(&p.liveCount, -1)
		atomic.AddInt32(&p.deadCount, 1)
		conn.Close()
		p.wg.Add(1)
		go p.replaceWorker()
		return
	}
	select {
	case p.available <- conn:
	default:
		// Pool is over capacity (should not happen); drop the extra.
		conn.Close()
	}
}

func isNetworkError(err error) bool {
	pe, ok := err.(*protocol.Error)
	return ok && pe.Src == protocol.SourceNetwork
}

// replaceWorker retries Connect with the fixed backoff schedule until it
// succeeds, then contributes a live Connection back to the Pool. While a
// replacement is outstanding it drives the DB façade's StateMachine through
// Reconnecting, if one was supplied to NewPool.
func (p *Pool) replaceWorker() {
	defer p.wg.Done()
	bo := newPoolBackoff()

	p.markReconnecting()

	op := func() (*Connection, error) {
		conn, err := Connect(p.opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		conn, err := backoff.Retry(context.Background(), op, backoff.WithBackOff(bo), backoff.WithMaxTries(0))
		if err != nil {
			continue
		}
		bo.Reset()
		atomic.AddInt32(&p.deadCount, -1)
		atomic.AddInt32(&p.liveCount, 1)
		p.markReconnected()
		select {
		case p.available <- conn:
		case <-p.stopCh:
			conn.Close()
		}
		return
	}
}

// markReconnecting moves the DB façade's StateMachine to Reconnecting.
// The transition is illegal (and silently ignored) unless the machine is
// currently Connected, e.g. during initial Pool startup before Connected
// is ever reached, or while a prior worker replacement is already in
// flight.
func (p *Pool) markReconnecting() {
	if p.sm == nil {
		return
	}
	p.sm.TransitionTo(StateReconnecting, nil, nil)
}

// markReconnected moves the DB façade's StateMachine back to Connected
// once a replacement worker has been established.
func (p *Pool) markReconnected() {
	if p.sm == nil {
		return
	}
	p.sm.TransitionTo(StateConnected, nil, nil)
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.checkIdleHealth()
		case <-p.stopCh:
			return
		}
	}
}

// checkIdleHealth pings every currently idle Live worker without
// blocking a concurrent Checkout: it drains what is available right now,
// pings each, and returns healthy ones (or replaces dead ones).
func (p *Pool) checkIdleHealth() {
	n := len(p.available)
	for i := 0; i < n; i++ {
		select {
		case conn := <-p.available:
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.ReadTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				atomic.AddInt32(&p.liveCount, -1)
				atomic.AddInt32(&p.deadCount, 1)
				conn.Close()
				p.wg.Add(1)
				go p.replaceWorker()
				continue
			}
			p.available <- conn
		default:
			return
		}
	}
}

// txMonitorInterval is how often the abandoned-transaction monitor scans
// for transactions that have outrun Options.TransactionTimeout.
const txMonitorInterval = 1 * time.Second

func (p *Pool) txMonitorLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(txMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.killAbandonedTx()
		case <-p.stopCh:
			return
		}
	}
}

// registerTx records that a Transaction has started, for the abandoned-
// transaction monitor to watch. A no-op when TransactionTimeout is
// disabled.
func (p *Pool) registerTx(id string, conn *Connection) {
	if p.opts.TransactionTimeout <= 0 {
		return
	}
	p.txMu.Lock()
	p.openTx[id] = &openTxInfo{conn: conn, start: time.Now()}
	p.txMu.Unlock()
}

// unregisterTx stops watching id, called once the transaction has
// committed, rolled back, or panicked out.
func (p *Pool) unregisterTx(id string) {
	p.txMu.Lock()
	delete(p.openTx, id)
	p.txMu.Unlock()
}

// killAbandonedTx force-closes the socket backing any transaction that has
// been open longer than TransactionTimeout. The transaction's own body is
// still running on that Connection, so the monitor cannot safely send a
// rollback itself; closing the socket drops the server-side transaction
// and lets Checkin evict and replace the dead worker once the body
// eventually returns or its next wire operation fails.
func (p *Pool) killAbandonedTx() {
	deadline := p.opts.TransactionTimeout
	if deadline <= 0 {
		return
	}
	now := time.Now()
	p.txMu.Lock()
	var stale []*openTxInfo
	for id, info := range p.openTx {
		if now.Sub(info.start) >= deadline {
			stale = append(stale, info)
			delete(p.openTx, id)
		}
	}
	p.txMu.Unlock()

	for _, info := range stale {
		p.logger.Warn("aborting abandoned transaction",
			FieldString("remoteAddr", info.conn.RemoteAddr()))
		info.conn.Close()
	}
}

// Stats returns a snapshot of the Pool's activity counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Live:              atomic.LoadInt32(&p.liveCount),
		Dead:              atomic.LoadInt32(&p.deadCount),
		TotalCheckouts:    atomic.LoadInt64(&p.checkouts),
		FailedConnections: atomic.LoadInt64(&p.failed),
	}
}

// getPrepared looks up a transaction-scoped cached prepared statement.
func (p *Pool) getPrepared(txID, name string) (*Prepared, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	pr, ok := p.cache[makeCacheKey(txID, name)]
	return pr, ok
}

// putPrepared caches a named prepared statement under a transaction.
func (p *Pool) putPrepared(txID, name string, pr *Prepared) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache[makeCacheKey(txID, name)] = pr
}

// evictPreparedForTx removes and returns every prepared statement cached
// under txID, for the caller to explicitly deallocate at transaction end.
// The map has no per-key transaction index, so eviction is a targeted
// linear scan; this only runs once per transaction close, not per query.
func (p *Pool) evictPreparedForTx(txID string, names []string) []*Prepared {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	var out []*Prepared
	for _, name := range names {
		key := makeCacheKey(txID, name)
		if pr, ok := p.cache[key]; ok {
			out = append(out, pr)
			delete(p.cache, key)
		}
	}
	return out
}

// Close stops background workers and closes every currently idle
// Connection. Connections checked out at the time of Close are closed
// when their caller checks them back in.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	for {
		select {
		case conn := <-p.available:
			conn.Close()
		default:
			return nil
		}
	}
}
