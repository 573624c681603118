package mapidb

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dan-strohschein/mapigo/resultset"
)

// TxOutcomeKind tags how a transaction body wants its work finished.
type TxOutcomeKind int

const (
	// TxOk carries a successful result that should be committed. It
	// exists alongside TxCommit so a body can return plain success
	// without explicitly naming the commit.
	TxOk TxOutcomeKind = iota
	TxCommit
	TxRollback
)

// TxOutcome is the value a TxBody returns to say what should happen to
// the transaction: Ok/Commit both commit and carry Value back to the
// caller of RunTransaction; Rollback rolls back and Value (typically an
// error) is surfaced as the call's error.
type TxOutcome struct {
	Kind  TxOutcomeKind
	Value interface{}
}

func Ok(v interface{}) TxOutcome       { return TxOutcome{Kind: TxOk, Value: v} }
func Commit(v interface{}) TxOutcome   { return TxOutcome{Kind: TxCommit, Value: v} }
func Rollback(v interface{}) TxOutcome { return TxOutcome{Kind: TxRollback, Value: v} }

// TxBody is the caller-supplied unit of work run inside a transaction.
type TxBody func(tx *Transaction) TxOutcome

// Transaction scopes a sequence of statements to one checked-out
// Connection and one server-side transaction, with access to the Pool's
// shared prepared-statement cache keyed by this transaction's id.
type Transaction struct {
	id    string
	conn  *Connection
	pool  *Pool
	names []string
}

func newTransaction(conn *Connection, pool *Pool) *Transaction {
	return &Transaction{id: uuid.NewString(), conn: conn, pool: pool}
}

// ID returns the transaction's generated id, used as the cache key for its
// prepared statements and to register it with the Pool's
// abandoned-transaction monitor.
func (tx *Transaction) ID() string { return tx.id }

// Prepare returns the transaction-scoped Prepared statement cached under
// name, preparing it against the connection the first time it is asked
// for and reusing it on every later call with the same name.
func (tx *Transaction) Prepare(name, sql string) (*Prepared, error) {
	if pr, ok := tx.pool.getPrepared(tx.id, name); ok {
		return pr, nil
	}
	pr, err := NewPrepared(tx.conn, sql)
	if err != nil {
		return nil, err
	}
	tx.pool.putPrepared(tx.id, name, pr)
	tx.names = append(tx.names, name)
	return pr, nil
}

// Query runs a one-off statement with no server-side prepare.
func (tx *Transaction) Query(sql string) (*resultset.Result, error) {
	return tx.conn.Query(sql)
}

// QueryWithArgs runs sql once through the ad hoc prepare/exec/deallocate
// path, without adding it to the transaction's named-statement cache.
func (tx *Transaction) QueryWithArgs(sql string, args []resultset.Value) (*resultset.Result, error) {
	return tx.conn.QueryWithArgs(sql, args)
}

func (tx *Transaction) cleanupPrepared() {
	for _, pr := range tx.pool.evictPreparedForTx(tx.id, tx.names) {
		if err := pr.Close(); err != nil && !IsBenignDeallocateError(err) {
			tx.conn.logger.Warn("failed to deallocate prepared statement",
				FieldString("id", pr.ID), FieldError("error", err))
		}
	}
}

func asError(v interface{}) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

// RunTransaction checks out a Connection, opens a server transaction,
// runs body, and commits or rolls back per its TxOutcome. A panic inside
// body is caught, triggers a rollback and cache cleanup, and is then
// re-panicked so the caller's own recover (if any) still observes it.
func RunTransaction(ctx context.Context, pool *Pool, body TxBody) (interface{}, error) {
	conn, err := pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	tx := newTransaction(conn, pool)
	var checkinErr error
	defer func() { pool.Checkin(conn, checkinErr) }()

	if err := conn.execPlain("start transaction"); err != nil {
		checkinErr = err
		return nil, err
	}

	pool.registerTx(tx.id, conn)
	defer pool.unregisterTx(tx.id)

	outcome, panicVal := runBody(tx, body)
	if panicVal != nil {
		_ = conn.execPlain("rollback")
		tx.cleanupPrepared()
		panic(panicVal)
	}

	switch outcome.Kind {
	case TxRollback:
		if err := conn.execPlain("rollback"); err != nil {
			checkinErr = err
		}
		tx.cleanupPrepared()
		return nil, asError(outcome.Value)
	default: // TxOk, TxCommit
		if err := conn.execPlain("commit"); err != nil {
			checkinErr = err
			tx.cleanupPrepared()
			return nil, err
		}
		tx.cleanupPrepared()
		return outcome.Value, nil
	}
}

func runBody(tx *Transaction, body TxBody) (outcome TxOutcome, panicVal interface{}) {
	defer func() {
		if r := recover(); r != nil {
			panicVal = r
		}
	}()
	outcome = body(tx)
	return
}
