// Package mem provides an in-memory session.Driver over a tiny shared
// key/value table. Each Driver is one "physical connection": uncommitted
// writes are visible only on the connection that made them, commit merges
// them into the shared store, and savepoints are modeled as write layers.
//
// Every transaction control operation accepts scripted fault injection, so
// tests can exercise ambiguous-outcome recovery without a live database.
//
// The statement dialect is deliberately trivial (the session core treats
// statements as a black box):
//
//	Exec("PUT", key, value)  - upsert a row
//	Exec("DELETE", key)      - delete a row
//	Query("GET", key)        - one row [value], or no rows
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	errConnClosed  = errors.New("connection is closed")
	errNoTx        = errors.New("no transaction open")
	errTxOpen      = errors.New("transaction already open")
	errNoSavepoint = errors.New("no such savepoint")
	errBadStmt     = errors.New("unsupported statement")
)

// Store is the shared committed state visible to all connections.
type Store struct {
	mu   sync.RWMutex
	rows map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{rows: make(map[string]string)}
}

// Open creates a new connection to the store.
func (st *Store) Open() *Driver {
	return &Driver{
		store:  st,
		faults: make(map[string][]Fault),
	}
}

// Committed returns the committed value for a key, bypassing any
// connection. Test helper.
func (st *Store) Committed(key string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	v, ok := st.rows[key]
	return v, ok
}

// layer is one level of uncommitted writes. The base transaction layer has
// an empty savepoint name.
type layer struct {
	savepoint string
	writes    map[string]string
	deletes   map[string]bool
}

func newLayer(savepoint string) *layer {
	return &layer{
		savepoint: savepoint,
		writes:    make(map[string]string),
		deletes:   make(map[string]bool),
	}
}

// FaultMode controls whether a scripted fault is reported before or after
// the server-side effect.
type FaultMode int

const (
	// FailBefore reports the error with no server-side effect.
	FailBefore FaultMode = iota
	// FailAfter applies the server-side effect, then reports the error.
	// This models the "succeeded server-side, raised locally" case the
	// session core must treat as ambiguous.
	FailAfter
)

// Fault is one scripted failure for a driver operation.
type Fault struct {
	Mode FaultMode
	Err  error
}

// Driver is one in-memory physical connection.
type Driver struct {
	store *Store

	mu     sync.Mutex
	closed bool
	inTx   bool
	layers []*layer
	faults map[string][]Fault
}

// FailNext scripts a fault for the next occurrence of op. Recognized ops:
// begin, commit, rollback, savepoint_create, savepoint_release,
// savepoint_rollback, exec, query, close. Multiple scripted faults for the
// same op fire in order.
func (d *Driver) FailNext(op string, mode FaultMode, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], Fault{Mode: mode, Err: err})
}

// takeFault pops the next scripted fault for op. Caller must hold d.mu.
func (d *Driver) takeFault(op string) *Fault {
	queue := d.faults[op]
	if len(queue) == 0 {
		return nil
	}
	f := queue[0]
	d.faults[op] = queue[1:]
	return &f
}

// Begin implements session.Driver.
func (d *Driver) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("begin")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	if d.inTx {
		return errTxOpen
	}
	d.inTx = true
	d.layers = []*layer{newLayer("")}

	if f != nil {
		return f.Err
	}
	return nil
}

// Commit implements session.Driver.
func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("commit")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	if !d.inTx {
		return errNoTx
	}

	d.store.mu.Lock()
	for _, l := range d.layers {
		for k := range l.deletes {
			delete(d.store.rows, k)
		}
		for k, v := range l.writes {
			d.store.rows[k] = v
		}
	}
	d.store.mu.Unlock()

	d.inTx = false
	d.layers = nil

	if f != nil {
		return f.Err
	}
	return nil
}

// Rollback implements session.Driver.
func (d *Driver) Rollback(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("rollback")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	if !d.inTx {
		return errNoTx
	}
	d.inTx = false
	d.layers = nil

	if f != nil {
		return f.Err
	}
	return nil
}

// SavepointCreate implements session.Driver.
func (d *Driver) SavepointCreate(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("savepoint_create")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	if !d.inTx {
		return errNoTx
	}

	// SAVEPOINT with an existing name replaces it.
	if idx := d.savepointIndex(name); idx >= 0 {
		d.layers = d.layers[:idx]
	}
	d.layers = append(d.layers, newLayer(name))

	if f != nil {
		return f.Err
	}
	return nil
}

// SavepointRelease implements session.Driver.
func (d *Driver) SavepointRelease(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("savepoint_release")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	idx := d.savepointIndex(name)
	if idx <= 0 {
		return errNoSavepoint
	}

	below := d.layers[idx-1]
	for _, l := range d.layers[idx:] {
		for k := range l.deletes {
			delete(below.writes, k)
			below.deletes[k] = true
		}
		for k, v := range l.writes {
			below.writes[k] = v
			delete(below.deletes, k)
		}
	}
	d.layers = d.layers[:idx]

	if f != nil {
		return f.Err
	}
	return nil
}

// SavepointRollback implements session.Driver.
func (d *Driver) SavepointRollback(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return errConnClosed
	}

	f := d.takeFault("savepoint_rollback")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	idx := d.savepointIndex(name)
	if idx <= 0 {
		return errNoSavepoint
	}

	// Discard everything after the savepoint was established, keeping the
	// savepoint itself.
	d.layers = d.layers[:idx+1]
	d.layers[idx] = newLayer(name)

	if f != nil {
		return f.Err
	}
	return nil
}

// Exec implements session.Driver.
func (d *Driver) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.closed {
		return 0, errConnClosed
	}

	f := d.takeFault("exec")
	if f != nil && f.Mode == FailBefore {
		return 0, f.Err
	}

	var n int64
	var err error
	switch sql {
	case "PUT":
		if len(args) != 2 {
			err = fmt.Errorf("%w: PUT needs key and value", errBadStmt)
			break
		}
		d.put(fmt.Sprint(args[0]), fmt.Sprint(args[1]))
		n = 1
	case "DELETE":
		if len(args) != 1 {
			err = fmt.Errorf("%w: DELETE needs a key", errBadStmt)
			break
		}
		d.del(fmt.Sprint(args[0]))
		n = 1
	default:
		err = fmt.Errorf("%w: %q", errBadStmt, sql)
	}
	if err != nil {
		return 0, err
	}

	if f != nil {
		return n, f.Err
	}
	return n, nil
}

// Query implements session.Driver.
func (d *Driver) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed {
		return nil, errConnClosed
	}

	f := d.takeFault("query")
	if f != nil {
		return nil, f.Err
	}

	if sql != "GET" || len(args) != 1 {
		return nil, fmt.Errorf("%w: %q", errBadStmt, sql)
	}

	v, ok := d.get(fmt.Sprint(args[0]))
	if !ok {
		return nil, nil
	}
	return [][]any{{v}}, nil
}

// Close implements session.Driver. Closing drops any uncommitted state.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	f := d.takeFault("close")
	if f != nil && f.Mode == FailBefore {
		return f.Err
	}

	d.closed = true
	d.inTx = false
	d.layers = nil

	if f != nil {
		return f.Err
	}
	return nil
}

// InTransaction reports whether a server-side transaction is open. Test
// helper.
func (d *Driver) InTransaction() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inTx
}

// Closed reports whether the connection has been closed. Test helper.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// savepointIndex returns the layer index for a savepoint name, or -1.
// Caller must hold d.mu.
func (d *Driver) savepointIndex(name string) int {
	for i, l := range d.layers {
		if l.savepoint == name {
			return i
		}
	}
	return -1
}

// put writes through the top layer inside a transaction, or straight to
// the store in autocommit mode. Caller must hold d.mu.
func (d *Driver) put(key, value string) {
	if d.inTx {
		top := d.layers[len(d.layers)-1]
		top.writes[key] = value
		delete(top.deletes, key)
		return
	}
	d.store.mu.Lock()
	d.store.rows[key] = value
	d.store.mu.Unlock()
}

// del deletes through the top layer inside a transaction, or straight from
// the store in autocommit mode. Caller must hold d.mu.
func (d *Driver) del(key string) {
	if d.inTx {
		top := d.layers[len(d.layers)-1]
		delete(top.writes, key)
		top.deletes[key] = true
		return
	}
	d.store.mu.Lock()
	delete(d.store.rows, key)
	d.store.mu.Unlock()
}

// get reads through the layers from top to bottom, falling back to the
// committed store. Caller must hold d.mu.
func (d *Driver) get(key string) (string, bool) {
	for i := len(d.layers) - 1; i >= 0; i-- {
		if d.layers[i].deletes[key] {
			return "", false
		}
		if v, ok := d.layers[i].writes[key]; ok {
			return v, true
		}
	}
	return d.store.Committed(key)
}
