// Package pending implements request/response correlation for the Nanit
// camera protocol: every outbound request is assigned a monotonically
// increasing ID and tracked until a matching response arrives, a timeout
// elapses, or the table is drained on disconnect.
package pending

import (
	"fmt"
	"sync"

	"nanit/internal/proto"
)

// Result is what an Entry resolves to: either a Response, or an error if
// the request was cancelled (e.g. by CancelAll on disconnect).
type Result struct {
	Response *proto.Response
	Err      error
}

// Entry is a single tracked request awaiting its response.
type Entry struct {
	ID     uint32
	done   chan Result
	closed sync.Once
}

// Chan returns the channel the caller selects on to await resolution.
// It delivers exactly one Result and is then closed.
func (e *Entry) Chan() <-chan Result {
	return e.done
}

func (e *Entry) complete(r Result) {
	e.closed.Do(func() {
		e.done <- r
		close(e.done)
	})
}

// Table maps request IDs to single-shot awaiters and hands out strictly
// increasing IDs starting at 1.
type Table struct {
	mu      sync.Mutex
	counter uint32
	entries map[uint32]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// NextID returns the next unique request ID. IDs are strictly increasing
// and distinct for the lifetime of the Table.
func (t *Table) NextID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	return t.counter
}

// Track registers request id and returns an Entry to await. It returns an
// error if id is already tracked.
func (t *Table) Track(id uint32) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("pending: request %d is already tracked", id)
	}
	e := &Entry{ID: id, done: make(chan Result, 1)}
	t.entries[id] = e
	return e, nil
}

// Resolve completes the awaiter for id with response and removes it from
// the table. It returns false if id was not tracked (or had already been
// resolved/cleaned up), in which case it is a no-op.
func (t *Table) Resolve(id uint32, response *proto.Response) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.complete(Result{Response: response})
	return true
}

// Forget removes id from the table without resolving anything, used to
// clean up an entry whose awaiter already gave up via an external
// timeout, so it doesn't leak in the map forever.
func (t *Table) Forget(id uint32) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// CancelAll completes every tracked awaiter with err and clears the
// table. Called on disconnect. A nil err still completes every awaiter,
// just with a zero Result (the Go analogue of "cancelled, no error").
func (t *Table) CancelAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]*Entry)
	t.mu.Unlock()

	for _, e := range entries {
		e.complete(Result{Err: err})
	}
}

// PendingCount returns the number of in-flight requests.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
