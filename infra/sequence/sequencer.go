package sequence

import "sync/atomic"

// Counter hands out global positions. Positions start at 0 and are never
// reused. Reserve/Commit are called by a single writer; Head may be read
// from any goroutine.
type Counter struct {
	next atomic.Uint64
}

// New creates a counter whose next position is start.
// On fresh start → start = 0
// On replay → start = last replayed position + 1
func New(start uint64) *Counter {
	c := &Counter{}
	c.next.Store(start)
	return c
}

// Next returns the next position to be issued without consuming it.
func (c *Counter) Next() uint64 {
	return c.next.Load()
}

// Commit consumes n positions.
func (c *Counter) Commit(n uint64) {
	c.next.Add(n)
}

// Head returns the last issued position, and false if none was issued.
func (c *Counter) Head() (uint64, bool) {
	n := c.next.Load()
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// Reset sets the next position.
// This is ONLY used after WAL replay.
func (c *Counter) Reset(next uint64) {
	c.next.Store(next)
}
