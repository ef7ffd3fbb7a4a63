package calicodb

import "github.com/andy-byers/calicodb/tree"

// Cursor is an ordered, bidirectional scan over a Database's keys,
// wrapping the tree package's internal cursor behind a Status-returning
// surface.
type Cursor struct {
	inner *tree.Cursor
}

// Valid reports whether the cursor is positioned on a key.
func (c *Cursor) Valid() bool { return c.inner.IsValid() }

// Status reports the error, if any, that invalidated the cursor.
func (c *Cursor) Status() Status { return fromError(c.inner.Status()) }

// SeekFirst positions the cursor at the smallest key.
func (c *Cursor) SeekFirst() { c.inner.SeekFirst() }

// SeekLast positions the cursor at the largest key.
func (c *Cursor) SeekLast() { c.inner.SeekLast() }

// Seek positions the cursor at key, or the smallest key greater than it.
func (c *Cursor) Seek(key []byte) { c.inner.Seek(key) }

// Next advances the cursor by one key.
func (c *Cursor) Next() { c.inner.Next() }

// Previous moves the cursor back by one key.
func (c *Cursor) Previous() { c.inner.Previous() }

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() []byte { return c.inner.Key() }

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() []byte { return c.inner.Value() }
