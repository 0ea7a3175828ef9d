package reflow

import "sync/atomic"

// Epoch invalidates stale caret restores. Every live selection change bumps
// the counter; a pagination pass records the value at its start and only
// applies its restore when the value is still current at completion.
// Without this, a debounced reflow finishing after the user clicked elsewhere
// would yank the caret back to the old position.
type Epoch struct {
	n atomic.Int64
}

// Bump records a selection change.
func (e *Epoch) Bump() {
	e.n.Add(1)
}

// Current returns the value to be checked at the end of a pass.
func (e *Epoch) Current() int64 {
	return e.n.Load()
}

// IsCurrent reports whether no selection change happened since the value was
// taken.
func (e *Epoch) IsCurrent(v int64) bool {
	return e.n.Load() == v
}
