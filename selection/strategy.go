package selection

import "repage/dom"

// Strategy selects how the caret is restored after a pass. The two variants
// compete: marker-based restore is exact across restructuring but cannot be
// used while the user is typing, offset-based restore works always but is
// approximate after restructuring. The caller picks per trigger reason; a
// supplied marker is always tried first with the snapshot as fallback.
type Strategy struct {
	Marker   string
	Snapshot *Snapshot
}

// Offset builds an offset-only strategy.
func Offset(snap *Snapshot) Strategy {
	return Strategy{Snapshot: snap}
}

// Marker builds a marker-first strategy with an offset fallback.
func Marker(id string, snap *Snapshot) Strategy {
	return Strategy{Marker: id, Snapshot: snap}
}

// Restore dispatches to the appropriate restore mechanism. It never fails:
// selection resolution problems degrade to best-effort placement or to a
// no-op, a layout glitch must never block the user from typing.
func (t *Tracker) Restore(doc *dom.Document, s Strategy) {
	if s.Marker != "" && t.restoreMarker(doc, s.Marker) {
		return
	}
	t.restoreOffset(doc, s.Snapshot)
}
