package selection

import (
	"github.com/beevik/etree"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repage/dom"
)

// PlaceMarker inserts a zero-width invisible marker at the caret and returns
// its id. Marker-based restore survives block restructuring exactly, but
// inserting a node on every keystroke would itself disturb the caret, so this
// is reserved for discrete events (enter, paste, manual page break).
// Returns empty id when the caret position does not accept a marker.
func (t *Tracker) PlaceMarker() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	marker := dom.NewMarker(id.String())
	if err := t.surface.InsertAtCaret(marker); err != nil {
		t.log.Debug("Unable to place caret marker", zap.Error(err))
		return ""
	}
	return id.String()
}

// restoreMarker repositions the caret to the marker location and removes the
// marker. Returns false when the marker cannot be found, letting the caller
// fall back to the offset snapshot.
func (t *Tracker) restoreMarker(doc *dom.Document, id string) bool {
	marker := doc.MarkerByID(id)
	if marker == nil {
		return false
	}
	parent := marker.Parent()
	if parent == nil {
		return false
	}
	offset := markerOffset(parent, marker)
	parent.RemoveChild(marker)
	if err := t.surface.SetCaret(parent, offset); err != nil {
		t.log.Debug("Unable to restore caret from marker", zap.String("marker", id), zap.Error(err))
		return false
	}
	return true
}

// DiscardMarker removes a marker that will not be used for a restore, e.g.
// when its pass was superseded before firing.
func (t *Tracker) DiscardMarker(doc *dom.Document, id string) {
	if marker := doc.MarkerByID(id); marker != nil {
		if parent := marker.Parent(); parent != nil {
			parent.RemoveChild(marker)
		}
	}
}

// markerOffset is the rune offset of the marker within its parent's text.
func markerOffset(parent *etree.Element, marker *etree.Element) int {
	return positionInElement(parent, marker, 0)
}
