// Package selection preserves the caret across pagination passes. The caret
// is expressed as a (block id, character offset) pair, independent of page
// boundaries, so it survives the wholesale page rewrites the engine performs.
package selection

import (
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"repage/dom"
)

// Surface is the caret capability of the external editing surface.
type Surface interface {
	// Focus returns the deepest element holding the caret and the caret's
	// rune offset within that element's text content. ok is false when no
	// meaningful caret exists.
	Focus() (el *etree.Element, offset int, ok bool)
	// SetCaret places the caret at the given rune offset within the
	// element's text content.
	SetCaret(el *etree.Element, offset int) error
	// InsertAtCaret inserts a node at the current caret position.
	InsertAtCaret(node *etree.Element) error
}

// Snapshot is a caret location valid for as long as the block still exists.
type Snapshot struct {
	BlockID string
	Offset  int
}

// Tracker saves and restores the caret around pagination passes.
type Tracker struct {
	surface Surface
	log     *zap.Logger
}

func NewTracker(surface Surface, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{surface: surface, log: log.Named("selection")}
}

// Save captures the current caret as a block-relative character offset.
// Returns nil when the caret is outside any block.
func (t *Tracker) Save(doc *dom.Document) *Snapshot {
	el, offset, ok := t.surface.Focus()
	if !ok || el == nil {
		return nil
	}
	block := doc.BlockOf(el)
	if block == nil {
		return nil
	}
	prefix, found := prefixTextLen(block, el)
	if !found {
		// focus element is not a descendant of its own block, should not
		// happen with a sane surface
		t.log.Warn("Focused element not found under its block", zap.String("block", dom.ID(block)))
		return nil
	}
	return &Snapshot{BlockID: dom.EnsureID(block), Offset: prefix + offset}
}

// CaretBlock returns the block currently holding the caret, or nil.
func (t *Tracker) CaretBlock(doc *dom.Document) *etree.Element {
	el, _, ok := t.surface.Focus()
	if !ok || el == nil {
		return nil
	}
	return doc.BlockOf(el)
}

// restoreOffset places the caret back at the snapshot position. The offset is
// clamped to the block's current text length; when the exact position cannot
// be resolved the caret lands at the end of the block's last text-bearing
// descendant; when the block itself is gone the restore is a silent no-op.
func (t *Tracker) restoreOffset(doc *dom.Document, snap *Snapshot) {
	if snap == nil {
		return
	}
	block := doc.BlockByID(snap.BlockID)
	if block == nil {
		t.log.Debug("Block gone, skipping caret restore", zap.String("block", snap.BlockID))
		return
	}

	offset := snap.Offset
	if total := utf8.RuneCountInString(dom.Text(block)); offset > total {
		offset = total
	}
	if offset < 0 {
		offset = 0
	}

	el, local, ok := resolveOffset(block, offset)
	if ok {
		if err := t.surface.SetCaret(el, local); err == nil {
			return
		}
	}

	// block was restructured, degrade to end of last text-bearing descendant
	last := dom.LastTextElement(block)
	if err := t.surface.SetCaret(last, utf8.RuneCountInString(ownText(last))); err != nil {
		t.log.Debug("Unable to restore caret", zap.String("block", snap.BlockID), zap.Error(err))
	}
}

// resolveOffset maps a block-relative rune offset to the descendant element
// holding that position and the offset local to it.
func resolveOffset(block *etree.Element, offset int) (*etree.Element, int, bool) {
	el, local, _ := descend(block, offset)
	if el == nil {
		return nil, 0, false
	}
	return el, local, true
}

// descend walks the element's tokens in document order looking for the
// element that owns the requested rune position. Returns remaining offset
// when the position lies past this element's text.
func descend(el *etree.Element, offset int) (*etree.Element, int, int) {
	consumed := 0
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			n := utf8.RuneCountInString(t.Data)
			if offset-consumed <= n {
				return el, positionInElement(el, tok, offset-consumed), 0
			}
			consumed += n
		case *etree.Element:
			if dom.IsMarker(t) {
				continue
			}
			found, local, rest := descend(t, offset-consumed)
			if found != nil {
				return found, local, 0
			}
			consumed += rest
		}
	}
	if offset <= consumed {
		return el, offset, 0
	}
	return nil, 0, consumed
}

// positionInElement converts an offset within one char-data token back to an
// offset within the element's whole text content.
func positionInElement(el *etree.Element, until etree.Token, local int) int {
	pos := 0
	for _, tok := range el.Child {
		if tok == until {
			return pos + local
		}
		switch t := tok.(type) {
		case *etree.CharData:
			pos += utf8.RuneCountInString(t.Data)
		case *etree.Element:
			if !dom.IsMarker(t) {
				pos += utf8.RuneCountInString(dom.Text(t))
			}
		}
	}
	return pos + local
}

// prefixTextLen counts text runes preceding the target element inside root.
func prefixTextLen(root, target *etree.Element) (int, bool) {
	if root == target {
		return 0, true
	}
	count := 0
	for _, tok := range root.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			count += utf8.RuneCountInString(t.Data)
		case *etree.Element:
			if dom.IsMarker(t) {
				continue
			}
			if t == target {
				return count, true
			}
			n, found := prefixTextLen(t, target)
			count += n
			if found {
				return count, true
			}
		}
	}
	return count, false
}

// ownText is the text directly held by the element, descendants included but
// markers skipped.
func ownText(el *etree.Element) string {
	var sb strings.Builder
	for _, tok := range el.Child {
		if t, ok := tok.(*etree.CharData); ok {
			sb.WriteString(t.Data)
		}
	}
	return sb.String()
}
