package dom

import (
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// Normalize brings the tree into the well-formed shape the pagination engine
// expects: at least one page container exists, every piece of content lives
// inside a page, stray inline content is wrapped into paragraph blocks and
// every block carries an id. Unrecognized content is never rejected.
// Returns the number of nodes that had to be fixed up.
func Normalize(d *Document, log *zap.Logger) int {
	changed := 0

	if len(d.Pages()) == 0 {
		page := d.NewPage()
		d.body.AddChild(page)
		changed++
		log.Debug("Document had no pages, created one")
	}

	changed += adoptStrays(d, log)

	for _, page := range d.Pages() {
		changed += wrapInline(page, log)
	}

	for _, block := range d.Blocks() {
		if ID(block) == "" {
			EnsureID(block)
			changed++
		}
	}

	if changed > 0 {
		log.Debug("Document normalized", zap.Int("fixups", changed))
	}
	return changed
}

// adoptStrays moves content found directly under the body into a page.
// Content preceding the first page goes to its front, everything else is
// appended to the last page.
func adoptStrays(d *Document, log *zap.Logger) int {
	pages := d.Pages()
	first, last := pages[0], pages[len(pages)-1]

	changed := 0
	prepend := 0
	seenPage := false
	for _, tok := range snapshotChildren(d.body) {
		switch t := tok.(type) {
		case *etree.Element:
			if IsPage(t) {
				seenPage = true
				continue
			}
			if !IsBlock(t) && !isInline(t) {
				// head, script and similar chrome stays where it is
				continue
			}
		case *etree.CharData:
			if strings.TrimSpace(t.Data) == "" {
				continue
			}
		default:
			continue
		}

		changed++
		if !seenPage {
			first.InsertChildAt(prepend, tok)
			prepend++
		} else {
			last.AddChild(tok)
		}
		log.Debug("Adopted stray content into page")
	}
	return changed
}

// wrapInline wraps runs of inline content found directly under a page into
// paragraph blocks, in place.
func wrapInline(page *etree.Element, log *zap.Logger) int {
	changed := 0
	var para *etree.Element

	for _, tok := range snapshotChildren(page) {
		inline := false
		switch t := tok.(type) {
		case *etree.Element:
			if IsBlock(t) || IsMarker(t) {
				para = nil
				continue
			}
			inline = isInline(t)
		case *etree.CharData:
			inline = strings.TrimSpace(t.Data) != ""
		}
		if !inline {
			para = nil
			continue
		}

		if para == nil {
			para = etree.NewElement("p")
			page.InsertChildAt(tok.Index(), para)
			EnsureID(para)
			changed++
			log.Debug("Wrapping stray inline content into paragraph")
		}
		para.AddChild(tok)
	}
	return changed
}

// isInline reports whether the element is inline content that needs a
// paragraph wrapper when found outside a block. Everything that is neither a
// block nor a page qualifies, the model has no third category.
func isInline(el *etree.Element) bool {
	return !IsBlock(el) && !IsPage(el)
}

func snapshotChildren(el *etree.Element) []etree.Token {
	return append([]etree.Token(nil), el.Child...)
}
