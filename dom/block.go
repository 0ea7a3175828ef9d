// Package dom models a paged document as a mutable element tree. Blocks are
// the only entities with durable identity; page containers are layout
// artifacts fully owned by the pagination engine and are rebuilt on every
// pass.
package dom

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Attribute and class names used to carry engine metadata on the tree.
const (
	IDAttr          = "data-block-id"
	MarkerAttr      = "data-caret-marker"
	PageNumberAttr  = "data-page-number"
	CapacityAttr    = "data-capacity"
	FixedLayoutAttr = "data-fixed-layout"

	PageClass      = "page"
	PageBreakClass = "page-break"
)

// blockTags lists element tags treated as atomic layout units. Anything else
// found directly inside a page container is inline content and gets wrapped
// into a paragraph during normalization.
var blockTags = map[string]bool{
	"p":          true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"ul":         true,
	"ol":         true,
	"table":      true,
	"img":        true,
	"figure":     true,
	"blockquote": true,
	"pre":        true,
}

// EnsureID assigns a fresh unique id to the element unless it already carries
// one. The id is stored as an attribute, so it travels with the element when
// the engine moves it between page containers. Returns the effective id.
func EnsureID(el *etree.Element) string {
	if id := el.SelectAttrValue(IDAttr, ""); id != "" {
		return id
	}
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does, fall back to v4
		id = uuid.New()
	}
	el.CreateAttr(IDAttr, id.String())
	return id.String()
}

// ID returns the block id or empty string when none was assigned yet.
func ID(el *etree.Element) string {
	return el.SelectAttrValue(IDAttr, "")
}

// IsBlock reports whether the element is an atomic layout unit, including the
// page-break sentinel.
func IsBlock(el *etree.Element) bool {
	if el == nil {
		return false
	}
	if IsPageBreak(el) {
		return true
	}
	return blockTags[strings.ToLower(el.Tag)]
}

// IsPageBreak reports whether the element is a manual page-break sentinel.
func IsPageBreak(el *etree.Element) bool {
	return el != nil && strings.ToLower(el.Tag) == "div" && hasClass(el, PageBreakClass)
}

// IsPage reports whether the element is a page container.
func IsPage(el *etree.Element) bool {
	return el != nil && strings.ToLower(el.Tag) == "div" && hasClass(el, PageClass)
}

// IsMarker reports whether the element is a temporary caret marker.
func IsMarker(el *etree.Element) bool {
	return el != nil && el.SelectAttrValue(MarkerAttr, "") != ""
}

// NewPageBreak creates a page-break sentinel block with an assigned id.
func NewPageBreak() *etree.Element {
	el := etree.NewElement("div")
	el.CreateAttr("class", PageBreakClass)
	EnsureID(el)
	return el
}

// NewMarker creates a zero-width invisible caret marker element. Markers are
// not blocks, carry no block id and must be removed right after the caret is
// repositioned.
func NewMarker(id string) *etree.Element {
	el := etree.NewElement("span")
	el.CreateAttr(MarkerAttr, id)
	el.CreateAttr("style", "display:none")
	return el
}

// Text returns the concatenated text content of the element, walking all
// text-bearing descendants in document order. Caret markers contribute
// nothing.
func Text(el *etree.Element) string {
	var sb strings.Builder
	collectText(el, &sb)
	return sb.String()
}

func collectText(el *etree.Element, sb *strings.Builder) {
	if IsMarker(el) {
		return
	}
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			collectText(t, sb)
		}
	}
}

// LastTextElement returns the deepest last text-bearing descendant of the
// element, or the element itself when no child holds text. Used as the
// fallback caret target when an exact offset cannot be resolved anymore.
func LastTextElement(el *etree.Element) *etree.Element {
	for i := len(el.Child) - 1; i >= 0; i-- {
		child, ok := el.Child[i].(*etree.Element)
		if !ok || IsMarker(child) {
			continue
		}
		if len(Text(child)) > 0 {
			return LastTextElement(child)
		}
	}
	return el
}

func hasClass(el *etree.Element, class string) bool {
	for _, c := range strings.Fields(el.SelectAttrValue("class", "")) {
		if c == class {
			return true
		}
	}
	return false
}
