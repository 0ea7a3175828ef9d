package dom

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// Document wraps the element tree of one open document. Each open document
// owns its tree exclusively, there is no cross-document sharing.
type Document struct {
	tree *etree.Document
	body *etree.Element
}

// New creates an empty document with a single empty page.
func New() *Document {
	tree := etree.NewDocument()
	html := tree.CreateElement("html")
	body := html.CreateElement("body")
	page := body.CreateElement("div")
	page.CreateAttr("class", PageClass)
	return &Document{tree: tree, body: body}
}

// Load reads an HTML-shaped document. Input is treated permissively: old
// editors and OCR pipelines produce markup that does not properly follow the
// XML standard, so named HTML entities and legacy charsets are accepted.
func Load(r io.Reader) (*Document, error) {
	tree := etree.NewDocument()
	tree.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        xml.HTMLEntity,
		AutoClose:     xml.HTMLAutoClose,
		ValidateInput: false,
		Permissive:    true,
	}
	tree.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}
	if _, err := tree.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("unable to read document: %w", err)
	}

	root := tree.Root()
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}

	body := root
	if strings.EqualFold(root.Tag, "html") {
		if b := root.SelectElement("body"); b != nil {
			body = b
		}
	}
	return &Document{tree: tree, body: body}, nil
}

// Body returns the element that holds the page containers.
func (d *Document) Body() *etree.Element {
	return d.body
}

// FixedLayout reports whether page structure of this document is externally
// dictated (e.g. content imported with pre-fixed page boundaries). Such
// documents must never be auto-repaginated.
func (d *Document) FixedLayout() bool {
	return d.body.SelectAttrValue(FixedLayoutAttr, "") != "" ||
		(d.tree.Root() != nil && d.tree.Root().SelectAttrValue(FixedLayoutAttr, "") != "")
}

// Pages returns the page containers in document order.
func (d *Document) Pages() []*etree.Element {
	var pages []*etree.Element
	for _, el := range d.body.ChildElements() {
		if IsPage(el) {
			pages = append(pages, el)
		}
	}
	return pages
}

// PageCount returns the number of page containers.
func (d *Document) PageCount() int {
	return len(d.Pages())
}

// Blocks returns the flat ordered sequence of all blocks across all pages,
// page-break sentinels included. This is the document model the pagination
// engine consumes; page containers themselves carry no content identity.
func (d *Document) Blocks() []*etree.Element {
	var blocks []*etree.Element
	for _, page := range d.Pages() {
		for _, el := range page.ChildElements() {
			if IsBlock(el) {
				blocks = append(blocks, el)
			}
		}
	}
	return blocks
}

// BlockByID locates a block by its assigned id. Returns nil when the block no
// longer exists in the document.
func (d *Document) BlockByID(id string) *etree.Element {
	if id == "" {
		return nil
	}
	for _, block := range d.Blocks() {
		if ID(block) == id {
			return block
		}
	}
	return nil
}

// PageOf returns the 1-based page number holding the block, or 0 when the
// block is not placed on any page.
func (d *Document) PageOf(block *etree.Element) int {
	for i, page := range d.Pages() {
		for _, el := range page.ChildElements() {
			if el == block {
				return i + 1
			}
		}
	}
	return 0
}

// NewPage creates a detached page container. Only the pagination engine
// creates and destroys pages.
func (d *Document) NewPage() *etree.Element {
	page := etree.NewElement("div")
	page.CreateAttr("class", PageClass)
	return page
}

// ReplacePages swaps the current page containers for the supplied set in one
// batch, preserving everything else under the body (scripts, chrome). Page
// numbers are assigned 1..N in final order.
func (d *Document) ReplacePages(pages []*etree.Element) {
	insertAt := len(d.body.Child)
	for _, old := range d.Pages() {
		if idx := old.Index(); idx >= 0 && idx < insertAt {
			insertAt = idx
		}
		d.body.RemoveChild(old)
	}
	for i, page := range pages {
		page.RemoveAttr(PageNumberAttr)
		page.CreateAttr(PageNumberAttr, fmt.Sprintf("%d", i+1))
		d.body.InsertChildAt(insertAt+i, page)
	}
}

// MarkerByID locates a caret marker element anywhere in the document.
func (d *Document) MarkerByID(id string) *etree.Element {
	if id == "" {
		return nil
	}
	return findMarker(d.body, id)
}

func findMarker(el *etree.Element, id string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.SelectAttrValue(MarkerAttr, "") == id {
			return child
		}
		if found := findMarker(child, id); found != nil {
			return found
		}
	}
	return nil
}

// BlockOf walks up from a node to the enclosing block element, or nil when
// the node is outside any block (e.g. page chrome).
func (d *Document) BlockOf(el *etree.Element) *etree.Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if IsBlock(cur) {
			return cur
		}
		if IsPage(cur) || cur == d.body {
			return nil
		}
	}
	return nil
}

// PlainText flattens the text of all non-sentinel blocks in page order. Used
// for the search column of the document store.
func (d *Document) PlainText() string {
	var parts []string
	for _, block := range d.Blocks() {
		if IsPageBreak(block) {
			continue
		}
		if text := strings.TrimSpace(Text(block)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// Title returns the document title: the <title> element if present, otherwise
// the text of the first heading block, otherwise empty.
func (d *Document) Title() string {
	if root := d.tree.Root(); root != nil {
		if head := root.SelectElement("head"); head != nil {
			if title := head.SelectElement("title"); title != nil {
				if t := strings.TrimSpace(title.Text()); t != "" {
					return t
				}
			}
		}
	}
	for _, block := range d.Blocks() {
		switch strings.ToLower(block.Tag) {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			return strings.TrimSpace(Text(block))
		}
	}
	return ""
}

// WriteTo serializes the document.
func (d *Document) WriteTo(w io.Writer) error {
	d.tree.Indent(2)
	if _, err := d.tree.WriteTo(w); err != nil {
		return fmt.Errorf("unable to write document: %w", err)
	}
	return nil
}

// String serializes the document for debugging.
func (d *Document) String() string {
	var sb strings.Builder
	_ = d.WriteTo(&sb)
	return sb.String()
}
