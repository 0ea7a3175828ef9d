package process

import (
	"repage/dom"
	"repage/utils/debug"
)

// documentOutline renders a page/block tree of the paginated document for the
// debug report. Block text is truncated, the outline is meant for eyeballing
// page boundaries, not for content inspection.
func documentOutline(doc *dom.Document) string {
	const maxText = 60

	tw := debug.NewTreeWriter()
	tw.Line(0, "document: %q, pages: %d", doc.Title(), doc.PageCount())

	for i, page := range doc.Pages() {
		tw.Line(1, "page %d", i+1)
		for _, child := range page.ChildElements() {
			if !dom.IsBlock(child) {
				continue
			}
			if dom.IsPageBreak(child) {
				tw.Line(2, "%s [%s] page break", child.Tag, dom.ID(child))
				continue
			}
			tw.Text(2, child.Tag+" ["+dom.ID(child)+"]", dom.Text(child), maxText)
		}
	}
	return tw.String()
}
