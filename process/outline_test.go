package process

import (
	"strings"
	"testing"

	"repage/dom"
)

func TestDocumentOutline(t *testing.T) {
	doc, err := dom.Load(strings.NewReader(`<html><head><title>Sample</title></head><body>
<div class="page"><h1 data-block-id="t">Heading</h1><div class="page-break" data-block-id="br"></div></div>
<div class="page"><p data-block-id="a">` + strings.Repeat("long text ", 20) + `</p></div>
</body></html>`))
	if err != nil {
		t.Fatal(err)
	}

	got := documentOutline(doc)
	if !strings.Contains(got, `document: "Sample", pages: 2`) {
		t.Errorf("missing document header in %q", got)
	}
	if !strings.Contains(got, "page 1\n") || !strings.Contains(got, "page 2\n") {
		t.Errorf("missing page lines in %q", got)
	}
	if !strings.Contains(got, `h1 [t]: "Heading"`) {
		t.Errorf("missing block line in %q", got)
	}
	if !strings.Contains(got, "div [br] page break") {
		t.Errorf("missing page break line in %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Errorf("long block text was not truncated in %q", got)
	}
}
