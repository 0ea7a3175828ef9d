package paginate

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/beevik/etree"
	"go.uber.org/zap/zaptest"

	"repage/dom"
	"repage/measure"
)

func addBlock(t *testing.T, doc *dom.Document, id string, h float64) *etree.Element {
	t.Helper()
	pages := doc.Pages()
	page := pages[len(pages)-1]
	block := page.CreateElement("p")
	block.CreateAttr(dom.IDAttr, id)
	block.CreateAttr(measure.ExtentAttr, fmt.Sprintf("%g", h))
	block.CreateText("text of " + id)
	return block
}

func addPageBreak(t *testing.T, doc *dom.Document, id string) *etree.Element {
	t.Helper()
	pages := doc.Pages()
	page := pages[len(pages)-1]
	sentinel := dom.NewPageBreak()
	sentinel.RemoveAttr(dom.IDAttr)
	sentinel.CreateAttr(dom.IDAttr, id)
	page.AddChild(sentinel)
	return sentinel
}

// pageIDs flattens the current partition into block ids per page.
func pageIDs(doc *dom.Document) [][]string {
	var result [][]string
	for _, page := range doc.Pages() {
		var ids []string
		for _, el := range page.ChildElements() {
			if dom.IsBlock(el) {
				ids = append(ids, dom.ID(el))
			}
		}
		result = append(result, ids)
	}
	return result
}

func runEngine(t *testing.T, doc *dom.Document, oracle measure.Oracle) int {
	t.Helper()
	engine := New(oracle, zaptest.NewLogger(t))
	total, err := engine.Run(doc, "")
	if err != nil {
		t.Fatalf("pagination pass failed: %v", err)
	}
	return total
}

func TestEmptyDocumentKeepsOnePage(t *testing.T) {
	doc := dom.New()
	total := runEngine(t, doc, measure.NewScripted(500))
	if total != 1 {
		t.Fatalf("expected single empty page, got %d", total)
	}
	if got := doc.PageCount(); got != 1 {
		t.Fatalf("expected one page container, got %d", got)
	}
}

func TestBlocksSplitAtCapacity(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 300)
	addBlock(t, doc, "b", 300)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 2 {
		t.Fatalf("expected 2 pages, got %d", total)
	}
	want := [][]string{{"a"}, {"b"}}
	if got := pageIDs(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partition: got %v, want %v", got, want)
	}
}

func TestBlocksFillPageExactly(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 200)
	addBlock(t, doc, "b", 300)
	addBlock(t, doc, "c", 100)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 2 {
		t.Fatalf("expected 2 pages, got %d", total)
	}
	want := [][]string{{"a", "b"}, {"c"}}
	if got := pageIDs(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partition: got %v, want %v", got, want)
	}
}

func TestOversizedBlockAcceptedAlone(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 100)
	addBlock(t, doc, "big", 800)
	addBlock(t, doc, "b", 100)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 3 {
		t.Fatalf("expected 3 pages, got %d", total)
	}
	want := [][]string{{"a"}, {"big"}, {"b"}}
	if got := pageIDs(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partition: got %v, want %v", got, want)
	}
}

func TestOversizedBlockFirst(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "big", 800)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 1 {
		t.Fatalf("oversized block must be accepted on its own page, got %d pages", total)
	}
}

func TestManualPageBreakForcesBreak(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 100)
	addPageBreak(t, doc, "br")
	addBlock(t, doc, "b", 100)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 2 {
		t.Fatalf("expected 2 pages, got %d", total)
	}
	// the sentinel rides at the tail of the page it terminates
	want := [][]string{{"a", "br"}, {"b"}}
	if got := pageIDs(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partition: got %v, want %v", got, want)
	}
}

func TestManualPageBreakOnEmptyPageIgnored(t *testing.T) {
	doc := dom.New()
	addPageBreak(t, doc, "br")
	addBlock(t, doc, "a", 100)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 1 {
		t.Fatalf("sentinel with no preceding content must not force a break, got %d pages", total)
	}
}

func TestConsecutivePageBreaksCollapse(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 100)
	addPageBreak(t, doc, "br1")
	addPageBreak(t, doc, "br2")
	addBlock(t, doc, "b", 100)

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 2 {
		t.Fatalf("consecutive sentinels must force a single break, got %d pages", total)
	}
	want := [][]string{{"a", "br1", "br2"}, {"b"}}
	if got := pageIDs(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partition: got %v, want %v", got, want)
	}
}

func TestTrailingPageBreakLeavesNoEmptyPage(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 100)
	addPageBreak(t, doc, "br")

	if total := runEngine(t, doc, measure.NewScripted(500)); total != 1 {
		t.Fatalf("trailing sentinel must not produce an empty page, got %d pages", total)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 300)
	addBlock(t, doc, "b", 250)
	addPageBreak(t, doc, "br")
	addBlock(t, doc, "c", 100)
	addBlock(t, doc, "d", 450)

	oracle := measure.NewScripted(500)
	runEngine(t, doc, oracle)
	first := pageIDs(doc)
	runEngine(t, doc, oracle)
	second := pageIDs(doc)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("partition changed between passes: %v then %v", first, second)
	}
}

func TestBlockIdentitySurvivesPass(t *testing.T) {
	doc := dom.New()
	a := addBlock(t, doc, "a", 300)
	b := addBlock(t, doc, "b", 300)

	runEngine(t, doc, measure.NewScripted(500))

	if got := doc.BlockByID("a"); got != a {
		t.Error("block a lost its element identity")
	}
	if got := doc.BlockByID("b"); got != b {
		t.Error("block b lost its element identity")
	}
}

func TestCaretPageReported(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 300)
	addBlock(t, doc, "b", 300)
	addBlock(t, doc, "c", 300)

	var last Notification
	engine := New(measure.NewScripted(500), zaptest.NewLogger(t), WithNotifier(func(n Notification) {
		last = n
	}))
	if _, err := engine.Run(doc, "c"); err != nil {
		t.Fatalf("pagination pass failed: %v", err)
	}
	if last.TotalPages != 3 || last.CurrentPage != 3 {
		t.Fatalf("unexpected notification: %+v", last)
	}
}

// failingOracle reports capacity fine but fails block measurements, which
// exercises the plan-phase abort path.
type failingOracle struct {
	*measure.Scripted
	failID string
}

func (o *failingOracle) BlockExtent(block *etree.Element) (float64, error) {
	if dom.ID(block) == o.failID {
		return 0, errors.New("scripted measurement failure")
	}
	return o.Scripted.BlockExtent(block)
}

func TestMeasurementFailureLeavesPartitionUntouched(t *testing.T) {
	doc := dom.New()
	addBlock(t, doc, "a", 300)
	addBlock(t, doc, "b", 300)

	runEngine(t, doc, measure.NewScripted(500))
	before := pageIDs(doc)

	engine := New(&failingOracle{Scripted: measure.NewScripted(500), failID: "b"}, zaptest.NewLogger(t))
	if _, err := engine.Run(doc, ""); err == nil {
		t.Fatal("expected pagination pass to fail")
	}
	if got := pageIDs(doc); !reflect.DeepEqual(got, before) {
		t.Fatalf("failed pass modified partition: got %v, want %v", got, before)
	}
}

// pageOnlyOracle hides the per-block capability, forcing the engine onto the
// whole-page re-measure path.
type pageOnlyOracle struct {
	inner *measure.Scripted
}

func (o *pageOnlyOracle) Capacity(page *etree.Element) (float64, error) {
	return o.inner.Capacity(page)
}

func (o *pageOnlyOracle) ContentExtent(page *etree.Element) (float64, error) {
	return o.inner.ContentExtent(page)
}

func TestPageLevelOracleMatchesBlockLevel(t *testing.T) {
	build := func() *dom.Document {
		doc := dom.New()
		addBlock(t, doc, "a", 300)
		addBlock(t, doc, "b", 250)
		addPageBreak(t, doc, "br")
		addBlock(t, doc, "c", 100)
		addBlock(t, doc, "d", 450)
		addBlock(t, doc, "e", 800)
		return doc
	}

	incremental := build()
	runEngine(t, incremental, measure.NewScripted(500))

	pageLevel := build()
	runEngine(t, pageLevel, &pageOnlyOracle{inner: measure.NewScripted(500)})

	if got, want := pageIDs(pageLevel), pageIDs(incremental); !reflect.DeepEqual(got, want) {
		t.Fatalf("oracle capability changed the partition: got %v, want %v", got, want)
	}
}
