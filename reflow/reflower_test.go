package reflow

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap/zaptest"

	"repage/dom"
	"repage/measure"
	"repage/paginate"
	"repage/selection"
)

type fakeSurface struct {
	focusEl     *etree.Element
	focusOffset int
	focusOK     bool
	setCalls    atomic.Int32
}

func (s *fakeSurface) Focus() (*etree.Element, int, bool) {
	return s.focusEl, s.focusOffset, s.focusOK
}

func (s *fakeSurface) SetCaret(el *etree.Element, offset int) error {
	s.setCalls.Add(1)
	return nil
}

func (s *fakeSurface) InsertAtCaret(node *etree.Element) error {
	if s.focusEl == nil {
		return fmt.Errorf("no caret")
	}
	s.focusEl.AddChild(node)
	return nil
}

func buildDoc(t *testing.T, heights ...float64) *dom.Document {
	t.Helper()
	doc := dom.New()
	page := doc.Pages()[0]
	for i, h := range heights {
		block := page.CreateElement("p")
		block.CreateAttr(dom.IDAttr, fmt.Sprintf("b%d", i))
		block.CreateAttr(measure.ExtentAttr, fmt.Sprintf("%g", h))
		block.CreateText(fmt.Sprintf("block %d", i))
	}
	return doc
}

type fixture struct {
	doc      *dom.Document
	surface  *fakeSurface
	reflower *Reflower
	passes   *atomic.Int32
}

func newFixture(t *testing.T, doc *dom.Document, opts ...Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	var passes atomic.Int32
	engine := paginate.New(measure.NewScripted(500), log, paginate.WithNotifier(func(paginate.Notification) {
		passes.Add(1)
	}))
	surface := &fakeSurface{}
	tracker := selection.NewTracker(surface, log)
	r := New(doc, engine, tracker, log, opts...)
	t.Cleanup(r.Close)
	return &fixture{doc: doc, surface: surface, reflower: r, passes: &passes}
}

func TestRunNowPaginates(t *testing.T) {
	f := newFixture(t, buildDoc(t, 300, 300))

	f.reflower.RunNow(TriggerImport, "")

	if got := f.doc.PageCount(); got != 2 {
		t.Fatalf("PageCount = %d, want 2", got)
	}
	if got := f.passes.Load(); got != 1 {
		t.Fatalf("passes = %d, want 1", got)
	}
}

func TestFixedLayoutSuppressesReflow(t *testing.T) {
	doc := buildDoc(t, 300, 300)
	doc.Body().CreateAttr(dom.FixedLayoutAttr, "true")
	f := newFixture(t, doc)

	f.reflower.RunNow(TriggerTyping, "")

	if got := f.doc.PageCount(); got != 1 {
		t.Fatalf("fixed-layout document was repaginated into %d pages", got)
	}
	if got := f.passes.Load(); got != 0 {
		t.Fatalf("passes = %d, want 0", got)
	}
}

func TestTypingRateLimited(t *testing.T) {
	now := time.Unix(1000, 0)
	f := newFixture(t, buildDoc(t, 100, 100), withClock(func() time.Time { return now }))

	f.reflower.RunNow(TriggerTyping, "")
	if got := f.passes.Load(); got != 1 {
		t.Fatalf("first typing pass must run, passes = %d", got)
	}

	f.reflower.RunNow(TriggerTyping, "")
	if got := f.passes.Load(); got != 1 {
		t.Fatalf("typing pass within interval must be skipped, passes = %d", got)
	}

	now = now.Add(DefaultTypingInterval + time.Second)
	f.reflower.RunNow(TriggerTyping, "")
	if got := f.passes.Load(); got != 2 {
		t.Fatalf("typing pass after interval must run, passes = %d", got)
	}
}

func TestDiscreteTriggersNotRateLimited(t *testing.T) {
	now := time.Unix(1000, 0)
	f := newFixture(t, buildDoc(t, 100, 100), withClock(func() time.Time { return now }))

	f.reflower.RunNow(TriggerTyping, "")
	f.reflower.RunNow(TriggerEnter, "")
	f.reflower.RunNow(TriggerPaste, "")

	if got := f.passes.Load(); got != 3 {
		t.Fatalf("discrete triggers must bypass the rate limit, passes = %d", got)
	}
}

func TestSelectionChangeDuringPassSkipsRestore(t *testing.T) {
	doc := buildDoc(t, 300, 300)
	log := zaptest.NewLogger(t)

	surface := &fakeSurface{focusEl: doc.BlockByID("b0"), focusOK: true}
	tracker := selection.NewTracker(surface, log)

	var r *Reflower
	engine := paginate.New(measure.NewScripted(500), log, paginate.WithNotifier(func(paginate.Notification) {
		// user moves the caret while the pass is still applying
		r.OnSelectionChanged()
	}))
	r = New(doc, engine, tracker, log)
	t.Cleanup(r.Close)

	r.RunNow(TriggerEnter, "")

	if got := surface.setCalls.Load(); got != 0 {
		t.Fatalf("stale caret restore must be skipped, SetCaret called %d times", got)
	}
}

func TestCaretRestoredAfterPass(t *testing.T) {
	doc := buildDoc(t, 300, 300)
	f := newFixture(t, doc)
	f.surface.focusEl = doc.BlockByID("b1")
	f.surface.focusOK = true

	f.reflower.RunNow(TriggerEnter, "")

	if got := f.surface.setCalls.Load(); got == 0 {
		t.Fatal("caret must be restored after an undisturbed pass")
	}
}

func TestScheduleDebounces(t *testing.T) {
	f := newFixture(t, buildDoc(t, 100, 100))

	f.reflower.Schedule(TriggerTyping, 60*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	f.reflower.Schedule(TriggerTyping, 60*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	f.reflower.Schedule(TriggerTyping, 60*time.Millisecond)

	time.Sleep(150 * time.Millisecond)

	if got := f.passes.Load(); got != 1 {
		t.Fatalf("rescheduling must supersede the pending pass, passes = %d", got)
	}
}

func TestCloseCancelsPendingReflow(t *testing.T) {
	f := newFixture(t, buildDoc(t, 100, 100))

	f.reflower.Schedule(TriggerPaste, 50*time.Millisecond)
	f.reflower.Close()

	time.Sleep(120 * time.Millisecond)

	if got := f.passes.Load(); got != 0 {
		t.Fatalf("closed scheduler must not run passes, got %d", got)
	}
}

func TestInsertPageBreak(t *testing.T) {
	doc := buildDoc(t, 100, 100)
	f := newFixture(t, doc, WithDelay(TriggerManualPageBreak, time.Millisecond))
	f.surface.focusEl = doc.BlockByID("b0")
	f.surface.focusOK = true

	if err := f.reflower.InsertPageBreak(); err != nil {
		t.Fatalf("InsertPageBreak failed: %v", err)
	}

	blocks := doc.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected sentinel to be inserted, got %d blocks", len(blocks))
	}
	if !dom.IsPageBreak(blocks[1]) {
		t.Fatal("sentinel must follow the caret block")
	}
}

func TestInsertPageBreakWithoutCaret(t *testing.T) {
	f := newFixture(t, buildDoc(t, 100))

	if err := f.reflower.InsertPageBreak(); err == nil {
		t.Fatal("expected error when caret is outside any block")
	}
}

// panicOracle simulates a measurement backend blowing up mid-pass.
type panicOracle struct{}

func (panicOracle) Capacity(*etree.Element) (float64, error) { panic("measurement backend gone") }
func (panicOracle) ContentExtent(*etree.Element) (float64, error) {
	panic("measurement backend gone")
}

func TestPassPanicIsContained(t *testing.T) {
	doc := buildDoc(t, 100, 100)
	log := zaptest.NewLogger(t)
	engine := paginate.New(panicOracle{}, log)
	tracker := selection.NewTracker(&fakeSurface{}, log)
	r := New(doc, engine, tracker, log)
	t.Cleanup(r.Close)

	r.RunNow(TriggerImport, "")

	if got := doc.PageCount(); got != 1 {
		t.Fatalf("partition must survive a panicking pass, got %d pages", got)
	}
}

func TestScheduledPassDoesNotRaceWithDocumentAccess(t *testing.T) {
	f := newFixture(t, buildDoc(t, 300, 300))

	f.reflower.Schedule(TriggerPaste, time.Millisecond)

	// keep reading the tree the way an editing surface would while the
	// timer-fired pass rewrites it; the race detector flags any overlap
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		f.reflower.WithDocument(func(doc *dom.Document) {
			for _, b := range doc.Blocks() {
				_ = dom.ID(b)
			}
		})
		if f.passes.Load() > 0 {
			break
		}
	}

	if f.passes.Load() == 0 {
		t.Fatal("scheduled pass never ran")
	}
	f.reflower.WithDocument(func(doc *dom.Document) {
		if got := doc.PageCount(); got != 2 {
			t.Fatalf("PageCount = %d, want 2", got)
		}
	})
}

func TestRateLimitedSkipDiscardsMarker(t *testing.T) {
	now := time.Unix(1000, 0)
	doc := buildDoc(t, 100, 100)
	f := newFixture(t, doc, withClock(func() time.Time { return now }))

	f.reflower.RunNow(TriggerTyping, "")
	if got := f.passes.Load(); got != 1 {
		t.Fatalf("first typing pass must run, passes = %d", got)
	}

	f.surface.focusEl = doc.BlockByID("b0")
	f.surface.focusOK = true
	id := f.reflower.tracker.PlaceMarker()
	if id == "" {
		t.Fatal("unable to place marker")
	}

	f.reflower.RunNow(TriggerTyping, id)

	if got := f.passes.Load(); got != 1 {
		t.Fatalf("typing pass within interval must be skipped, passes = %d", got)
	}
	if doc.MarkerByID(id) != nil {
		t.Fatal("marker must be removed when the pass is rate-limited away")
	}
}

func TestOverlappingRunDiscardsOrphanedMarker(t *testing.T) {
	doc := buildDoc(t, 300, 300)
	log := zaptest.NewLogger(t)

	surface := &fakeSurface{focusEl: doc.BlockByID("b0"), focusOK: true}
	tracker := selection.NewTracker(surface, log)
	id := tracker.PlaceMarker()
	if id == "" {
		t.Fatal("unable to place marker")
	}

	var r *Reflower
	fired := false
	engine := paginate.New(measure.NewScripted(500), log, paginate.WithNotifier(func(paginate.Notification) {
		// a second trigger lands while this pass still owns the document
		if !fired {
			fired = true
			r.RunNow(TriggerEnter, id)
		}
	}))
	r = New(doc, engine, tracker, log)
	t.Cleanup(r.Close)

	r.RunNow(TriggerImport, "")

	if !fired {
		t.Fatal("overlapping call never happened")
	}
	if doc.MarkerByID(id) != nil {
		t.Fatal("marker orphaned by the skipped call must be removed when the pass finishes")
	}
}

// fakeEvents records the callbacks a subscriber registers and lets the test
// fire them like an editing surface would.
type fakeEvents struct {
	edit      func(Trigger)
	selection func()
}

func (e *fakeEvents) SubscribeEdits(fn func(Trigger)) { e.edit = fn }
func (e *fakeEvents) SubscribeSelection(fn func())    { e.selection = fn }

func TestSubscribeWiresEventStream(t *testing.T) {
	f := newFixture(t, buildDoc(t, 100), WithDelay(TriggerPaste, time.Millisecond))

	ev := &fakeEvents{}
	f.reflower.Subscribe(ev)
	if ev.edit == nil || ev.selection == nil {
		t.Fatal("Subscribe must register both callbacks")
	}

	before := f.reflower.epoch.Current()
	ev.selection()
	if f.reflower.epoch.Current() == before {
		t.Fatal("selection event must bump the epoch")
	}

	ev.edit(TriggerPaste)
	time.Sleep(100 * time.Millisecond)
	if got := f.passes.Load(); got != 1 {
		t.Fatalf("edit event must schedule a pass, got %d", got)
	}
}

func TestOnEditUsesConfiguredDelay(t *testing.T) {
	f := newFixture(t, buildDoc(t, 100), WithDelay(TriggerImport, 10*time.Millisecond))

	f.reflower.OnEdit(TriggerImport)
	time.Sleep(100 * time.Millisecond)

	if got := f.passes.Load(); got != 1 {
		t.Fatalf("expected exactly one pass, got %d", got)
	}
}
