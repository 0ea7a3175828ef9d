// Package reflow decides when the pagination engine runs. Reflows are
// debounced per trigger reason, rate-limited for typing, guarded against
// reentrancy and suppressed entirely for fixed-layout documents, so an
// actively typing user is never visibly disturbed by a structural rewrite.
package reflow

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"repage/dom"
	"repage/paginate"
	"repage/selection"
)

// Default debounce delays per trigger. A reason's delay reflects how
// disruptive interrupting the user would be: typing keeps resetting a short
// timer, paste and delete settle a bit longer, a manual break is an explicit
// discrete action and reflows almost immediately.
var defaultDelays = map[Trigger]time.Duration{
	TriggerTyping:          300 * time.Millisecond,
	TriggerEnter:           150 * time.Millisecond,
	TriggerPaste:           500 * time.Millisecond,
	TriggerDelete:          500 * time.Millisecond,
	TriggerManualPageBreak: 50 * time.Millisecond,
	TriggerImport:          200 * time.Millisecond,
	TriggerUndoRedo:        300 * time.Millisecond,
	TriggerObjectResized:   400 * time.Millisecond,
}

// DefaultTypingInterval is the minimum time between completed passes for the
// typing trigger. Keeps pagination from running on every keystroke during
// fast typing; all other triggers are only debounced, never rate-limited.
const DefaultTypingInterval = 2 * time.Second

// Reflower owns the reflow state of one open document. Each document gets its
// own Reflower, there is no shared mutable state between documents.
//
// A fired pass runs on a timer goroutine and rewrites the tree, so every
// access to the document is serialized behind docMu: passes, marker
// placement, and the embedding surface's own reads and edits (through
// WithDocument).
type Reflower struct {
	doc     *dom.Document
	engine  *paginate.Engine
	tracker *selection.Tracker
	log     *zap.Logger

	delays         map[Trigger]time.Duration
	typingInterval time.Duration
	now            func() time.Time

	epoch Epoch

	// docMu serializes all access to the document tree. Always acquired
	// before mu when both are needed.
	docMu sync.Mutex

	mu            sync.Mutex
	timer         *time.Timer
	pendingMarker string
	orphanMarkers []string
	inFlight      bool
	lastPass      time.Time
}

type Option func(*Reflower)

// WithDelay overrides the debounce delay for one trigger.
func WithDelay(trigger Trigger, d time.Duration) Option {
	return func(r *Reflower) { r.delays[trigger] = d }
}

// WithTypingInterval overrides the typing rate-limit interval.
func WithTypingInterval(d time.Duration) Option {
	return func(r *Reflower) { r.typingInterval = d }
}

// withClock substitutes the time source, tests only.
func withClock(now func() time.Time) Option {
	return func(r *Reflower) { r.now = now }
}

func New(doc *dom.Document, engine *paginate.Engine, tracker *selection.Tracker, log *zap.Logger, opts ...Option) *Reflower {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reflower{
		doc:            doc,
		engine:         engine,
		tracker:        tracker,
		log:            log.Named("reflow"),
		delays:         make(map[Trigger]time.Duration, len(defaultDelays)),
		typingInterval: DefaultTypingInterval,
		now:            time.Now,
	}
	for t, d := range defaultDelays {
		r.delays[t] = d
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events is the editor notification stream the scheduler consumes. The
// editing surface implements it and invokes the registered callbacks for
// every edit and live selection change.
type Events interface {
	SubscribeEdits(func(Trigger))
	SubscribeSelection(func())
}

// Subscribe attaches the scheduler to an editor event stream.
func (r *Reflower) Subscribe(ev Events) {
	ev.SubscribeEdits(r.OnEdit)
	ev.SubscribeSelection(r.OnSelectionChanged)
}

// OnEdit is the edit-event callback the editing surface subscribes the
// scheduler with. It debounces a reflow with the trigger's default delay.
func (r *Reflower) OnEdit(trigger Trigger) {
	r.Schedule(trigger, r.delays[trigger])
}

// OnSelectionChanged must be called on every detected live selection change.
func (r *Reflower) OnSelectionChanged() {
	r.epoch.Bump()
}

// WithDocument runs fn with exclusive access to the document. The editing
// surface must route its reads and edits through here, otherwise they race
// with a pass fired from a debounce timer. fn must not call back into the
// scheduler's document-touching entry points.
func (r *Reflower) WithDocument(fn func(*dom.Document)) {
	r.docMu.Lock()
	defer r.docMu.Unlock()
	fn(r.doc)
}

// Schedule arms a debounced reflow: a new call cancels any pending un-fired
// timer and starts a new one. For discrete triggers a caret marker is placed
// now, at the still-valid caret, and rides along to the eventual pass.
func (r *Reflower) Schedule(trigger Trigger, delay time.Duration) {
	r.docMu.Lock()
	defer r.docMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.pendingMarker != "" {
		r.tracker.DiscardMarker(r.doc, r.pendingMarker)
		r.pendingMarker = ""
	}

	marker := ""
	if trigger.Discrete() {
		marker = r.tracker.PlaceMarker()
	}
	r.pendingMarker = marker

	r.timer = time.AfterFunc(delay, func() {
		r.RunNow(trigger, marker)
	})
	r.log.Debug("Reflow scheduled", zap.Stringer("trigger", trigger), zap.Duration("delay", delay))
}

// RunNow performs one pagination pass, guarded by reentrancy, the typing rate
// limit and fixed-layout suppression. The whole pass runs under the document
// lock. All engine failures are swallowed here; nothing propagates past this
// boundary.
func (r *Reflower) RunNow(trigger Trigger, markerID string) {
	r.mu.Lock()
	if r.inFlight {
		// cannot touch the document here, the in-flight pass owns it;
		// the marker is removed when that pass finishes
		if markerID != "" {
			r.orphanMarkers = append(r.orphanMarkers, markerID)
			if markerID == r.pendingMarker {
				r.pendingMarker = ""
			}
		}
		r.mu.Unlock()
		r.log.Debug("Pass already in progress, skipping", zap.Stringer("trigger", trigger))
		return
	}
	r.inFlight = true
	if markerID != "" && markerID == r.pendingMarker {
		r.pendingMarker = ""
	}
	r.mu.Unlock()

	r.docMu.Lock()
	defer r.docMu.Unlock()

	if r.doc.FixedLayout() {
		r.log.Debug("Fixed-layout document, reflow suppressed", zap.Stringer("trigger", trigger))
		r.discardMarker(markerID)
		r.finish(false)
		return
	}

	r.mu.Lock()
	limited := trigger == TriggerTyping && r.now().Sub(r.lastPass) < r.typingInterval
	r.mu.Unlock()
	if limited {
		r.log.Debug("Typing reflow rate-limited")
		r.discardMarker(markerID)
		r.finish(false)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Pagination pass panicked",
				zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
		r.finish(true)
	}()

	epoch := r.epoch.Current()
	snap := r.tracker.Save(r.doc)

	caretID := ""
	if snap != nil {
		caretID = snap.BlockID
	}
	if _, err := r.engine.Run(r.doc, caretID); err != nil {
		// prior partition is untouched, the user keeps typing
		r.log.Error("Pagination pass failed", zap.Stringer("trigger", trigger), zap.Error(err))
		r.discardMarker(markerID)
		return
	}

	if !r.epoch.IsCurrent(epoch) {
		// user moved the caret while we were reflowing, restoring would be wrong
		r.log.Debug("Selection changed during pass, skipping caret restore")
		r.discardMarker(markerID)
		return
	}
	r.tracker.Restore(r.doc, selection.Strategy{Marker: markerID, Snapshot: snap})
}

// finish releases the pass slot and removes markers orphaned by overlapping
// skipped calls. completed marks an actual pass for the typing rate limit.
// Callers must hold docMu.
func (r *Reflower) finish(completed bool) {
	r.mu.Lock()
	orphans := r.orphanMarkers
	r.orphanMarkers = nil
	r.inFlight = false
	if completed {
		r.lastPass = r.now()
	}
	r.mu.Unlock()
	for _, id := range orphans {
		r.tracker.DiscardMarker(r.doc, id)
	}
}

// InsertPageBreak inserts a page-break sentinel after the caret block and
// schedules a short-delay reflow.
func (r *Reflower) InsertPageBreak() error {
	r.docMu.Lock()
	block := r.tracker.CaretBlock(r.doc)
	if block == nil {
		r.docMu.Unlock()
		return fmt.Errorf("no caret inside a block")
	}
	parent := block.Parent()
	if parent == nil {
		r.docMu.Unlock()
		return fmt.Errorf("caret block is detached")
	}
	parent.InsertChildAt(block.Index()+1, dom.NewPageBreak())
	r.docMu.Unlock()

	r.OnEdit(TriggerManualPageBreak)
	return nil
}

// Close cancels a pending reflow. An in-flight pass always finishes, only a
// not-yet-fired timer is cancelled.
func (r *Reflower) Close() {
	r.docMu.Lock()
	defer r.docMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.pendingMarker != "" {
		r.tracker.DiscardMarker(r.doc, r.pendingMarker)
		r.pendingMarker = ""
	}
}

func (r *Reflower) discardMarker(id string) {
	if id != "" {
		r.tracker.DiscardMarker(r.doc, id)
	}
}
