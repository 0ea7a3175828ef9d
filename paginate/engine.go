// Package paginate implements the layout pass that partitions the flat block
// sequence of a document into fixed-capacity pages.
package paginate

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"repage/dom"
	"repage/measure"
)

// Notification is sent to the chrome after every completed pass so it can
// render a "Page X of Y" indicator.
type Notification struct {
	CurrentPage int
	TotalPages  int
}

type Notifier func(Notification)

// Engine runs pagination passes. It is the only component that creates and
// destroys page containers; blocks keep their identity and are merely moved
// between containers.
type Engine struct {
	oracle measure.Oracle
	notify Notifier
	log    *zap.Logger
}

type Option func(*Engine)

// WithNotifier registers the page-count-changed listener.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

func New(oracle measure.Oracle, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{oracle: oracle, log: log.Named("paginate")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one pagination pass over the document. The pass is two-phase:
// the partition is first planned against read-only measurements, then applied
// as one batch of container reassignments. On any measurement failure the
// plan is discarded before anything is touched, so the prior partition always
// survives a misbehaving oracle.
//
// caretBlockID, when known, selects the CurrentPage reported to the chrome.
//
// Run is deterministic and idempotent: repeating it without intervening edits
// reproduces the same partition.
func (e *Engine) Run(doc *dom.Document, caretBlockID string) (int, error) {
	start := time.Now()

	pages := doc.Pages()
	if len(pages) == 0 {
		return 0, fmt.Errorf("document has no page container")
	}

	capacity, err := e.oracle.Capacity(pages[0])
	if err != nil {
		return 0, fmt.Errorf("unable to query page capacity: %w", err)
	}
	if err := measure.CheckExtent(capacity); err != nil {
		return 0, fmt.Errorf("unable to query page capacity: %w", err)
	}

	blocks := doc.Blocks()
	plan, err := e.plan(blocks, capacity)
	if err != nil {
		return 0, fmt.Errorf("pagination pass aborted: %w", err)
	}

	e.apply(doc, plan)

	total := len(plan)
	current := 1
	if block := doc.BlockByID(caretBlockID); block != nil {
		if p := doc.PageOf(block); p > 0 {
			current = p
		}
	}
	if e.notify != nil {
		e.notify(Notification{CurrentPage: current, TotalPages: total})
	}

	e.log.Debug("Pagination pass completed",
		zap.Int("blocks", len(blocks)),
		zap.Int("pages", total),
		zap.Float64("capacity", capacity),
		zap.Duration("elapsed", time.Since(start)))
	return total, nil
}

// pagePlan is one planned page: the blocks to place on it in order. Sentinels
// end up at the tail of the page whose break they forced.
type pagePlan struct {
	blocks  []*etree.Element
	content int // non-sentinel blocks
}

// plan computes the desired partition without touching the tree.
func (e *Engine) plan(blocks []*etree.Element, capacity float64) ([]pagePlan, error) {
	meter, err := e.newMeter(capacity)
	if err != nil {
		return nil, err
	}

	var (
		pages        []pagePlan
		cur          pagePlan
		pendingBreak bool
	)

	flush := func() {
		pages = append(pages, cur)
		cur = pagePlan{}
		meter.reset()
	}

	for _, block := range blocks {
		if dom.IsPageBreak(block) {
			// the sentinel stays on the page it terminates; it only forces a
			// break when that page actually holds content, so an empty page
			// is never force-started twice in a row
			cur.blocks = append(cur.blocks, block)
			if cur.content > 0 {
				pendingBreak = true
			}
			continue
		}

		if pendingBreak {
			flush()
			pendingBreak = false
		}

		overflow, err := meter.fits(block, cur.content)
		if err != nil {
			return nil, err
		}
		if overflow && cur.content > 0 {
			flush()
			if _, err := meter.fits(block, 0); err != nil {
				return nil, err
			}
		}
		// an oversized block alone on its page is accepted as-is, blocks are
		// atomic and never split
		cur.blocks = append(cur.blocks, block)
		cur.content++
	}

	// drop a trailing empty page unless it is the only one
	if len(cur.blocks) > 0 || len(pages) == 0 {
		pages = append(pages, cur)
	}
	return pages, nil
}

// apply rebuilds the page containers in one batch. Block elements are moved,
// not copied, so their identity and ids survive the rewrite.
func (e *Engine) apply(doc *dom.Document, plan []pagePlan) {
	newPages := make([]*etree.Element, 0, len(plan))
	for _, p := range plan {
		page := doc.NewPage()
		for _, block := range p.blocks {
			page.AddChild(block)
		}
		newPages = append(newPages, page)
	}
	doc.ReplacePages(newPages)
}

// meter tracks how much of the current planned page is used. With a
// BlockOracle extents accumulate incrementally; otherwise the whole scratch
// page is re-measured after every append, matching the oracle contract at
// O(n^2) cost.
type meter interface {
	// fits appends the block to the running page and reports whether that
	// overflowed capacity. existing is the number of blocks already planned
	// for the page.
	fits(block *etree.Element, existing int) (bool, error)
	reset()
}

func (e *Engine) newMeter(capacity float64) (meter, error) {
	if bo, ok := e.oracle.(measure.BlockOracle); ok {
		return &incrementalMeter{oracle: bo, capacity: capacity}, nil
	}
	return newScratchMeter(e.oracle, capacity), nil
}

type incrementalMeter struct {
	oracle   measure.BlockOracle
	capacity float64
	used     float64
}

func (m *incrementalMeter) fits(block *etree.Element, existing int) (bool, error) {
	h, err := m.oracle.BlockExtent(block)
	if err != nil {
		return false, fmt.Errorf("unable to measure block %s: %w", dom.ID(block), err)
	}
	if err := measure.CheckExtent(h); err != nil {
		return false, fmt.Errorf("unable to measure block %s: %w", dom.ID(block), err)
	}
	m.used += h
	overflow := m.used > m.capacity
	if overflow && existing > 0 {
		// caller will move the block to a fresh page
		m.used -= h
	}
	return overflow, nil
}

func (m *incrementalMeter) reset() { m.used = 0 }

// scratchMeter mirrors the planned page with deep copies on a detached
// scratch container, so planning stays read-only on the live tree.
type scratchMeter struct {
	oracle   measure.Oracle
	capacity float64
	scratch  *etree.Element
}

func newScratchMeter(oracle measure.Oracle, capacity float64) *scratchMeter {
	m := &scratchMeter{oracle: oracle, capacity: capacity}
	m.reset()
	return m
}

func (m *scratchMeter) fits(block *etree.Element, existing int) (bool, error) {
	copied := block.Copy()
	m.scratch.AddChild(copied)
	extent, err := m.oracle.ContentExtent(m.scratch)
	if err != nil {
		return false, fmt.Errorf("unable to measure page content: %w", err)
	}
	if err := measure.CheckExtent(extent); err != nil {
		return false, fmt.Errorf("unable to measure page content: %w", err)
	}
	overflow := extent > m.capacity
	if overflow && existing > 0 {
		m.scratch.RemoveChild(copied)
	}
	return overflow, nil
}

func (m *scratchMeter) reset() {
	m.scratch = etree.NewElement("div")
	m.scratch.CreateAttr("class", dom.PageClass)
}
