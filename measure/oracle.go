// Package measure defines the measurement oracle contract used by the
// pagination engine and provides a deterministic estimator implementation for
// environments without a live rendering surface.
package measure

import (
	"fmt"
	"math"

	"github.com/beevik/etree"
)

// Oracle reports rendered dimensions of page containers. Both calls are
// synchronous reads of already-rendered state.
type Oracle interface {
	// ContentExtent returns the rendered height of the page's current content.
	ContentExtent(page *etree.Element) (float64, error)
	// Capacity returns the usable height of the page container.
	Capacity(page *etree.Element) (float64, error)
}

// BlockOracle is an optional refinement: oracles that can measure a single
// block let the engine accumulate extents incrementally instead of
// re-measuring the whole page after every append.
type BlockOracle interface {
	Oracle
	// BlockExtent returns the rendered height of one block, margins included.
	BlockExtent(block *etree.Element) (float64, error)
}

// CheckExtent validates an oracle result. The engine aborts the in-progress
// pass on any invalid value so a misbehaving oracle can never corrupt the
// document.
func CheckExtent(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("oracle returned non-finite extent %v", v)
	}
	if v < 0 {
		return fmt.Errorf("oracle returned negative extent %v", v)
	}
	return nil
}
