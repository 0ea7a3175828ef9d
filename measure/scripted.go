package measure

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"repage/dom"
)

// ExtentAttr carries a scripted block height in tests and fixtures.
const ExtentAttr = "data-h"

// Scripted is an oracle with fully prescribed answers: block extents come
// from an attribute on each block and the capacity is fixed. Used by tests
// and by fixture documents that carry their own measurements.
type Scripted struct {
	CapacityPx float64
	// Fail, when set, is returned from every measurement call. Lets tests
	// exercise the abort-on-measurement-failure path.
	Fail error
	// Calls counts measurement queries, for asserting measurement economy.
	Calls int
}

func NewScripted(capacity float64) *Scripted {
	return &Scripted{CapacityPx: capacity}
}

func (s *Scripted) Capacity(*etree.Element) (float64, error) {
	if s.Fail != nil {
		return 0, s.Fail
	}
	return s.CapacityPx, nil
}

func (s *Scripted) ContentExtent(page *etree.Element) (float64, error) {
	if s.Fail != nil {
		return 0, s.Fail
	}
	var total float64
	for _, el := range page.ChildElements() {
		if !dom.IsBlock(el) {
			continue
		}
		h, err := s.BlockExtent(el)
		if err != nil {
			return 0, err
		}
		total += h
	}
	return total, nil
}

func (s *Scripted) BlockExtent(block *etree.Element) (float64, error) {
	if s.Fail != nil {
		return 0, s.Fail
	}
	s.Calls++
	if dom.IsPageBreak(block) {
		return 0, nil
	}
	v := block.SelectAttrValue(ExtentAttr, "")
	if v == "" {
		return 0, nil
	}
	h, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid scripted extent %q: %w", v, err)
	}
	return h, nil
}
