package measure

import (
	"bytes"
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/srwiley/oksvg"
	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"

	"repage/dom"
)

// Resolver loads the payload behind an image reference. The estimator handles
// data: URIs itself, everything else goes through the resolver.
type Resolver func(href string) ([]byte, error)

// EstimatorOptions control the deterministic layout model.
type EstimatorOptions struct {
	CapacityPx     float64 // usable page height when the container does not dictate one
	PageWidthPx    float64 // usable page width, images wider than this are scaled down
	LineHeightPx   float64 // height of one rendered text line
	CharsPerLine   int     // crude wrapping model for text blocks
	BlockSpacingPx float64 // vertical gap between adjacent blocks
	Resolve        Resolver
}

// Estimator is a deterministic measurement oracle. It estimates rendered
// extents from content alone: text by wrapped line count, tables by row
// count, images by intrinsic size, all corrected by inline CSS. Estimates are
// stable for a given tree, which makes pagination reproducible in tests and
// in the CLI where no real renderer exists.
type Estimator struct {
	opt EstimatorOptions
	log *zap.Logger
}

func NewEstimator(opt EstimatorOptions, log *zap.Logger) *Estimator {
	if opt.CapacityPx <= 0 {
		opt.CapacityPx = 1056 // letter page at 96dpi
	}
	if opt.PageWidthPx <= 0 {
		opt.PageWidthPx = 816
	}
	if opt.LineHeightPx <= 0 {
		opt.LineHeightPx = 24
	}
	if opt.CharsPerLine <= 0 {
		opt.CharsPerLine = 80
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{opt: opt, log: log.Named("measure")}
}

// Capacity returns the usable height of a page container. A page can dictate
// its own capacity through an attribute, otherwise the configured default
// applies.
func (e *Estimator) Capacity(page *etree.Element) (float64, error) {
	if v := page.SelectAttrValue(dom.CapacityAttr, ""); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err == nil && c > 0 {
			return c, nil
		}
		e.log.Warn("Ignoring invalid page capacity attribute", zap.String("value", v))
	}
	return e.opt.CapacityPx, nil
}

// ContentExtent sums the extents of all blocks currently on the page.
func (e *Estimator) ContentExtent(page *etree.Element) (float64, error) {
	var total float64
	for _, el := range page.ChildElements() {
		if !dom.IsBlock(el) {
			continue
		}
		h, err := e.BlockExtent(el)
		if err != nil {
			return 0, err
		}
		total += h
	}
	return total, nil
}

// BlockExtent estimates the rendered height of one block, margins included.
func (e *Estimator) BlockExtent(block *etree.Element) (float64, error) {
	if dom.IsPageBreak(block) {
		return 0, nil
	}

	style := parseInlineStyle(block.SelectAttrValue("style", ""))
	if style.height > 0 {
		return style.height + style.marginTop + style.marginBottom + e.opt.BlockSpacingPx, nil
	}

	var h float64
	switch strings.ToLower(block.Tag) {
	case "img":
		h = e.imageExtent(block)
	case "figure":
		h = e.figureExtent(block)
	case "table":
		h = e.tableExtent(block)
	case "ul", "ol":
		h = e.listExtent(block)
	default:
		h = e.textExtent(block, 1)
	}
	return h + style.marginTop + style.marginBottom + e.opt.BlockSpacingPx, nil
}

// textExtent models text height as wrapped line count times line height.
// Headings render larger, approximated with a scale factor per level.
func (e *Estimator) textExtent(block *etree.Element, minLines int) float64 {
	scale := 1.0
	switch strings.ToLower(block.Tag) {
	case "h1":
		scale = 2.0
	case "h2":
		scale = 1.6
	case "h3":
		scale = 1.3
	case "h4", "h5", "h6":
		scale = 1.15
	}

	runes := utf8.RuneCountInString(strings.TrimSpace(dom.Text(block)))
	perLine := int(float64(e.opt.CharsPerLine) / scale)
	if perLine < 1 {
		perLine = 1
	}
	lines := (runes + perLine - 1) / perLine
	if lines < minLines {
		lines = minLines
	}
	return float64(lines) * e.opt.LineHeightPx * scale
}

func (e *Estimator) listExtent(block *etree.Element) float64 {
	var h float64
	for _, li := range block.SelectElements("li") {
		h += e.textExtent(li, 1)
	}
	if h == 0 {
		h = e.opt.LineHeightPx
	}
	return h
}

func (e *Estimator) tableExtent(block *etree.Element) float64 {
	rows := len(block.FindElements(".//tr"))
	if rows == 0 {
		rows = 1
	}
	// a border adds a little on top of the row grid
	return float64(rows)*e.opt.LineHeightPx + 2
}

func (e *Estimator) figureExtent(block *etree.Element) float64 {
	var h float64
	for _, child := range block.ChildElements() {
		switch strings.ToLower(child.Tag) {
		case "img":
			h += e.imageExtent(child)
		case "figcaption":
			h += e.textExtent(child, 1)
		}
	}
	if h == 0 {
		h = e.opt.LineHeightPx
	}
	return h
}

// imageExtent determines intrinsic image size, preferring explicit
// width/height attributes, then the decoded payload. Images wider than the
// page are scaled down proportionally. Anything unresolvable gets a one-line
// placeholder height, a broken image must not break pagination.
func (e *Estimator) imageExtent(img *etree.Element) float64 {
	w := attrFloat(img, "width")
	h := attrFloat(img, "height")
	if h > 0 {
		return e.fitToPage(w, h)
	}

	src := img.SelectAttrValue("src", "")
	data, err := e.loadImage(src)
	if err != nil || len(data) == 0 {
		if src != "" {
			e.log.Debug("Unable to resolve image, using placeholder height", zap.String("src", truncate(src, 64)), zap.Error(err))
		}
		return e.opt.LineHeightPx
	}

	if iw, ih, ok := decodeImageSize(data); ok {
		return e.fitToPage(iw, ih)
	}
	e.log.Debug("Unable to decode image, using placeholder height", zap.String("src", truncate(src, 64)))
	return e.opt.LineHeightPx
}

func (e *Estimator) fitToPage(w, h float64) float64 {
	if w > e.opt.PageWidthPx && w > 0 {
		h = h * e.opt.PageWidthPx / w
	}
	return math.Ceil(h)
}

func (e *Estimator) loadImage(src string) ([]byte, error) {
	if src == "" {
		return nil, nil
	}
	if strings.HasPrefix(src, "data:") {
		idx := strings.Index(src, ",")
		if idx < 0 {
			return nil, nil
		}
		if strings.Contains(src[:idx], ";base64") {
			return base64.StdEncoding.DecodeString(src[idx+1:])
		}
		return []byte(src[idx+1:]), nil
	}
	if e.opt.Resolve == nil {
		return nil, nil
	}
	return e.opt.Resolve(src)
}

// decodeImageSize returns intrinsic pixel dimensions of a raster or SVG
// payload.
func decodeImageSize(data []byte) (w, h float64, ok bool) {
	if t, err := filetype.Match(data); err == nil && t != filetype.Unknown {
		if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
			b := img.Bounds()
			return float64(b.Dx()), float64(b.Dy()), true
		}
		return 0, 0, false
	}
	// not a known raster type, could be SVG
	if icon, err := oksvg.ReadIconStream(bytes.NewReader(data)); err == nil {
		if icon.ViewBox.W > 0 && icon.ViewBox.H > 0 {
			return icon.ViewBox.W, icon.ViewBox.H, true
		}
	}
	return 0, 0, false
}

// inlineStyle carries the handful of CSS properties the layout model honors.
type inlineStyle struct {
	height       float64
	marginTop    float64
	marginBottom float64
}

// parseInlineStyle extracts layout-affecting declarations from a style
// attribute. Only px dimensions are honored, everything else is left to the
// content-based model.
func parseInlineStyle(style string) inlineStyle {
	var result inlineStyle
	if style == "" {
		return result
	}

	input := parse.NewInput(bytes.NewReader([]byte(style)))
	p := css.NewParser(input, true)
	for {
		gt, _, data := p.Next()
		if gt == css.ErrorGrammar {
			return result
		}
		if gt != css.DeclarationGrammar && gt != css.CustomPropertyGrammar {
			continue
		}
		prop := strings.ToLower(string(data))
		val, ok := pxValue(p.Values())
		if !ok {
			continue
		}
		switch prop {
		case "height":
			result.height = val
		case "margin-top":
			result.marginTop = val
		case "margin-bottom":
			result.marginBottom = val
		case "margin":
			// shorthand: first value is vertical margin
			result.marginTop = val
			result.marginBottom = val
		}
	}
}

func pxValue(values []css.Token) (float64, bool) {
	for _, v := range values {
		if v.TokenType != css.DimensionToken && v.TokenType != css.NumberToken {
			continue
		}
		s := strings.TrimSuffix(strings.ToLower(string(v.Data)), "px")
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
			return f, true
		}
	}
	return 0, false
}

func attrFloat(el *etree.Element, name string) float64 {
	v := el.SelectAttrValue(name, "")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
