// Package debug contains helpers for producing human readable dumps of
// internal structures stored in debug reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

// TreeWriter builds indented tree shaped text output.
type TreeWriter struct {
	b *strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{
		b: &strings.Builder{},
	}
}

func (tw *TreeWriter) String() string {
	return tw.b.String()
}

func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	for range depth {
		tw.b.WriteString("  ")
	}
	fmt.Fprintf(tw.b, format, args...)
	tw.b.WriteByte('\n')
}

// Text writes a labeled, quoted text value. When limit is positive the value
// is truncated to that many runes with an ellipsis.
func (tw *TreeWriter) Text(depth int, label, value string, limit int) {
	if limit > 0 {
		if runes := []rune(value); len(runes) > limit {
			value = string(runes[:limit]) + "..."
		}
	}
	for range depth {
		tw.b.WriteString("  ")
	}
	tw.b.WriteString(label)
	tw.b.WriteString(": ")
	if value != "" {
		value = strconv.Quote(value)
	}
	tw.b.WriteString(value)
	tw.b.WriteByte('\n')
}
