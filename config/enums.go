package config

// Specification of requested output type.
// ENUM(html, bundle)
type OutputFmt int

// Bundled reports whether the output is a zip bundle of paginated documents
// rather than a plain file per document.
func (o OutputFmt) Bundled() bool {
	return o == OutputFmtBundle
}

func (o OutputFmt) Ext() string {
	switch o {
	case OutputFmtHTML:
		return ".html"
	case OutputFmtBundle:
		return ".zip"
	default:
		// this should never happen
		panic("unsupported format requested")
	}
}
