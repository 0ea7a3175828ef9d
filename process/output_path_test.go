package process

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"repage/config"
	"repage/dom"
	"repage/state"
)

func testEnv(t *testing.T) *state.LocalEnv {
	t.Helper()
	return &state.LocalEnv{
		Cfg: &config.Config{},
		Log: zaptest.NewLogger(t),
	}
}

func testDoc(t *testing.T) *dom.Document {
	t.Helper()
	doc, err := dom.Load(strings.NewReader(
		`<html><head><title>Annual Report</title></head><body><div class="page"><p data-block-id="a">x</p></div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestBuildOutputPathDefaultNaming(t *testing.T) {
	env := testEnv(t)
	doc := testDoc(t)

	got := buildOutputPath(doc, filepath.Join("books", "report.html"), env)
	want := filepath.Join("books", "report.html")
	if got != want {
		t.Fatalf("buildOutputPath = %q, want %q", got, want)
	}
}

func TestBuildOutputPathNoDirs(t *testing.T) {
	env := testEnv(t)
	env.NoDirs = true
	doc := testDoc(t)

	got := buildOutputPath(doc, filepath.Join("books", "deep", "report.html"), env)
	if got != "report.html" {
		t.Fatalf("buildOutputPath = %q, want flat name", got)
	}
}

func TestBuildOutputPathTransliterates(t *testing.T) {
	env := testEnv(t)
	env.NoDirs = true
	env.Cfg.Document.FileNameTransliterate = true
	doc := testDoc(t)

	got := buildOutputPath(doc, "Годовой отчёт.html", env)
	if strings.ContainsAny(got, "Годовойтчё") {
		t.Fatalf("file name was not transliterated: %q", got)
	}
	if !strings.HasSuffix(got, ".html") {
		t.Fatalf("extension lost: %q", got)
	}
}

func TestBuildOutputPathFromTemplate(t *testing.T) {
	env := testEnv(t)
	env.NoDirs = true
	env.Cfg.Document.OutputNameTemplate = "{{.Title}}-{{.Pages}}"
	doc := testDoc(t)

	got := buildOutputPath(doc, "source.html", env)
	if got != "Annual Report-1.html" {
		t.Fatalf("buildOutputPath = %q, want templated name", got)
	}
}

func TestBuildOutputPathTemplateSubdirs(t *testing.T) {
	env := testEnv(t)
	env.NoDirs = true
	env.Cfg.Document.OutputNameTemplate = "{{.Title}}/{{.SourceFile}}"
	doc := testDoc(t)

	got := buildOutputPath(doc, "source.html", env)
	want := filepath.Join("Annual Report", "source.html")
	if got != want {
		t.Fatalf("buildOutputPath = %q, want %q", got, want)
	}
}

func TestBuildOutputPathBadTemplateFallsBack(t *testing.T) {
	env := testEnv(t)
	env.NoDirs = true
	env.Cfg.Document.OutputNameTemplate = "{{.NoSuchField}}"
	doc := testDoc(t)

	got := buildOutputPath(doc, "source.html", env)
	if got != "source.html" {
		t.Fatalf("broken template must fall back to default name, got %q", got)
	}
}

func TestIsDocumentName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.html", true},
		{"report.HTML", true},
		{"chapter.xhtml", true},
		{"page.htm", true},
		{"notes.txt", false},
		{"book.fb2", false},
		{"archive.zip", false},
	}
	for _, tc := range tests {
		if got := isDocumentName(tc.name); got != tc.want {
			t.Errorf("isDocumentName(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDocumentIDIsStable(t *testing.T) {
	a := documentID("books/report.html")
	if a != documentID("books/report.html") {
		t.Fatal("document id must be deterministic")
	}
	if a == documentID("books/other.html") {
		t.Fatal("different sources must produce different ids")
	}
	// path separator style must not matter
	if a != documentID(filepath.FromSlash("books/report.html")) {
		t.Fatal("document id must not depend on path separator style")
	}
}
