package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildArchive creates a zip with the given name to content entries and
// returns its path.
func buildArchive(t *testing.T, entries map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "docs.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("unable to create entry %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("unable to write entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func collect(t *testing.T, path, prefix string) []string {
	t.Helper()
	var visited []string
	err := Walk(context.Background(), path, prefix, func(archive string, f *zip.File) error {
		if archive != path {
			t.Errorf("archive = %s, want %s", archive, path)
		}
		visited = append(visited, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	return visited
}

func TestWalkPrefixFiltering(t *testing.T) {
	path := buildArchive(t, map[string]string{
		"book/ch1.html":  "one",
		"book/ch2.html":  "two",
		"extra/img.png":  "img",
		"cover.html":     "cover",
		"book/sub/a.css": "css",
	})

	tests := []struct {
		prefix string
		want   int
	}{
		{"book/", 3},
		{"extra/", 1},
		{"", 5},
		{"missing/", 0},
		{`book\sub`, 1}, // backslashes in the prefix are normalized
	}
	for _, tc := range tests {
		if got := collect(t, path, tc.prefix); len(got) != tc.want {
			t.Errorf("prefix %q visited %v, want %d entries", tc.prefix, got, tc.want)
		}
	}
}

func TestWalkPrefixIsCaseSensitive(t *testing.T) {
	path := buildArchive(t, map[string]string{"Docs/README.html": "x"})

	if got := collect(t, path, "Docs/"); len(got) != 1 {
		t.Errorf("exact case visited %v, want 1 entry", got)
	}
	if got := collect(t, path, "docs/"); len(got) != 0 {
		t.Errorf("wrong case visited %v, want none", got)
	}
}

func TestWalkSkipsDirectoryEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirs.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	hdr := &zip.FileHeader{Name: "pages/"}
	hdr.SetMode(os.ModeDir | 0755)
	if _, err := w.CreateHeader(hdr); err != nil {
		t.Fatal(err)
	}
	fw, err := w.Create("pages/one.html")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("page"))
	w.Close()
	f.Close()

	got := collect(t, path, "pages/")
	if len(got) != 1 || got[0] != "pages/one.html" {
		t.Fatalf("visited %v, want only the file entry", got)
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	path := buildArchive(t, map[string]string{
		"a.html": "a", "b.html": "b", "c.html": "c",
	})

	stop := errors.New("stop walking")
	count := 0
	err := Walk(context.Background(), path, "", func(string, *zip.File) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("walk error = %v, want %v", err, stop)
	}
	if count != 2 {
		t.Fatalf("callback ran %d times, want 2", count)
	}
}

func TestWalkHonorsContextCancellation(t *testing.T) {
	path := buildArchive(t, map[string]string{"a.html": "a", "b.html": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Walk(ctx, path, "", func(string, *zip.File) error {
		t.Fatal("callback must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("walk error = %v, want context.Canceled", err)
	}
}

func TestWalkReadsEntryContent(t *testing.T) {
	path := buildArchive(t, map[string]string{"doc.html": "<html/>"})

	err := Walk(context.Background(), path, "", func(_ string, f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if string(data) != "<html/>" {
			t.Errorf("entry content = %q", data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}

func TestWalkRejectsUnsafeEntries(t *testing.T) {
	for _, name := range []string{"../escape.html", "dir/../../escape.html", "/abs.html"} {
		path := buildArchive(t, map[string]string{name: "x"})
		err := Walk(context.Background(), path, "", func(string, *zip.File) error {
			return nil
		})
		if err == nil || !strings.Contains(err.Error(), "unsafe path") {
			t.Errorf("entry %q: walk error = %v, want unsafe path refusal", name, err)
		}
	}
}

func TestWalkBadArchive(t *testing.T) {
	cb := func(string, *zip.File) error { return nil }

	if err := Walk(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), "", cb); err == nil {
		t.Error("expected error for missing archive")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.zip")
	if err := os.WriteFile(garbage, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Walk(context.Background(), garbage, "", cb); err == nil {
		t.Error("expected error for corrupt archive")
	}
}
