package static

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedAssets(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"css/app.css", "css/chroma.css", "js/editor.js", "img/favicon.svg"} {
		if _, err := fs.Stat(FS(), name); err != nil {
			t.Fatalf("missing embedded asset %s: %v", name, err)
		}
	}
}

func TestEditorLoadsCodeMirror(t *testing.T) {
	t.Parallel()
	src, err := fs.ReadFile(FS(), "js/editor.js")
	if err != nil {
		t.Fatalf("read editor.js: %v", err)
	}
	for _, want := range []string{`"state@6"`, `"view@6"`, `"commands@6"`, "defaultKeymap", `placeholder("# paste text here…")`} {
		if !strings.Contains(string(src), want) {
			t.Fatalf("editor.js does not reference %s", want)
		}
	}
}

func TestCopyAll(t *testing.T) {
	t.Parallel()
	dest := t.TempDir()
	if err := CopyAll(dest); err != nil {
		t.Fatalf("CopyAll: %v", err)
	}
	want, err := fs.ReadFile(FS(), "js/editor.js")
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "js", "editor.js"))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("copied asset differs from embedded one")
	}
}
