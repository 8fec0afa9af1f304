package strand

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strandjs/strand/internal/core"
)

func writeTree(t *testing.T, files map[string]string) *FSLoader {
	t.Helper()
	root := t.TempDir()
	for name, src := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return &FSLoader{Root: root}
}

func TestLoaderResolveRelative(t *testing.T) {
	l := writeTree(t, map[string]string{
		"app/main.ts":  "",
		"app/util.ts":  "",
		"lib/index.js": "",
	})

	got, err := l.Resolve("./util", "app/main.ts")
	if err != nil || got != "app/util.ts" {
		t.Fatalf("relative: %q %v", got, err)
	}
	got, err = l.Resolve("lib/index.js", "app/main.ts")
	if err != nil || got != "lib/index.js" {
		t.Fatalf("bare: %q %v", got, err)
	}
	got, err = l.Resolve("../lib/index", "app/main.ts")
	if err != nil || got != "lib/index.js" {
		t.Fatalf("parent-relative: %q %v", got, err)
	}
}

func TestLoaderRootEscapeDenied(t *testing.T) {
	l := writeTree(t, map[string]string{"a.js": ""})
	if _, err := l.Resolve("../../etc/passwd", "a.js"); err == nil {
		t.Fatal("escape should fail")
	}
	_, err := l.Resolve("../outside", "a.js")
	if oe := core.AsOpError(err); oe == nil || oe.Kind != core.ErrPermissionDenied {
		t.Fatalf("escape error: %v", err)
	}
}

func TestLoaderExtensionProbing(t *testing.T) {
	l := writeTree(t, map[string]string{
		"first.ts": "",
		"first.js": "",
		"only.js":  "",
	})
	// .ts wins when both exist.
	if got, err := l.Resolve("first", "."); err != nil || got != "first.ts" {
		t.Fatalf("probe: %q %v", got, err)
	}
	if got, err := l.Resolve("only", "."); err != nil || got != "only.js" {
		t.Fatalf("probe js: %q %v", got, err)
	}
	if _, err := l.Resolve("missing", "."); err == nil {
		t.Fatal("missing module should fail")
	}
}

func TestLoaderLoadClassifies(t *testing.T) {
	l := writeTree(t, map[string]string{
		"m.ts":   "export const x: number = 1;",
		"m.json": `{"a":1}`,
	})
	src, media, err := l.Load("m.ts")
	if err != nil || media != core.MediaTypeScript || !strings.Contains(string(src), "x: number") {
		t.Fatalf("load ts: %v %v", media, err)
	}
	_, media, err = l.Load("m.json")
	if err != nil || media != core.MediaJSON {
		t.Fatalf("load json: %v %v", media, err)
	}
	if !core.MediaTypeScript.NeedsTranspile() || core.MediaJSON.NeedsTranspile() {
		t.Fatal("transpile classification")
	}
}

func TestMediaTypeFor(t *testing.T) {
	cases := map[string]core.MediaType{
		"a.ts":  core.MediaTypeScript,
		"a.mts": core.MediaTypeScript,
		"a.tsx": core.MediaTSX,
		"a.jsx": core.MediaJSX,
		"a.js":  core.MediaJavaScript,
		"a.mjs": core.MediaJavaScript,
	}
	for name, want := range cases {
		if got := MediaTypeFor(name); got != want {
			t.Fatalf("%s classified %v, want %v", name, got, want)
		}
	}
}
