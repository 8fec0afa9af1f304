package strand

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/strandjs/strand/internal/core"
)

// FSLoader loads modules from a directory tree. Canonical specifiers are
// slash paths relative to Root; escaping the root fails resolution.
type FSLoader struct {
	Root string
}

var _ core.ModuleLoader = (*FSLoader)(nil)

// Resolve canonicalizes a specifier against its referrer. Relative
// specifiers resolve against the referrer's directory, bare ones against
// the root. Extensionless specifiers probe source extensions in order.
func (l *FSLoader) Resolve(specifier, referrer string) (string, error) {
	var joined string
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		joined = path.Join(path.Dir(referrer), specifier)
	} else {
		joined = path.Clean(specifier)
	}
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", core.PermissionDeniedf("module %q escapes the load root", specifier)
	}

	if path.Ext(joined) != "" {
		return joined, nil
	}
	for _, ext := range []string{".ts", ".js", ".tsx", ".jsx", ".json"} {
		cand := joined + ext
		if _, err := os.Stat(filepath.Join(l.Root, filepath.FromSlash(cand))); err == nil {
			return cand, nil
		}
	}
	return "", fmt.Errorf("module %q not found under %s", specifier, l.Root)
}

// Load reads the canonical specifier's source and classifies it.
func (l *FSLoader) Load(canonical string) ([]byte, core.MediaType, error) {
	src, err := os.ReadFile(filepath.Join(l.Root, filepath.FromSlash(canonical)))
	if err != nil {
		return nil, 0, fmt.Errorf("reading module %q: %w", canonical, err)
	}
	return src, MediaTypeFor(canonical), nil
}

// MediaTypeFor classifies a specifier by extension. Unknown extensions are
// treated as JavaScript, matching how script hosts shrug at .mjs and
// friends.
func MediaTypeFor(specifier string) core.MediaType {
	switch strings.ToLower(path.Ext(specifier)) {
	case ".ts", ".mts", ".cts":
		return core.MediaTypeScript
	case ".tsx":
		return core.MediaTSX
	case ".jsx":
		return core.MediaJSX
	case ".json":
		return core.MediaJSON
	default:
		return core.MediaJavaScript
	}
}
