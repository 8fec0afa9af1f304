package strand

import (
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/strandjs/strand/internal/core"
)

// Transpile lowers TypeScript/JSX source to plain JavaScript the engines
// can evaluate. Plain JavaScript passes through esbuild too, so ES module
// syntax is rewritten into a form a classic script can run.
func Transpile(name, source string, media core.MediaType) (string, error) {
	loader := esbuild.LoaderJS
	switch media {
	case core.MediaTypeScript:
		loader = esbuild.LoaderTS
	case core.MediaJSX:
		loader = esbuild.LoaderJSX
	case core.MediaTSX:
		loader = esbuild.LoaderTSX
	}

	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     loader,
		Format:     esbuild.FormatIIFE,
		Target:     esbuild.ES2022,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transpiling %s: %s", name, formatESBuildErrors(result.Errors))
	}
	return string(result.Code), nil
}

// BundleEntry bundles an entry point and its import graph into one
// self-contained script. Sources without import statements pass through
// untouched.
func BundleEntry(entryPoint string) (string, error) {
	opts := esbuild.BuildOptions{
		EntryPoints:   []string{entryPoint},
		AbsWorkingDir: filepath.Dir(entryPoint),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformBrowser,
		Target:        esbuild.ES2022,
		TreeShaking:   esbuild.TreeShakingFalse,
	}
	result := esbuild.Build(opts)
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", entryPoint, formatESBuildErrors(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s: no output produced", entryPoint)
	}
	return string(result.OutputFiles[0].Contents), nil
}

func formatESBuildErrors(errs []esbuild.Message) string {
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		if e.Location != nil {
			fmt.Fprintf(&b, "%s:%d: ", e.Location.File, e.Location.Line)
		}
		b.WriteString(e.Text)
	}
	return b.String()
}
