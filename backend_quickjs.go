//go:build !v8

package strand

import (
	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/qjsengine"
)

func newBackend(cfg core.Config) (core.ScriptEngine, error) {
	return qjsengine.New(cfg)
}
