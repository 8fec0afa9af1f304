//go:build v8

package strand

import (
	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/v8engine"
)

func newBackend(cfg core.Config) (core.ScriptEngine, error) {
	return v8engine.New(cfg)
}
