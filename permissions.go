package strand

import (
	"path/filepath"
	"strings"

	"github.com/strandjs/strand/internal/core"
)

// AllowAll grants every capability. Used by tests and embedders that trust
// the scripts they run.
type AllowAll struct{}

func (AllowAll) Check(core.Capability, string) error { return nil }

// DenyAll refuses every capability.
type DenyAll struct{}

func (DenyAll) Check(cap core.Capability, target string) error {
	return core.PermissionDeniedf("%s access to %q denied", cap, target)
}

// StaticPermissions is an allowlist permission set fixed at isolate
// construction. Read and Write hold path prefixes, Net holds host names
// (exact or ".suffix" for subdomain grants).
type StaticPermissions struct {
	Read  []string
	Write []string
	Net   []string
	Env   bool
	Run   bool
}

var _ core.PermissionChecker = (*StaticPermissions)(nil)

func (p *StaticPermissions) Check(cap core.Capability, target string) error {
	switch cap {
	case core.CapRead:
		if pathAllowed(p.Read, target) {
			return nil
		}
	case core.CapWrite:
		if pathAllowed(p.Write, target) {
			return nil
		}
	case core.CapNet:
		if hostAllowed(p.Net, target) {
			return nil
		}
	case core.CapEnv:
		if p.Env {
			return nil
		}
	case core.CapRun:
		if p.Run {
			return nil
		}
	}
	return core.PermissionDeniedf("%s access to %q denied", cap, target)
}

func pathAllowed(prefixes []string, target string) bool {
	if target == "" {
		return false
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	for _, p := range prefixes {
		pa, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if abs == pa || strings.HasPrefix(abs, pa+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func hostAllowed(hosts []string, target string) bool {
	// Strip a port when present.
	host := target
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	for _, h := range hosts {
		if strings.HasPrefix(h, ".") {
			if strings.HasSuffix(host, h) || host == h[1:] {
				return true
			}
		} else if host == h {
			return true
		}
	}
	return false
}
