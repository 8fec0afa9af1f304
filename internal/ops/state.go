package ops

import (
	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/restable"
)

// State is the shared per-isolate state handed to every op: the resource
// table, the async driver, the blocking pool, and the permission hook.
// It is owned by one isolate and only touched from its cooperative thread,
// except for the Put/Get bag which bindings may read from pool goroutines.
type State struct {
	Resources   *restable.Table
	Driver      *eventloop.Driver
	Pool        *eventloop.BlockingPool
	Permissions core.PermissionChecker
	Config      core.Config

	bag map[string]any
}

// NewState wires a state for one isolate.
func NewState(cfg core.Config, perms core.PermissionChecker) *State {
	return &State{
		Resources:   restable.New(),
		Driver:      eventloop.NewDriver(),
		Pool:        eventloop.NewBlockingPool(cfg.BlockingPoolSize),
		Permissions: perms,
		Config:      cfg,
		bag:         make(map[string]any),
	}
}

// Put stores binding-owned state (an open database, a listener registry
// reference) under a key. Bindings namespace their keys.
func (s *State) Put(key string, v any) { s.bag[key] = v }

// Get retrieves binding-owned state.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.bag[key]
	return v, ok
}

// Check consults the permission hook, normalizing the failure into the
// script-facing taxonomy.
func (s *State) Check(cap core.Capability, target string) error {
	if s.Permissions == nil {
		return nil
	}
	if err := s.Permissions.Check(cap, target); err != nil {
		if oe := core.AsOpError(err); oe.Kind == core.ErrPermissionDenied {
			return oe
		}
		return core.PermissionDeniedf("%s access to %q denied: %v", cap, target, err)
	}
	return nil
}
