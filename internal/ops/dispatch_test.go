package ops

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/strandjs/strand/internal/core"
)

// denyAll rejects every permission check.
type denyAll struct{}

func (denyAll) Check(cap core.Capability, target string) error {
	return core.PermissionDeniedf("%s access to %q denied", cap, target)
}

// allowAll grants every permission check.
type allowAll struct{}

func (allowAll) Check(core.Capability, string) error { return nil }

func newTestState() *State {
	return NewState(core.Config{}.WithDefaults(), allowAll{})
}

type sinkFunc func(uint64, core.Value, *core.OpError)

func (f sinkFunc) DeliverResult(id uint64, v core.Value, err *core.OpError) { f(id, v, err) }

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Op{Name: ""}); err == nil {
		t.Error("empty name should be rejected")
	}
	if _, err := r.Register(Op{Name: "op_x"}); err == nil {
		t.Error("op without Fn or AsyncFn should be rejected")
	}
	fn := func(*State, []core.Value) (core.Value, error) { return core.Undefined(), nil }
	if _, err := r.Register(Op{Name: "op_x", Fn: fn}); err != nil {
		t.Fatalf("valid op rejected: %v", err)
	}
	if _, err := r.Register(Op{Name: "op_x", Fn: fn}); err == nil {
		t.Error("duplicate name should be rejected")
	}
	r.Freeze()
	if _, err := r.Register(Op{Name: "op_y", Fn: fn}); err == nil {
		t.Error("registration after freeze should be rejected")
	}
}

func TestDispatch_SyncSuccessAndError(t *testing.T) {
	r := NewRegistry()
	addID := r.MustRegister(Op{
		Name:  "op_add",
		Arity: 2,
		Fn: func(_ *State, args []core.Value) (core.Value, error) {
			a, err := args[0].AsI32()
			if err != nil {
				return core.Undefined(), err
			}
			b, err := args[1].AsI32()
			if err != nil {
				return core.Undefined(), err
			}
			return core.I32(a + b), nil
		},
	})
	failID := r.MustRegister(Op{
		Name: "op_fail",
		Fn: func(*State, []core.Value) (core.Value, error) {
			return core.Undefined(), fmt.Errorf("native blowup")
		},
	})
	d := NewDispatcher(r, newTestState())

	res := d.Dispatch(addID, []core.Value{core.I32(2), core.I32(3)})
	if res.Err != nil || res.Async {
		t.Fatalf("dispatch: %+v", res)
	}
	if !res.Value.Equal(core.I32(5)) {
		t.Errorf("op_add = %v", res.Value)
	}

	// Argument shape mismatch maps to TypeMismatch.
	res = d.Dispatch(addID, []core.Value{core.Str("x"), core.I32(3)})
	if res.Err == nil || res.Err.Kind != core.ErrTypeMismatch {
		t.Errorf("bad arg error = %v", res.Err)
	}

	// Arity violation is caught before the native function runs.
	res = d.Dispatch(addID, []core.Value{core.I32(1)})
	if res.Err == nil || res.Err.Kind != core.ErrTypeMismatch {
		t.Errorf("arity error = %v", res.Err)
	}

	// Native errors become tagged passthroughs.
	res = d.Dispatch(failID, nil)
	if res.Err == nil || res.Err.Kind != core.ErrIo {
		t.Errorf("native error = %v", res.Err)
	}

	// Unknown op id.
	res = d.Dispatch(9999, nil)
	if res.Err == nil || res.Err.Kind != core.ErrTypeMismatch {
		t.Errorf("unknown op error = %v", res.Err)
	}
}

func TestDispatch_AsyncPath(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(Op{
		Name: "op_sleepy",
		AsyncFn: func(s *State, _ []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			go func() {
				select {
				case <-time.After(5 * time.Millisecond):
					fulfill(core.Str("done"), nil)
				case <-cancel.Done():
					fulfill(core.Undefined(), core.Canceled("op_sleepy"))
				}
			}()
			return nil
		},
	})
	state := newTestState()
	d := NewDispatcher(r, state)

	res := d.Dispatch(id, nil)
	if !res.Async || res.PromiseID == 0 {
		t.Fatalf("async dispatch = %+v", res)
	}

	var got core.Value
	sink := sinkFunc(func(pid uint64, v core.Value, err *core.OpError) {
		if pid != res.PromiseID {
			t.Errorf("promise id %d, want %d", pid, res.PromiseID)
		}
		if err != nil {
			t.Errorf("unexpected rejection: %v", err)
		}
		got = v
	})
	if err := state.Driver.Run(sink, time.Now().Add(time.Second), nil); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(core.Str("done")) {
		t.Errorf("async value = %v", got)
	}
}

func TestDispatch_AsyncSetupFailureRejectsPromise(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(Op{
		Name: "op_doomed",
		AsyncFn: func(*State, []core.Value, *core.CancelHandle, func(core.Value, error)) error {
			return core.BadResourcef("no such handle")
		},
	})
	state := newTestState()
	d := NewDispatcher(r, state)

	res := d.Dispatch(id, nil)
	if !res.Async {
		t.Fatal("setup failure should still take the async path")
	}

	var rejection *core.OpError
	sink := sinkFunc(func(_ uint64, _ core.Value, err *core.OpError) { rejection = err })
	if err := state.Driver.Run(sink, time.Now().Add(time.Second), nil); err != nil {
		t.Fatal(err)
	}
	if rejection == nil || rejection.Kind != core.ErrBadResource {
		t.Errorf("rejection = %v, want BadResource", rejection)
	}
}

func TestDispatch_PermissionShortCircuits(t *testing.T) {
	r := NewRegistry()
	ran := false
	id := r.MustRegister(Op{
		Name:         "op_open",
		Arity:        1,
		Cap:          core.CapRead,
		CapTargetArg: 0,
		Fn: func(*State, []core.Value) (core.Value, error) {
			ran = true
			return core.Undefined(), nil
		},
	})
	d := NewDispatcher(r, NewState(core.Config{}.WithDefaults(), denyAll{}))

	res := d.Dispatch(id, []core.Value{core.Str("/etc/passwd")})
	if res.Err == nil || res.Err.Kind != core.ErrPermissionDenied {
		t.Fatalf("err = %v, want PermissionDenied", res.Err)
	}
	if ran {
		t.Error("native function must not run after a permission denial")
	}
	if !errors.Is(res.Err, &core.OpError{Kind: core.ErrPermissionDenied}) {
		t.Error("denial should match its kind")
	}
}

func TestDispatchFast_MatchesSlowPath(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(Op{
		Name:  "op_mul",
		Arity: 2,
		Fn: func(_ *State, args []core.Value) (core.Value, error) {
			a, _ := args[0].AsF64()
			b, _ := args[1].AsF64()
			return core.F64(a * b), nil
		},
		FastFn: func(_ *State, args []float64) (float64, bool) {
			return args[0] * args[1], true
		},
	})
	d := NewDispatcher(r, newTestState())

	fast, ok := d.DispatchFast(id, []float64{6, 7})
	if !ok {
		t.Fatal("fast path should be taken")
	}
	slow := d.Dispatch(id, []core.Value{core.F64(6), core.F64(7)})
	slowV, _ := slow.Value.AsF64()
	if fast != slowV {
		t.Errorf("fast=%v slow=%v", fast, slowV)
	}
}

func TestDispatchFast_FallsBackWhenIneligible(t *testing.T) {
	r := NewRegistry()
	mutating := r.MustRegister(Op{
		Name:         "op_bump",
		MutatesState: true,
		Fn: func(*State, []core.Value) (core.Value, error) {
			return core.I32(1), nil
		},
		FastFn: func(*State, []float64) (float64, bool) { return 1, true },
	})
	guarded := r.MustRegister(Op{
		Name: "op_guarded",
		Cap:  core.CapNet,
		Fn: func(*State, []core.Value) (core.Value, error) {
			return core.I32(1), nil
		},
		FastFn: func(*State, []float64) (float64, bool) { return 1, true },
	})
	d := NewDispatcher(r, newTestState())

	if _, ok := d.DispatchFast(mutating, nil); ok {
		t.Error("state-mutating op must not take the fast path")
	}
	if _, ok := d.DispatchFast(guarded, nil); ok {
		t.Error("permission-checked op must not take the fast path")
	}
	if _, ok := d.DispatchFast(4242, nil); ok {
		t.Error("unknown op must not take the fast path")
	}
}
