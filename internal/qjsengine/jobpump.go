//go:build !v8

package qjsengine

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// pumpJobs drains the QuickJS pending job queue (promise continuations).
// The modernc.org/quickjs wrapper never calls JS_ExecutePendingJob itself,
// so without this a .then() callback would never fire. The runtime and TLS
// handles are unexported on quickjs.VM and have to be pulled out with
// reflection.
//
// Returns the number of jobs executed.
func pumpJobs(vm *quickjs.VM) int {
	rt, tls, ok := vmInternals(vm)
	if !ok {
		return 0
	}

	n := 0
	for lib.XJS_ExecutePendingJob(tls, rt, 0) > 0 {
		n++
	}
	return n
}

// vmInternals extracts the unexported cRuntime and tls fields from a VM.
// Field names track modernc.org/quickjs v0.17.x; if a newer release moves
// them this degrades to a no-op pump rather than crashing.
func vmInternals(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	vmVal := reflect.ValueOf(vm).Elem()

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	crField := rtVal.FieldByName("cRuntime")
	if !crField.IsValid() {
		return 0, nil, false
	}
	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	return uintptr(crField.Uint()), (*libc.TLS)(unsafe.Pointer(tlsField.Pointer())), true
}
