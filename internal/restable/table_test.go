package restable

import (
	"errors"
	"fmt"
	"testing"

	"github.com/strandjs/strand/internal/core"
)

// fakeResource counts close calls and optionally fails.
type fakeResource struct {
	name     string
	closed   int
	closeErr error
}

func (r *fakeResource) Name() string { return r.name }
func (r *fakeResource) Close() error {
	r.closed++
	return r.closeErr
}

// otherResource is a second concrete type for downcast tests.
type otherResource struct{}

func (otherResource) Name() string { return "other" }
func (otherResource) Close() error { return nil }

func isBadResource(err error) bool {
	return errors.Is(err, &core.OpError{Kind: core.ErrBadResource})
}

func TestTable_AddGetClose(t *testing.T) {
	tbl := New()
	res := &fakeResource{name: "file:///tmp/a"}
	h := tbl.Add(res)
	if h == 0 {
		t.Fatal("handle 0 is reserved")
	}

	got, err := Get[*fakeResource](tbl, h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != res {
		t.Fatal("Get returned a different resource")
	}

	if err := tbl.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.closed != 1 {
		t.Fatalf("close hook ran %d times, want 1", res.closed)
	}
	if _, err := Get[*fakeResource](tbl, h); !isBadResource(err) {
		t.Errorf("Get after close should be BadResource, got %v", err)
	}
}

func TestTable_CloseIdempotenceAtTableLevel(t *testing.T) {
	tbl := New()
	res := &fakeResource{name: "sock"}
	h := tbl.Add(res)

	if err := tbl.Close(h); err != nil {
		t.Fatalf("first close: %v", err)
	}
	err := tbl.Close(h)
	if !isBadResource(err) {
		t.Fatalf("second close should be BadResource, got %v", err)
	}
	if res.closed != 1 {
		t.Fatalf("close hook ran %d times, want exactly 1", res.closed)
	}
}

func TestTable_HandleUniqueness(t *testing.T) {
	tbl := New()
	seen := make(map[core.Handle]bool)
	var handles []core.Handle
	for i := 0; i < 100; i++ {
		h := tbl.Add(&fakeResource{name: fmt.Sprintf("r%d", i)})
		if seen[h] {
			t.Fatalf("handle %d issued twice among live entries", h)
		}
		seen[h] = true
		handles = append(handles, h)
	}
	// Close half, add more, and ensure no live collision.
	for i := 0; i < 50; i++ {
		if err := tbl.Close(handles[i]); err != nil {
			t.Fatal(err)
		}
	}
	live := make(map[core.Handle]bool)
	for _, h := range handles[50:] {
		live[h] = true
	}
	for i := 0; i < 50; i++ {
		h := tbl.Add(&fakeResource{name: "reused"})
		if live[h] {
			t.Fatalf("fresh handle %d collides with a live one", h)
		}
		live[h] = true
	}
}

func TestTable_StaleGenerationRejected(t *testing.T) {
	tbl := New()
	h1 := tbl.Add(&fakeResource{name: "first"})
	if err := tbl.Close(h1); err != nil {
		t.Fatal(err)
	}

	// The freed slot is recycled; the old handle must not resolve to the
	// new occupant.
	h2 := tbl.Add(&fakeResource{name: "second"})
	if h1 == h2 {
		t.Fatal("recycled slot reissued the same handle")
	}
	if _, err := Get[*fakeResource](tbl, h1); !isBadResource(err) {
		t.Errorf("stale handle resolved, err=%v", err)
	}
	if got, err := Get[*fakeResource](tbl, h2); err != nil || got.name != "second" {
		t.Errorf("fresh handle should resolve, got %v, %v", got, err)
	}
}

func TestTable_TypedGetMismatch(t *testing.T) {
	tbl := New()
	h := tbl.Add(&fakeResource{name: "f"})
	if _, err := Get[otherResource](tbl, h); !isBadResource(err) {
		t.Errorf("wrong-type Get should be BadResource, got %v", err)
	}
	// the failed downcast must not disturb the entry
	if _, err := Get[*fakeResource](tbl, h); err != nil {
		t.Errorf("entry should still be live: %v", err)
	}
}

func TestTable_TakeSkipsCloseHook(t *testing.T) {
	tbl := New()
	res := &fakeResource{name: "promoted"}
	h := tbl.Add(res)

	got, err := Take[*fakeResource](tbl, h)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got != res {
		t.Fatal("Take returned a different resource")
	}
	if res.closed != 0 {
		t.Error("Take must not invoke the close hook")
	}
	if err := tbl.Close(h); !isBadResource(err) {
		t.Errorf("handle should be gone after Take, got %v", err)
	}
}

func TestTable_CloseFiresCancelHandle(t *testing.T) {
	tbl := New()
	h := tbl.Add(&fakeResource{name: "busy"})

	cancel, err := tbl.CancelHandle(h)
	if err != nil {
		t.Fatal(err)
	}
	if cancel.Canceled() {
		t.Fatal("cancel handle raised before close")
	}
	if err := tbl.Close(h); err != nil {
		t.Fatal(err)
	}
	if !cancel.Canceled() {
		t.Error("close must raise the entry's cancel handle")
	}
}

func TestTable_DrainAllTolerantOfFailures(t *testing.T) {
	tbl := New()
	good1 := &fakeResource{name: "good1"}
	bad := &fakeResource{name: "bad", closeErr: errors.New("device busy")}
	good2 := &fakeResource{name: "good2"}
	tbl.Add(good1)
	tbl.Add(bad)
	tbl.Add(good2)

	tbl.DrainAll()

	if tbl.Len() != 0 {
		t.Fatalf("table should be empty after drain, has %d", tbl.Len())
	}
	for _, r := range []*fakeResource{good1, bad, good2} {
		if r.closed != 1 {
			t.Errorf("%s closed %d times, want 1", r.name, r.closed)
		}
	}
}

func TestTable_Names(t *testing.T) {
	tbl := New()
	h := tbl.Add(&fakeResource{name: "tcp:127.0.0.1:80"})
	names := tbl.Names()
	if names[h] != "tcp:127.0.0.1:80" {
		t.Errorf("Names() = %v", names)
	}
}
