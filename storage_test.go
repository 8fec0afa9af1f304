package strand

import (
	"bytes"
	"testing"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/ops"
)

func TestKVSetGetDelete(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()

	h := dispatchSync(t, d, "op_kv_open", core.Str("testdb"))

	setID := dispatchAsync(t, d, "op_kv_set", h, core.Str("greeting"), core.Buffer([]byte("hi")))
	runLoop(t, state, sink)
	if err := sink.errs[setID]; err != nil {
		t.Fatalf("set: %v", err)
	}

	getID := dispatchAsync(t, d, "op_kv_get", h, core.Str("greeting"))
	runLoop(t, state, sink)
	got, _ := sink.values[getID].Bytes()
	if !bytes.Equal(got, []byte("hi")) {
		t.Fatalf("get returned %q", got)
	}

	delID := dispatchAsync(t, d, "op_kv_delete", h, core.Str("greeting"))
	runLoop(t, state, sink)
	if deleted, _ := sink.values[delID].AsBool(); !deleted {
		t.Fatal("delete reported nothing removed")
	}

	missID := dispatchAsync(t, d, "op_kv_get", h, core.Str("greeting"))
	runLoop(t, state, sink)
	if !sink.values[missID].IsNullish() {
		t.Fatalf("deleted key resolved %v, want null", sink.values[missID])
	}

	dispatchSync(t, d, "op_close", h)
}

func TestKVOverwriteAndList(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()

	h := dispatchSync(t, d, "op_kv_open", core.Str("listdb"))

	for _, kv := range [][2]string{
		{"user:1", "alice"},
		{"user:2", "bob"},
		{"session:9", "tok"},
		{"user:1", "alice-v2"},
	} {
		id := dispatchAsync(t, d, "op_kv_set", h, core.Str(kv[0]), core.Buffer([]byte(kv[1])))
		runLoop(t, state, sink)
		if err := sink.errs[id]; err != nil {
			t.Fatalf("set %s: %v", kv[0], err)
		}
	}

	listID := dispatchAsync(t, d, "op_kv_list", h, core.Str("user:"))
	runLoop(t, state, sink)
	keys, _ := sink.values[listID].AsString()
	if keys != `["user:1","user:2"]` {
		t.Fatalf("list returned %s", keys)
	}

	getID := dispatchAsync(t, d, "op_kv_get", h, core.Str("user:1"))
	runLoop(t, state, sink)
	got, _ := sink.values[getID].Bytes()
	if !bytes.Equal(got, []byte("alice-v2")) {
		t.Fatalf("overwritten key resolved %q", got)
	}

	dispatchSync(t, d, "op_close", h)
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()

	h := dispatchSync(t, d, "op_kv_open", core.Str("persistdb"))
	setID := dispatchAsync(t, d, "op_kv_set", h, core.Str("k"), core.Buffer([]byte("v")))
	runLoop(t, state, sink)
	if err := sink.errs[setID]; err != nil {
		t.Fatalf("set: %v", err)
	}
	dispatchSync(t, d, "op_close", h)

	h2 := dispatchSync(t, d, "op_kv_open", core.Str("persistdb"))
	getID := dispatchAsync(t, d, "op_kv_get", h2, core.Str("k"))
	runLoop(t, state, sink)
	got, _ := sink.values[getID].Bytes()
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("reopened store resolved %q", got)
	}
	dispatchSync(t, d, "op_close", h2)
}

// A static write grant covering the data dir must be enough to open a
// store; the check target is the resolved database path.
func TestKVOpenHonorsWriteAllowlist(t *testing.T) {
	dataDir := t.TempDir()
	cfg := core.Config{DataDir: dataDir}.WithDefaults()

	granted := ops.NewState(cfg, &StaticPermissions{Write: []string{dataDir}})
	t.Cleanup(granted.Pool.Close)
	reg := ops.NewRegistry()
	registerKVOps(reg)
	d := ops.NewDispatcher(reg, granted)

	id, _ := d.OpID("op_kv_open")
	res := d.Dispatch(id, []core.Value{core.Str("books")})
	if res.Err != nil {
		t.Fatalf("open with write grant over the data dir: %v", res.Err)
	}
	h, _ := res.Value.AsHandle()
	if err := granted.Resources.Close(h); err != nil {
		t.Fatalf("close: %v", err)
	}

	denied := ops.NewState(cfg, &StaticPermissions{Write: []string{t.TempDir()}})
	t.Cleanup(denied.Pool.Close)
	reg2 := ops.NewRegistry()
	registerKVOps(reg2)
	d2 := ops.NewDispatcher(reg2, denied)

	id2, _ := d2.OpID("op_kv_open")
	res = d2.Dispatch(id2, []core.Value{core.Str("books")})
	if res.Err == nil || res.Err.Kind != core.ErrPermissionDenied {
		t.Fatalf("open outside the grant: %v, want PermissionDenied", res.Err)
	}
}

func TestKVRejectsPathTraversalName(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id, _ := d.OpID("op_kv_open")
	res := d.Dispatch(id, []core.Value{core.Str("../escape")})
	if res.Err == nil || res.Err.Kind != core.ErrTypeMismatch {
		t.Fatalf("traversal name: %v, want TypeMismatch", res.Err)
	}
}
