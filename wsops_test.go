package strand

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/websocket"

	"github.com/strandjs/strand/internal/core"
)

// echoWSServer accepts one connection and echoes frames until the client
// closes.
func echoWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSEchoTextAndBinary(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()
	srv := echoWSServer(t)

	connID := dispatchAsync(t, d, "op_ws_connect", core.Str(srv.URL))
	runLoop(t, state, sink)
	if err := sink.errs[connID]; err != nil {
		t.Fatalf("connect: %v", err)
	}
	h := sink.values[connID]

	// Text frames round-trip as strings.
	sendID := dispatchAsync(t, d, "op_ws_send", h, core.Str("ping"))
	runLoop(t, state, sink)
	if err := sink.errs[sendID]; err != nil {
		t.Fatalf("send text: %v", err)
	}
	recvID := dispatchAsync(t, d, "op_ws_recv", h)
	runLoop(t, state, sink)
	if err := sink.errs[recvID]; err != nil {
		t.Fatalf("recv text: %v", err)
	}
	if got, _ := sink.values[recvID].AsString(); got != "ping" {
		t.Fatalf("text echo returned %q", got)
	}

	// Binary frames round-trip as buffers.
	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	sendID = dispatchAsync(t, d, "op_ws_send", h, core.Buffer(payload))
	runLoop(t, state, sink)
	if err := sink.errs[sendID]; err != nil {
		t.Fatalf("send binary: %v", err)
	}
	recvID = dispatchAsync(t, d, "op_ws_recv", h)
	runLoop(t, state, sink)
	got, err := sink.values[recvID].Bytes()
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("binary echo returned %v (%v)", got, err)
	}

	dispatchSync(t, d, "op_ws_close", h, core.I32(1000))
}

func TestWSSendRejectsNumericPayload(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()
	srv := echoWSServer(t)

	connID := dispatchAsync(t, d, "op_ws_connect", core.Str(srv.URL))
	runLoop(t, state, sink)
	h := sink.values[connID]

	id := dispatchAsync(t, d, "op_ws_send", h, core.F64(42))
	runLoop(t, state, sink)
	if err := sink.errs[id]; err == nil || err.Kind != core.ErrTypeMismatch {
		t.Fatalf("numeric payload: %v, want TypeMismatch", err)
	}
	dispatchSync(t, d, "op_close", h)
}

func TestWSConnectRefusedIsIoError(t *testing.T) {
	d, state := newTestDispatcher(t)
	sink := newCollector()

	id := dispatchAsync(t, d, "op_ws_connect", core.Str("http://127.0.0.1:1"))
	runLoop(t, state, sink)
	if err := sink.errs[id]; err == nil || err.Kind != core.ErrIo {
		t.Fatalf("refused connect: %v, want IoError", err)
	}
}
