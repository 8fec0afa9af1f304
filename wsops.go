package strand

import (
	"context"

	"github.com/coder/websocket"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/ops"
	"github.com/strandjs/strand/internal/restable"
)

// wsResource wraps a client WebSocket connection.
type wsResource struct {
	conn *websocket.Conn
	url  string
}

func (r *wsResource) Name() string { return "webSocket:" + r.url }

func (r *wsResource) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "")
}

// registerWSOps wires WebSocket connect/send/recv/close.
func registerWSOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:         "op_ws_connect",
		Arity:        1,
		Blocking:     true,
		Cap:          core.CapNet,
		CapTargetArg: 0,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			url, err := args[0].AsString()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_ws_connect", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				conn, _, err := websocket.Dial(ctx, url, nil)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				h := s.Resources.Add(&wsResource{conn: conn, url: url})
				return core.External(h), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_ws_send",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			ws, err := restable.Get[*wsResource](s.Resources, h)
			if err != nil {
				return err
			}

			// Text frames arrive as strings, binary as buffers.
			var typ websocket.MessageType
			var payload []byte
			switch args[1].Kind() {
			case core.KindString:
				str, _ := args[1].AsString()
				typ, payload = websocket.MessageText, []byte(str)
			case core.KindBuffer:
				payload, err = args[1].BytesCopy()
				if err != nil {
					return err
				}
				typ = websocket.MessageBinary
			default:
				return core.TypeMismatchf("websocket payload must be a string or buffer, got %s", args[1].Kind())
			}

			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_ws_send", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_ws_send", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				if err := ws.conn.Write(ctx, typ, payload); err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.Undefined(), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_ws_recv",
		Arity:    1,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			ws, err := restable.Get[*wsResource](s.Resources, h)
			if err != nil {
				return err
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_ws_recv", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_ws_recv", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				typ, data, err := ws.conn.Read(ctx)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				if typ == websocket.MessageText {
					return core.Str(string(data)), nil
				}
				return core.Buffer(data), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_ws_close",
		Arity:        2,
		MutatesState: true,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			code, err := args[1].AsI32()
			if err != nil {
				return core.Value{}, err
			}
			ws, err := restable.Take[*wsResource](s.Resources, h)
			if err != nil {
				return core.Value{}, err
			}
			if err := ws.conn.Close(websocket.StatusCode(code), ""); err != nil {
				return core.Value{}, core.IoError(err)
			}
			return core.Undefined(), nil
		},
	})
}
