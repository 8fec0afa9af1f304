package strand

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/ops"
	"github.com/strandjs/strand/internal/restable"
)

// maxAcceptBacklog caps concurrent accepted-but-unread connections per
// listener.
const maxAcceptBacklog = 512

// sharedListeners is the process-wide listener table keyed by bind
// address. Multiple isolates listening on the same address share one OS
// socket, with the last drop closing it. Lazily initialized, explicitly
// torn down; never package-level-mutated outside these functions.
type sharedListeners struct {
	mu      sync.Mutex
	entries map[string]*sharedListener
}

type sharedListener struct {
	ln   net.Listener
	refs int
}

var listeners = &sharedListeners{entries: make(map[string]*sharedListener)}

// acquire returns a listener for addr, creating and connection-limiting it
// on first use.
func (t *sharedListeners) acquire(addr string) (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[addr]; ok {
		e.refs++
		return e.ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, core.IoError(err)
	}
	ln = netutil.LimitListener(ln, maxAcceptBacklog)
	t.entries[addr] = &sharedListener{ln: ln, refs: 1}
	return ln, nil
}

// release drops one reference; the last drop closes the socket.
func (t *sharedListeners) release(addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(t.entries, addr)
	return e.ln.Close()
}

// listenerResource is one isolate's claim on a shared listener.
type listenerResource struct {
	addr string
}

func (r *listenerResource) Name() string { return "tcpListener:" + r.addr }

func (r *listenerResource) Close() error { return listeners.release(r.addr) }

func (r *listenerResource) listener() (net.Listener, bool) {
	listeners.mu.Lock()
	defer listeners.mu.Unlock()
	e, ok := listeners.entries[r.addr]
	if !ok {
		return nil, false
	}
	return e.ln, true
}

// connResource wraps an established TCP connection. Shutdown half-closes
// the write side.
type connResource struct {
	conn net.Conn
}

func (r *connResource) Name() string { return "tcpConn:" + r.conn.RemoteAddr().String() }

func (r *connResource) Close() error { return r.conn.Close() }

func (r *connResource) Shutdown() error {
	if tc, ok := r.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return r.conn.Close()
}

// registerNetOps wires TCP listen/accept/connect/read/write and DNS.
func registerNetOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:         "op_net_listen",
		Arity:        1,
		MutatesState: true,
		Cap:          core.CapNet,
		CapTargetArg: 0,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			addr, err := args[0].AsString()
			if err != nil {
				return core.Value{}, err
			}
			if _, err := listeners.acquire(addr); err != nil {
				return core.Value{}, err
			}
			h := s.Resources.Add(&listenerResource{addr: addr})
			return core.External(h), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_net_accept",
		Arity:    1,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			lr, err := restable.Get[*listenerResource](s.Resources, h)
			if err != nil {
				return err
			}
			ln, ok := lr.listener()
			if !ok {
				return core.BadResourcef("listener %s already closed", lr.addr)
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_net_accept", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_net_accept", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				conn, err := ln.Accept()
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				ch := s.Resources.Add(&connResource{conn: conn})
				return core.External(ch), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_net_connect",
		Arity:        1,
		Blocking:     true,
		Cap:          core.CapNet,
		CapTargetArg: 0,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			addr, err := args[0].AsString()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_net_connect", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				var d net.Dialer
				conn, err := d.DialContext(ctx, "tcp", addr)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				h := s.Resources.Add(&connResource{conn: conn})
				return core.External(h), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_net_read",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			n, err := args[1].AsU32()
			if err != nil {
				return err
			}
			cr, err := restable.Get[*connResource](s.Resources, h)
			if err != nil {
				return err
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_net_read", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_net_read", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				buf := make([]byte, n)
				read, err := cr.conn.Read(buf)
				if read > 0 {
					return core.Buffer(buf[:read]), nil
				}
				if err == io.EOF {
					return core.Null(), nil
				}
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.Buffer(nil), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_net_write",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			data, err := args[1].BytesCopy()
			if err != nil {
				return err
			}
			cr, err := restable.Get[*connResource](s.Resources, h)
			if err != nil {
				return err
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_net_write", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_net_write", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				written, err := cr.conn.Write(data)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.U32(uint32(written)), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_dns_resolve",
		Arity:        1,
		Blocking:     true,
		Cap:          core.CapNet,
		CapTargetArg: 0,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			host, err := args[0].AsString()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_dns_resolve", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				addrs, err := net.DefaultResolver.LookupHost(ctx, host)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				out, merr := json.Marshal(addrs)
				if merr != nil {
					return core.Value{}, core.IoError(merr)
				}
				return core.Str(string(out)), nil
			})
			return nil
		},
	})
}
