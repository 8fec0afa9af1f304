package strand

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/ops"
	"github.com/strandjs/strand/internal/restable"
)

// fileResource wraps an open file. Closing the table entry closes the fd,
// which also unblocks any read or write parked on the blocking pool.
type fileResource struct {
	f    *os.File
	path string
}

func (r *fileResource) Name() string { return "file:" + r.path }

func (r *fileResource) Close() error { return r.f.Close() }

// watchResource bridges a resource's cancel handle to a pending op:
// closing the resource while the op is in flight rejects the promise with
// Canceled instead of letting it race the teardown. op must be the op's
// own cancel handle so the watcher exits when the op is torn down first.
// The returned fulfill re-checks the resource handle before delivering, so
// a close that unblocks the underlying fd surfaces as Canceled even when
// the pool task's error reaches fulfill before the watcher runs.
func watchResource(res, op *core.CancelHandle, what string, fulfill func(core.Value, error)) func(core.Value, error) {
	go func() {
		select {
		case <-res.Done():
			fulfill(core.Undefined(), core.Canceled(what))
		case <-op.Done():
		}
	}()
	return func(v core.Value, err error) {
		if res.Canceled() {
			fulfill(core.Undefined(), core.Canceled(what))
			return
		}
		fulfill(v, err)
	}
}

// registerFSOps wires file open/read/write/seek/stat.
func registerFSOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:         "op_fs_open",
		Arity:        2,
		MutatesState: true,
		Cap:          core.CapRead,
		CapTargetArg: 0,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			path, err := args[0].AsString()
			if err != nil {
				return core.Value{}, err
			}
			writable, err := args[1].AsBool()
			if err != nil {
				return core.Value{}, err
			}

			flags := os.O_RDONLY
			if writable {
				if err := s.Check(core.CapWrite, path); err != nil {
					return core.Value{}, err
				}
				flags = os.O_RDWR | os.O_CREATE
			}
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return core.Value{}, core.IoError(err)
			}
			h := s.Resources.Add(&fileResource{f: f, path: path})
			return core.External(h), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_fs_read",
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
			file, err := restable.Get[*fileResource](s.Resources, h)
			if err != nil {
				return err
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_fs_read", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_fs_read", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				buf := make([]byte, n)
				read, err := file.f.Read(buf)
				if err == io.EOF {
					return core.Null(), nil
				}
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.Buffer(buf[:read]), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_fs_write",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			h, err := args[0].AsHandle()
			if err != nil {
				return err
			}
			// The bytes outlive this call on the pool, so take a copy.
			data, err := args[1].BytesCopy()
			if err != nil {
				return err
			}
			file, err := restable.Get[*fileResource](s.Resources, h)
			if err != nil {
				return err
			}
			resCancel, err := s.Resources.CancelHandle(h)
			if err != nil {
				return err
			}
			fulfill = watchResource(resCancel, cancel, "op_fs_write", fulfill)

			eventloop.GoWithCancel(s.Pool, "op_fs_write", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				written, err := file.f.Write(data)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.U32(uint32(written)), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:  "op_fs_seek",
		Arity: 3,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			offset, err := args[1].AsF64()
			if err != nil {
				return core.Value{}, err
			}
			whence, err := args[2].AsI32()
			if err != nil {
				return core.Value{}, err
			}
			if whence < io.SeekStart || whence > io.SeekEnd {
				return core.Value{}, core.RangeErrorf("invalid whence %d", whence)
			}
			file, err := restable.Get[*fileResource](s.Resources, h)
			if err != nil {
				return core.Value{}, err
			}
			pos, err := file.f.Seek(int64(offset), int(whence))
			if err != nil {
				return core.Value{}, core.IoError(err)
			}
			return core.F64(float64(pos)), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_fs_stat",
		Arity:        1,
		Blocking:     true,
		Cap:          core.CapRead,
		CapTargetArg: 0,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			path, err := args[0].AsString()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_fs_stat", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				info, err := os.Stat(path)
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				out, err := json.Marshal(map[string]any{
					"size":     info.Size(),
					"isDir":    info.IsDir(),
					"modified": info.ModTime().UnixMilli(),
				})
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.Str(string(out)), nil
			})
			return nil
		},
	})
}
