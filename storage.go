package strand

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/ops"
	"github.com/strandjs/strand/internal/restable"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL
)`

// kvResource is a SQLite-backed key/value store. SQLite serializes writers
// at the file level with coarse lock errors, so access goes through a
// TaskQueue: ops on the same store complete in dispatch order instead of
// failing with SQLITE_BUSY under concurrency.
type kvResource struct {
	db    *sql.DB
	queue *eventloop.TaskQueue
	path  string
}

func (r *kvResource) Name() string { return "kv:" + r.path }

func (r *kvResource) Close() error { return r.db.Close() }

func openKV(dataDir, name string) (*kvResource, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, name+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv schema: %w", err)
	}
	return &kvResource{db: db, queue: eventloop.NewTaskQueue(), path: path}, nil
}

// withPermit runs fn holding the store's FIFO permit.
func (r *kvResource) withPermit(ctx context.Context, fn func() (core.Value, error)) (core.Value, error) {
	permit, err := r.queue.Acquire(ctx)
	if err != nil {
		return core.Value{}, core.Canceled("kv access")
	}
	defer permit.Release()
	return fn()
}

// kvArgs is the common prefix decode for ops taking (handle, key).
func kvArgs(s *ops.State, args []core.Value) (*kvResource, string, error) {
	h, err := args[0].AsHandle()
	if err != nil {
		return nil, "", err
	}
	kv, err := restable.Get[*kvResource](s.Resources, h)
	if err != nil {
		return nil, "", err
	}
	key, err := args[1].AsString()
	if err != nil {
		return nil, "", err
	}
	return kv, key, nil
}

// registerKVOps wires the persistent key/value store.
func registerKVOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:         "op_kv_open",
		Arity:        1,
		MutatesState: true,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			name, err := args[0].AsString()
			if err != nil {
				return core.Value{}, err
			}
			if name == "" || filepath.Base(name) != name {
				return core.Value{}, core.TypeMismatchf("store name must be a bare identifier, got %q", name)
			}
			// The check target is the resolved database path, so a write
			// grant covering the data dir is sufficient.
			if err := s.Check(core.CapWrite, filepath.Join(s.Config.DataDir, name+".db")); err != nil {
				return core.Value{}, err
			}
			kv, err := openKV(s.Config.DataDir, name)
			if err != nil {
				return core.Value{}, core.IoError(err)
			}
			h := s.Resources.Add(kv)
			return core.External(h), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_kv_get",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			kv, key, err := kvArgs(s, args)
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_kv_get", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				return kv.withPermit(ctx, func() (core.Value, error) {
					var v []byte
					err := kv.db.QueryRowContext(ctx, "SELECT v FROM kv WHERE k = ?", key).Scan(&v)
					if err == sql.ErrNoRows {
						return core.Null(), nil
					}
					if err != nil {
						return core.Value{}, core.IoError(err)
					}
					return core.Buffer(v), nil
				})
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_kv_set",
		Arity:    3,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			kv, key, err := kvArgs(s, args)
			if err != nil {
				return err
			}
			val, err := args[2].BytesCopy()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_kv_set", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				return kv.withPermit(ctx, func() (core.Value, error) {
					_, err := kv.db.ExecContext(ctx,
						"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
						key, val)
					if err != nil {
						return core.Value{}, core.IoError(err)
					}
					return core.Undefined(), nil
				})
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_kv_delete",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			kv, key, err := kvArgs(s, args)
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_kv_delete", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				return kv.withPermit(ctx, func() (core.Value, error) {
					res, err := kv.db.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", key)
					if err != nil {
						return core.Value{}, core.IoError(err)
					}
					n, _ := res.RowsAffected()
					return core.Bool(n > 0), nil
				})
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_kv_list",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			kv, prefix, err := kvArgs(s, args)
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_kv_list", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				return kv.withPermit(ctx, func() (core.Value, error) {
					rows, err := kv.db.QueryContext(ctx,
						"SELECT k FROM kv WHERE k GLOB ? ORDER BY k", prefix+"*")
					if err != nil {
						return core.Value{}, core.IoError(err)
					}
					defer rows.Close()
					keys := []string{}
					for rows.Next() {
						var k string
						if err := rows.Scan(&k); err != nil {
							return core.Value{}, core.IoError(err)
						}
						keys = append(keys, k)
					}
					if err := rows.Err(); err != nil {
						return core.Value{}, core.IoError(err)
					}
					out, merr := json.Marshal(keys)
					if merr != nil {
						return core.Value{}, core.IoError(merr)
					}
					return core.Str(string(out)), nil
				})
			})
			return nil
		},
	})
}
