package strand

import (
	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/ops"
	"github.com/strandjs/strand/internal/restable"
)

// registerCoreOps wires the resource lifecycle ops every binding builds on.
func registerCoreOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:         "op_close",
		Arity:        1,
		MutatesState: true,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			if err := s.Resources.Close(h); err != nil {
				return core.Value{}, err
			}
			return core.Undefined(), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_try_close",
		Arity:        1,
		MutatesState: true,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			return core.Bool(s.Resources.Close(h) == nil), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:         "op_shutdown",
		Arity:        1,
		MutatesState: true,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			res, err := s.Resources.GetAny(h)
			if err != nil {
				return core.Value{}, err
			}
			sd, ok := res.(restable.Shutdowner)
			if !ok {
				return core.Value{}, core.TypeMismatchf("resource %q does not support shutdown", res.Name())
			}
			if err := sd.Shutdown(); err != nil {
				return core.Value{}, core.IoError(err)
			}
			return core.Undefined(), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:  "op_resource_name",
		Arity: 1,
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			h, err := args[0].AsHandle()
			if err != nil {
				return core.Value{}, err
			}
			res, err := s.Resources.GetAny(h)
			if err != nil {
				return core.Value{}, err
			}
			return core.Str(res.Name()), nil
		},
	})

	reg.MustRegister(ops.Op{
		Name: "op_resource_count",
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			return core.U32(uint32(s.Resources.Len())), nil
		},
		FastFn: func(s *ops.State, args []float64) (float64, bool) {
			return float64(s.Resources.Len()), true
		},
	})
}
