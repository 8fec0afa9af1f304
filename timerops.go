package strand

import (
	"time"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/ops"
)

var processStart = time.Now()

// registerTimerOps wires sleep and the monotonic clock.
func registerTimerOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:  "op_sleep",
		Arity: 1,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			ms, err := args[0].AsF64()
			if err != nil {
				return err
			}
			if ms < 0 {
				return core.RangeErrorf("sleep duration must be non-negative, got %v", ms)
			}
			done := make(chan struct{})
			timer := time.AfterFunc(time.Duration(ms*float64(time.Millisecond)), func() {
				close(done)
				fulfill(core.Undefined(), nil)
			})
			go func() {
				select {
				case <-cancel.Done():
					timer.Stop()
				case <-done:
				}
			}()
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name: "op_now",
		Fn: func(s *ops.State, args []core.Value) (core.Value, error) {
			return core.F64(float64(time.Since(processStart)) / float64(time.Millisecond)), nil
		},
		FastFn: func(s *ops.State, args []float64) (float64, bool) {
			return float64(time.Since(processStart)) / float64(time.Millisecond), true
		},
	})
}
