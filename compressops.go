package strand

import (
	"bytes"
	"context"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/eventloop"
	"github.com/strandjs/strand/internal/ops"
)

// decompressedSizeLimit guards against decompression bombs.
const decompressedSizeLimit = 128 << 20

// registerCompressOps wires brotli compress/decompress. Both run on the
// blocking pool; compression is CPU work that would otherwise stall the
// cooperative thread.
func registerCompressOps(reg *ops.Registry) {
	reg.MustRegister(ops.Op{
		Name:     "op_compress",
		Arity:    2,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			data, err := args[0].BytesCopy()
			if err != nil {
				return err
			}
			quality, err := args[1].AsI32()
			if err != nil {
				return err
			}
			if quality < brotli.BestSpeed || quality > brotli.BestCompression {
				return core.RangeErrorf("brotli quality %d out of range [%d, %d]",
					quality, brotli.BestSpeed, brotli.BestCompression)
			}
			eventloop.GoWithCancel(s.Pool, "op_compress", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				var buf bytes.Buffer
				w := brotli.NewWriterLevel(&buf, int(quality))
				if _, err := w.Write(data); err != nil {
					return core.Value{}, core.IoError(err)
				}
				if err := w.Close(); err != nil {
					return core.Value{}, core.IoError(err)
				}
				return core.Buffer(buf.Bytes()), nil
			})
			return nil
		},
	})

	reg.MustRegister(ops.Op{
		Name:     "op_decompress",
		Arity:    1,
		Blocking: true,
		AsyncFn: func(s *ops.State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error {
			data, err := args[0].BytesCopy()
			if err != nil {
				return err
			}
			eventloop.GoWithCancel(s.Pool, "op_decompress", cancel, fulfill, func(ctx context.Context) (core.Value, error) {
				r := brotli.NewReader(bytes.NewReader(data))
				out, err := io.ReadAll(io.LimitReader(r, decompressedSizeLimit+1))
				if err != nil {
					return core.Value{}, core.IoError(err)
				}
				if len(out) > decompressedSizeLimit {
					return core.Value{}, core.RangeErrorf("decompressed payload exceeds %d bytes", decompressedSizeLimit)
				}
				return core.Buffer(out), nil
			})
			return nil
		},
	})
}
