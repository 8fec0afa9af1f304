package core

import (
	"bytes"
	"fmt"
	"math"
)

// Handle is an opaque reference to an entry in an isolate's resource table.
// Handle 0 is reserved and always invalid. The integer has no arithmetic
// meaning on the script side.
type Handle uint32

// Kind tags a Value variant.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindI32
	KindU32
	KindF64
	KindString
	KindBuffer
	KindExternal
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindI32:
		return "i32"
	case KindU32:
		return "u32"
	case KindF64:
		return "number"
	case KindString:
		return "string"
	case KindBuffer:
		return "buffer"
	case KindExternal:
		return "external"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Value is the engine-neutral representation of a script value crossing the
// op boundary. Engine adapters (internal/v8engine, internal/qjsengine)
// convert their native values to and from this type; everything above the
// adapters only ever sees Values.
type Value struct {
	kind     Kind
	num      float64
	str      string
	buf      []byte
	borrowed bool
	handle   Handle
	errKind  ErrorKind
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{kind: KindUndefined} }

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// I32 wraps a signed 32-bit integer.
func I32(n int32) Value { return Value{kind: KindI32, num: float64(n)} }

// U32 wraps an unsigned 32-bit integer.
func U32(n uint32) Value { return Value{kind: KindU32, num: float64(n)} }

// F64 wraps a float.
func F64(n float64) Value { return Value{kind: KindF64, num: n} }

// Str wraps a string.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Buffer wraps owned bytes. The Value takes logical ownership; callers must
// not mutate b afterwards.
func Buffer(b []byte) Value { return Value{kind: KindBuffer, buf: b} }

// BorrowedBuffer wraps a byte view that remains owned by the engine heap.
// Native functions receiving a borrowed buffer must not retain it past the
// call; ops that need the bytes later must copy (see Bytes vs BytesCopy).
func BorrowedBuffer(b []byte) Value {
	return Value{kind: KindBuffer, buf: b, borrowed: true}
}

// External wraps a resource handle.
func External(h Handle) Value { return Value{kind: KindExternal, handle: h} }

// ErrValue wraps an error so it can cross the boundary as a value. The
// caller translates it to a thrown script exception.
func ErrValue(kind ErrorKind, message string) Value {
	return Value{kind: KindError, errKind: kind, str: message}
}

// Kind reports the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether the value is undefined.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsNullish reports whether the value is undefined or null.
func (v Value) IsNullish() bool {
	return v.kind == KindUndefined || v.kind == KindNull
}

// Borrowed reports whether a buffer value is an engine-owned view.
func (v Value) Borrowed() bool { return v.borrowed }

// AsBool coerces to bool.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, TypeMismatchf("expected boolean, got %s", v.kind)
	}
	return v.num != 0, nil
}

// AsI32 coerces to int32. Numeric values that do not fit the target width
// fail with RangeError rather than truncating silently.
func (v Value) AsI32() (int32, error) {
	switch v.kind {
	case KindI32:
		return int32(v.num), nil
	case KindU32, KindF64:
		if v.num != math.Trunc(v.num) || v.num < math.MinInt32 || v.num > math.MaxInt32 {
			return 0, RangeErrorf("number %v does not fit in i32", v.num)
		}
		return int32(v.num), nil
	}
	return 0, TypeMismatchf("expected number, got %s", v.kind)
}

// AsU32 coerces to uint32 with the same range discipline as AsI32.
func (v Value) AsU32() (uint32, error) {
	switch v.kind {
	case KindU32:
		return uint32(v.num), nil
	case KindI32, KindF64:
		if v.num != math.Trunc(v.num) || v.num < 0 || v.num > math.MaxUint32 {
			return 0, RangeErrorf("number %v does not fit in u32", v.num)
		}
		return uint32(v.num), nil
	}
	return 0, TypeMismatchf("expected number, got %s", v.kind)
}

// AsF64 coerces to float64.
func (v Value) AsF64() (float64, error) {
	switch v.kind {
	case KindI32, KindU32, KindF64:
		return v.num, nil
	}
	return 0, TypeMismatchf("expected number, got %s", v.kind)
}

// AsString coerces to string.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", TypeMismatchf("expected string, got %s", v.kind)
	}
	return v.str, nil
}

// Bytes returns the buffer contents without copying. For borrowed buffers
// the returned slice is only valid for the duration of the current op call.
func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBuffer {
		return nil, TypeMismatchf("expected buffer, got %s", v.kind)
	}
	return v.buf, nil
}

// BytesCopy returns an owned copy of the buffer contents. Ops that retain
// bytes past the call must use this instead of Bytes.
func (v Value) BytesCopy() ([]byte, error) {
	b, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// AsHandle coerces to a resource handle. Externals and u32 numbers are
// accepted since script passes handles back as plain integers.
func (v Value) AsHandle() (Handle, error) {
	if v.kind == KindExternal {
		return v.handle, nil
	}
	n, err := v.AsU32()
	if err != nil {
		return 0, TypeMismatchf("expected resource handle, got %s", v.kind)
	}
	return Handle(n), nil
}

// AsError returns the error payload of an error value.
func (v Value) AsError() (ErrorKind, string, bool) {
	if v.kind != KindError {
		return "", "", false
	}
	return v.errKind, v.str, true
}

// Equal compares two values. Buffers compare by content, not identity, and
// a borrowed view equals its owned copy.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool, KindI32, KindU32, KindF64:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBuffer:
		return bytes.Equal(v.buf, o.buf)
	case KindExternal:
		return v.handle == o.handle
	case KindError:
		return v.errKind == o.errKind && v.str == o.str
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.num != 0)
	case KindI32:
		return fmt.Sprintf("%d", int32(v.num))
	case KindU32:
		return fmt.Sprintf("%d", uint32(v.num))
	case KindF64:
		return fmt.Sprintf("%v", v.num)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBuffer:
		return fmt.Sprintf("buffer[%d]", len(v.buf))
	case KindExternal:
		return fmt.Sprintf("external(%d)", v.handle)
	case KindError:
		return fmt.Sprintf("%s: %s", v.errKind, v.str)
	}
	return "unknown"
}
