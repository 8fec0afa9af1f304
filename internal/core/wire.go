package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// The wire codec is the engine-neutral half of value marshalling: both
// engine adapters move op arguments and results across the boundary as
// tagged JSON, with buffer payloads base64-encoded. Zero-copy buffer views
// exist only on the Go side (BorrowedBuffer); anything crossing an engine
// heap is copied by construction.

type wireValue struct {
	T    string   `json:"t"`
	B    *bool    `json:"b,omitempty"`
	N    *float64 `json:"n,omitempty"`
	S    *string  `json:"s,omitempty"`
	Name string   `json:"name,omitempty"`
	Msg  string   `json:"msg,omitempty"`
}

func toWire(v Value) wireValue {
	switch v.kind {
	case KindUndefined:
		return wireValue{T: "undefined"}
	case KindNull:
		return wireValue{T: "null"}
	case KindBool:
		b := v.num != 0
		return wireValue{T: "bool", B: &b}
	case KindI32:
		n := v.num
		return wireValue{T: "i32", N: &n}
	case KindU32:
		n := v.num
		return wireValue{T: "u32", N: &n}
	case KindF64:
		// encoding/json refuses non-finite floats, so those ride in the
		// string slot instead.
		if math.IsInf(v.num, 1) {
			s := "Infinity"
			return wireValue{T: "f64", S: &s}
		}
		if math.IsInf(v.num, -1) {
			s := "-Infinity"
			return wireValue{T: "f64", S: &s}
		}
		if math.IsNaN(v.num) {
			s := "NaN"
			return wireValue{T: "f64", S: &s}
		}
		n := v.num
		return wireValue{T: "f64", N: &n}
	case KindString:
		s := v.str
		return wireValue{T: "str", S: &s}
	case KindBuffer:
		s := base64.StdEncoding.EncodeToString(v.buf)
		return wireValue{T: "buf", S: &s}
	case KindExternal:
		n := float64(v.handle)
		return wireValue{T: "ext", N: &n}
	case KindError:
		return wireValue{T: "err", Name: v.errKind.ScriptClass(), Msg: v.str}
	}
	return wireValue{T: "undefined"}
}

func fromWire(w wireValue) (Value, error) {
	switch w.T {
	case "undefined":
		return Undefined(), nil
	case "null":
		return Null(), nil
	case "bool":
		if w.B == nil {
			return Value{}, TypeMismatchf("bool wire value missing payload")
		}
		return Bool(*w.B), nil
	case "i32":
		if w.N == nil || *w.N != math.Trunc(*w.N) || *w.N < math.MinInt32 || *w.N > math.MaxInt32 {
			return Value{}, RangeErrorf("i32 wire value out of range")
		}
		return I32(int32(*w.N)), nil
	case "u32":
		if w.N == nil || *w.N != math.Trunc(*w.N) || *w.N < 0 || *w.N > math.MaxUint32 {
			return Value{}, RangeErrorf("u32 wire value out of range")
		}
		return U32(uint32(*w.N)), nil
	case "f64":
		if w.N == nil {
			if w.S != nil {
				switch *w.S {
				case "Infinity":
					return F64(math.Inf(1)), nil
				case "-Infinity":
					return F64(math.Inf(-1)), nil
				case "NaN":
					return F64(math.NaN()), nil
				}
			}
			return Value{}, TypeMismatchf("f64 wire value missing payload")
		}
		return F64(*w.N), nil
	case "str":
		if w.S == nil {
			return Value{}, TypeMismatchf("str wire value missing payload")
		}
		return Str(*w.S), nil
	case "buf":
		if w.S == nil {
			return Value{}, TypeMismatchf("buf wire value missing payload")
		}
		b, err := base64.StdEncoding.DecodeString(*w.S)
		if err != nil {
			return Value{}, TypeMismatchf("buf wire value is not valid base64: %v", err)
		}
		return Buffer(b), nil
	case "ext":
		if w.N == nil || *w.N != math.Trunc(*w.N) || *w.N < 0 || *w.N > math.MaxUint32 {
			return Value{}, RangeErrorf("ext wire value out of range")
		}
		return External(Handle(*w.N)), nil
	case "err":
		return ErrValue(errorKindFromClass(w.Name), w.Msg), nil
	}
	return Value{}, TypeMismatchf("unknown wire tag %q", w.T)
}

func errorKindFromClass(class string) ErrorKind {
	switch class {
	case "TypeError":
		return ErrTypeMismatch
	case "RangeError":
		return ErrRange
	case "":
		return ErrIo
	default:
		return ErrorKind(class)
	}
}

// EncodeWire serializes one value for the engine boundary. Total: any
// Value encodes; errors crossing as values keep their class and message.
func EncodeWire(v Value) string {
	b, err := json.Marshal(toWire(v))
	if err != nil {
		// Only unreachable marshal failures (no channels or funcs in
		// wireValue); treat as the programmer error it would be.
		panic(fmt.Sprintf("core: wire encode: %v", err))
	}
	return string(b)
}

// DecodeWire parses one value coming back from the engine boundary.
func DecodeWire(s string) (Value, error) {
	var w wireValue
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Value{}, TypeMismatchf("malformed wire value: %v", err)
	}
	return fromWire(w)
}

// EncodeWireArgs serializes an argument vector.
func EncodeWireArgs(args []Value) string {
	ws := make([]wireValue, len(args))
	for i, v := range args {
		ws[i] = toWire(v)
	}
	b, err := json.Marshal(ws)
	if err != nil {
		panic(fmt.Sprintf("core: wire encode args: %v", err))
	}
	return string(b)
}

// DecodeWireArgs parses an argument vector sent by an engine adapter.
func DecodeWireArgs(s string) ([]Value, error) {
	var ws []wireValue
	if err := json.Unmarshal([]byte(s), &ws); err != nil {
		return nil, TypeMismatchf("malformed op arguments: %v", err)
	}
	out := make([]Value, len(ws))
	for i, w := range ws {
		v, err := fromWire(w)
		if err != nil {
			return nil, TypeMismatchf("argument %d: %v", i, err)
		}
		out[i] = v
	}
	return out, nil
}
