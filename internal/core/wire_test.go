package core

import (
	"bytes"
	"math"
	"testing"
)

func TestWireRoundTrip(t *testing.T) {
	cases := []Value{
		Undefined(),
		Null(),
		Bool(true),
		Bool(false),
		I32(-42),
		I32(math.MinInt32),
		U32(0),
		U32(math.MaxUint32),
		F64(3.14159),
		F64(math.Inf(1)),
		Str(""),
		Str("héllo wörld"),
		Buffer([]byte{0, 1, 2, 255}),
		Buffer(nil),
		External(Handle(4097)),
		ErrValue(ErrBadResource, "resource closed"),
		ErrValue(ErrTypeMismatch, "expected string"),
	}
	for _, want := range cases {
		got, err := DecodeWire(EncodeWire(want))
		if err != nil {
			t.Fatalf("round trip %v: %v", want, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip mismatch: sent %v got %v", want, got)
		}
	}
}

func TestWireNonFiniteFloats(t *testing.T) {
	got, err := DecodeWire(EncodeWire(F64(math.NaN())))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, err := got.AsF64()
	if err != nil || !math.IsNaN(f) {
		t.Fatalf("NaN did not survive: %v %v", f, err)
	}
}

func TestWireBorrowedBufferCopiesOnEncode(t *testing.T) {
	backing := []byte("mutable")
	v := BorrowedBuffer(backing)
	enc := EncodeWire(v)
	backing[0] = 'X'
	got, err := DecodeWire(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotBytes, err := got.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if !bytes.Equal(gotBytes, []byte("mutable")) {
		t.Fatalf("borrowed buffer mutated across boundary: %q", gotBytes)
	}
}

func TestWireArgsRoundTrip(t *testing.T) {
	args := []Value{Str("path"), U32(4096), Bool(false)}
	dec, err := DecodeWireArgs(EncodeWireArgs(args))
	if err != nil {
		t.Fatalf("args round trip: %v", err)
	}
	if len(dec) != len(args) {
		t.Fatalf("got %d args, want %d", len(dec), len(args))
	}
	for i := range args {
		if !dec[i].Equal(args[i]) {
			t.Fatalf("arg %d mismatch: %v vs %v", i, dec[i], args[i])
		}
	}
}

func TestWireRejectsNonIntegral(t *testing.T) {
	for _, s := range []string{
		`{"t":"i32","n":1.5}`,
		`{"t":"u32","n":-1}`,
		`{"t":"i32","n":2147483648}`,
		`{"t":"ext","n":0.5}`,
	} {
		if _, err := DecodeWire(s); err == nil {
			t.Fatalf("decode %s: expected range error", s)
		}
	}
}

func TestWireRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		`{"t":"what"}`,
		`{"t":"buf","s":"not base64!!"}`,
		`not json`,
		`{"t":"str"}`,
	} {
		if _, err := DecodeWire(s); err == nil {
			t.Fatalf("decode %s: expected error", s)
		}
	}
	if _, err := DecodeWireArgs(`{"t":"str","s":"x"}`); err == nil {
		t.Fatal("args decode of non-array: expected error")
	}
}

func TestWireErrorClassSurvives(t *testing.T) {
	got, err := DecodeWire(EncodeWire(ErrValue(ErrRange, "too big")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	kind, msg, ok := got.AsError()
	if !ok || kind != ErrRange || msg != "too big" {
		t.Fatalf("got %v %q %v", kind, msg, ok)
	}
}
