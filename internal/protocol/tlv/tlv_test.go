package tlv

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)

	in := []Field{
		String(1, "RTL_ALT"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestTypedAccessors(t *testing.T) {
	testlog.Start(t)

	fields, err := DecodeFields(EncodeFields([]Field{
		U8(1, 7),
		U32(2, 1500),
		Bool(3, true),
		F64(4, -0.25),
		Nested(5, []Field{String(1, "inner")}),
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, err := fields[0].AsU8(); err != nil || v != 7 {
		t.Fatalf("u8: %v %v", v, err)
	}
	if v, err := fields[1].AsU32(); err != nil || v != 1500 {
		t.Fatalf("u32: %v %v", v, err)
	}
	if v, err := fields[2].AsBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := fields[3].AsF64(); err != nil || v != -0.25 {
		t.Fatalf("f64: %v %v", v, err)
	}
	inner, err := fields[4].AsFields()
	if err != nil || len(inner) != 1 {
		t.Fatalf("nested: %v %v", inner, err)
	}
	if s, _ := inner[0].AsString(); s != "inner" {
		t.Fatalf("nested string: %q", s)
	}
	if _, err := fields[0].AsF64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	bad := Field{ID: 9, Type: TypeF64, Value: []byte{1}}
	if _, err := bad.AsF64(); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
	nan := F64(1, math.NaN())
	if v, _ := nan.AsF64(); !math.IsNaN(v) {
		t.Fatalf("NaN must survive encoding")
	}
}

func TestGetAllKeepsWireOrder(t *testing.T) {
	testlog.Start(t)

	fields := []Field{String(1, "a"), U8(2, 0), String(1, "b")}
	got := GetAll(fields, 1)
	if len(got) != 2 || string(got[0].Value) != "a" || string(got[1].Value) != "b" {
		t.Fatalf("unexpected repeated fields: %+v", got)
	}
	if _, ok := GetField(fields, 3); ok {
		t.Fatalf("missing id must not be found")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)

	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	testlog.Start(t)

	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
