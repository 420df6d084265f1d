package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/paramctl/internal/protocol/tlv"
	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

func TestValidateParamValueRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldName, "RTL_ALT"),
		tlv.F64(FieldValue, 1500),
		tlv.U8(FieldType, 5),
		tlv.U32(FieldIndex, 3),
	}
	if err := Validate(MsgParamValue, fields); err != nil {
		t.Fatalf("validate param value: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldName, "RTL_ALT"),
		tlv.F64(FieldValue, 1500),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgParamSet, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgParamSet, []tlv.Field{tlv.String(FieldName, "RTL_ALT")})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldValue || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldName, "RTL_ALT"),
		tlv.U32(FieldValue, 1500),
	}
	err := Validate(MsgParamSet, fields)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.FieldID != FieldValue || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNestedRecords(t *testing.T) {
	testlog.Start(t)
	entry := []tlv.Field{tlv.String(FieldName, "RTL_ALT"), tlv.F64(FieldValue, 1)}
	if err := ValidateNested(MsgParamBatchSet, FieldEntry, entry); err != nil {
		t.Fatalf("entry: %v", err)
	}
	result := []tlv.Field{tlv.String(FieldName, "RTL_ALT")}
	var ve ValidationError
	if err := ValidateNested(MsgParamBatchResult, FieldResult, result); !errors.As(err, &ve) || ve.FieldID != FieldSucceeded {
		t.Fatalf("expected missing succeeded, got %v", err)
	}
}
