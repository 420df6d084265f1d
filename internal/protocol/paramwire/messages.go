// Package paramwire encodes parameter link messages onto frames.
//
// A ParamRequestList is answered by one ParamValue per parameter followed by
// a ParamListEnd, all carrying the request's message id. A ParamValue with
// message id zero is an unsolicited push.
package paramwire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/protocol/frame"
	"github.com/danmuck/paramctl/internal/protocol/schema"
	"github.com/danmuck/paramctl/internal/protocol/tlv"
)

var ErrUnexpectedMessage = errors.New("paramwire: unexpected message type")

// Error codes carried by MsgError.
const (
	CodeUnknownParam = "unknown_param"
	CodeRejected     = "rejected"
	CodeNotConnected = "not_connected"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

// ParamValue is one parameter report, solicited or pushed.
type ParamValue struct {
	Param params.Param
	Index uint32
	Count uint32
}

// RemoteError is a device-side failure decoded from MsgError.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("paramwire: remote %s: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes back onto device errors.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeUnknownParam:
		return device.ErrUnknownParam
	case CodeRejected:
		return device.ErrRejected
	case CodeNotConnected:
		return device.ErrNotConnected
	default:
		return nil
	}
}

// CodeFor picks the wire code for a local error.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, device.ErrUnknownParam):
		return CodeUnknownParam
	case errors.Is(err, device.ErrRejected):
		return CodeRejected
	case errors.Is(err, device.ErrNotConnected):
		return CodeNotConnected
	default:
		return CodeInternal
	}
}

func RequestList(id uint64) frame.Frame {
	return frame.New(schema.MsgParamRequestList, id, 0, nil)
}

func Value(id uint64, flags uint16, v ParamValue) frame.Frame {
	fields := []tlv.Field{
		tlv.String(schema.FieldName, v.Param.Name),
		tlv.F64(schema.FieldValue, v.Param.Value),
		tlv.U8(schema.FieldType, uint8(v.Param.Type)),
		tlv.U32(schema.FieldIndex, v.Index),
		tlv.U32(schema.FieldCount, v.Count),
	}
	return frame.New(schema.MsgParamValue, id, flags, tlv.EncodeFields(fields))
}

func ListEnd(id uint64, count uint32) frame.Frame {
	fields := []tlv.Field{tlv.U32(schema.FieldCount, count)}
	return frame.New(schema.MsgParamListEnd, id, frame.FlagIsResponse, tlv.EncodeFields(fields))
}

func Set(id uint64, e params.Entry) frame.Frame {
	fields := []tlv.Field{
		tlv.String(schema.FieldName, e.Name),
		tlv.F64(schema.FieldValue, e.Value),
	}
	return frame.New(schema.MsgParamSet, id, 0, tlv.EncodeFields(fields))
}

func BatchSet(id uint64, entries []params.Entry) frame.Frame {
	fields := make([]tlv.Field, 0, len(entries))
	for _, e := range entries {
		fields = append(fields, tlv.Nested(schema.FieldEntry, []tlv.Field{
			tlv.String(schema.FieldName, e.Name),
			tlv.F64(schema.FieldValue, e.Value),
		}))
	}
	return frame.New(schema.MsgParamBatchSet, id, 0, tlv.EncodeFields(fields))
}

func BatchResult(id uint64, results []params.WriteResult) frame.Frame {
	fields := make([]tlv.Field, 0, len(results))
	for _, r := range results {
		record := []tlv.Field{
			tlv.String(schema.FieldName, r.Name),
			tlv.Bool(schema.FieldSucceeded, r.Succeeded),
		}
		if r.ConfirmedValue != nil {
			record = append(record, tlv.F64(schema.FieldConfirmed, *r.ConfirmedValue))
		}
		if r.Error != "" {
			record = append(record, tlv.String(schema.FieldError, r.Error))
		}
		fields = append(fields, tlv.Nested(schema.FieldResult, record))
	}
	return frame.New(schema.MsgParamBatchResult, id, frame.FlagIsResponse, tlv.EncodeFields(fields))
}

func Error(id uint64, code, message string) frame.Frame {
	fields := []tlv.Field{
		tlv.String(schema.FieldCode, code),
		tlv.String(schema.FieldMessage, message),
	}
	return frame.New(schema.MsgError, id, frame.FlagIsResponse|frame.FlagIsError, tlv.EncodeFields(fields))
}

// ErrorFor encodes err as a MsgError response.
func ErrorFor(id uint64, err error) frame.Frame {
	return Error(id, CodeFor(err), err.Error())
}

func fieldsOf(f frame.Frame, want uint16) ([]tlv.Field, error) {
	if f.Header.MessageType != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrUnexpectedMessage, f.Header.MessageType, want)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func DecodeValue(f frame.Frame) (ParamValue, error) {
	fields, err := fieldsOf(f, schema.MsgParamValue)
	if err != nil {
		return ParamValue{}, err
	}
	name, _ := mustGet(fields, schema.FieldName).AsString()
	value, err := mustGet(fields, schema.FieldValue).AsF64()
	if err != nil {
		return ParamValue{}, err
	}
	rawType, err := mustGet(fields, schema.FieldType).AsU8()
	if err != nil {
		return ParamValue{}, err
	}
	out := ParamValue{Param: params.Param{Name: strings.TrimSpace(name), Value: value, Type: params.Type(rawType)}}
	if fld, ok := tlv.GetField(fields, schema.FieldIndex); ok {
		if out.Index, err = fld.AsU32(); err != nil {
			return ParamValue{}, err
		}
	}
	if fld, ok := tlv.GetField(fields, schema.FieldCount); ok {
		if out.Count, err = fld.AsU32(); err != nil {
			return ParamValue{}, err
		}
	}
	return out, nil
}

func DecodeListEnd(f frame.Frame) (uint32, error) {
	fields, err := fieldsOf(f, schema.MsgParamListEnd)
	if err != nil {
		return 0, err
	}
	return mustGet(fields, schema.FieldCount).AsU32()
}

func DecodeSet(f frame.Frame) (params.Entry, error) {
	fields, err := fieldsOf(f, schema.MsgParamSet)
	if err != nil {
		return params.Entry{}, err
	}
	name, _ := mustGet(fields, schema.FieldName).AsString()
	value, err := mustGet(fields, schema.FieldValue).AsF64()
	if err != nil {
		return params.Entry{}, err
	}
	return params.Entry{Name: strings.TrimSpace(name), Value: value}, nil
}

func DecodeBatchSet(f frame.Frame) ([]params.Entry, error) {
	fields, err := fieldsOf(f, schema.MsgParamBatchSet)
	if err != nil {
		return nil, err
	}
	records := tlv.GetAll(fields, schema.FieldEntry)
	out := make([]params.Entry, 0, len(records))
	for _, rec := range records {
		inner, err := rec.AsFields()
		if err != nil {
			return nil, err
		}
		if err := schema.ValidateNested(schema.MsgParamBatchSet, schema.FieldEntry, inner); err != nil {
			return nil, err
		}
		name, _ := mustGet(inner, schema.FieldName).AsString()
		value, err := mustGet(inner, schema.FieldValue).AsF64()
		if err != nil {
			return nil, err
		}
		out = append(out, params.Entry{Name: strings.TrimSpace(name), Value: value})
	}
	return out, nil
}

func DecodeBatchResult(f frame.Frame) ([]params.WriteResult, error) {
	fields, err := fieldsOf(f, schema.MsgParamBatchResult)
	if err != nil {
		return nil, err
	}
	records := tlv.GetAll(fields, schema.FieldResult)
	out := make([]params.WriteResult, 0, len(records))
	for _, rec := range records {
		inner, err := rec.AsFields()
		if err != nil {
			return nil, err
		}
		if err := schema.ValidateNested(schema.MsgParamBatchResult, schema.FieldResult, inner); err != nil {
			return nil, err
		}
		name, _ := mustGet(inner, schema.FieldName).AsString()
		ok, err := mustGet(inner, schema.FieldSucceeded).AsBool()
		if err != nil {
			return nil, err
		}
		r := params.WriteResult{Name: strings.TrimSpace(name), Succeeded: ok}
		if fld, found := tlv.GetField(inner, schema.FieldConfirmed); found {
			v, err := fld.AsF64()
			if err != nil {
				return nil, err
			}
			r.ConfirmedValue = params.Float64Ptr(v)
		}
		if fld, found := tlv.GetField(inner, schema.FieldError); found {
			r.Error, _ = fld.AsString()
		}
		out = append(out, r)
	}
	return out, nil
}

// DecodeError returns the RemoteError carried by a MsgError frame.
func DecodeError(f frame.Frame) (*RemoteError, error) {
	fields, err := fieldsOf(f, schema.MsgError)
	if err != nil {
		return nil, err
	}
	code, _ := mustGet(fields, schema.FieldCode).AsString()
	msg, _ := mustGet(fields, schema.FieldMessage).AsString()
	return &RemoteError{Code: code, Message: msg}, nil
}

// mustGet is only called for fields schema.Validate already required.
func mustGet(fields []tlv.Field, id uint16) tlv.Field {
	f, _ := tlv.GetField(fields, id)
	return f
}
