// Package schema names the parameter link message types and field ids and
// checks that decoded messages carry their required fields.
package schema

import (
	"fmt"

	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/protocol/tlv"
)

// Message type IDs.
const (
	MsgParamRequestList uint16 = 1
	MsgParamValue       uint16 = 2
	MsgParamListEnd     uint16 = 3
	MsgParamSet         uint16 = 4
	MsgParamBatchSet    uint16 = 5
	MsgParamBatchResult uint16 = 6
	MsgError            uint16 = 7
)

// Field IDs.
const (
	FieldName  uint16 = 1
	FieldValue uint16 = 2
	FieldType  uint16 = 3
	FieldIndex uint16 = 4
	FieldCount uint16 = 5

	FieldEntry     uint16 = 100
	FieldResult    uint16 = 101
	FieldSucceeded uint16 = 102
	FieldConfirmed uint16 = 103
	FieldError     uint16 = 104

	FieldCode    uint16 = 200
	FieldMessage uint16 = 201
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint16
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint16][]Requirement{
	MsgParamRequestList: {},
	MsgParamValue: {
		{FieldName, tlv.TypeString},
		{FieldValue, tlv.TypeF64},
		{FieldType, tlv.TypeU8},
	},
	MsgParamListEnd: {
		{FieldCount, tlv.TypeU32},
	},
	MsgParamSet: {
		{FieldName, tlv.TypeString},
		{FieldValue, tlv.TypeF64},
	},
	MsgParamBatchSet:    {},
	MsgParamBatchResult: {},
	MsgError: {
		{FieldCode, tlv.TypeString},
		{FieldMessage, tlv.TypeString},
	},
}

// nested lists the required fields of records carried inside a bytes field.
var nested = map[uint16][]Requirement{
	FieldEntry: {
		{FieldName, tlv.TypeString},
		{FieldValue, tlv.TypeF64},
	},
	FieldResult: {
		{FieldName, tlv.TypeString},
		{FieldSucceeded, tlv.TypeBool},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint16, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logging.Warnf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	if err := check(messageType, reqs, fields); err != nil {
		return err
	}
	logging.Debugf("schema.Validate ok message_type=%d fields=%d", messageType, len(fields))
	return nil
}

// ValidateNested checks one record found under recordField of messageType.
func ValidateNested(messageType, recordField uint16, fields []tlv.Field) error {
	reqs, ok := nested[recordField]
	if !ok {
		return ValidationError{MessageType: messageType, FieldID: recordField, Reason: "unknown record field"}
	}
	return check(messageType, reqs, fields)
}

func check(messageType uint16, reqs []Requirement, fields []tlv.Field) error {
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Warnf("schema.Validate missing field message_type=%d field_id=%d", messageType, req.ID)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Warnf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
