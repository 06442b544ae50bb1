// Package schema names the message types exchanged with the remote runtime
// and the fields each one must carry.
package schema

import (
	"fmt"

	"github.com/danmuck/ubind/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Outbound: core to remote runtime.
const (
	MsgRegisterFunction  uint16 = 1
	MsgRegisterVariable  uint16 = 2
	MsgRegisterNotify    uint16 = 3
	MsgRegisterTimer     uint16 = 4
	MsgSetVariable       uint16 = 5
	MsgRequestVariable   uint16 = 6
	MsgEmitEvent         uint16 = 7
	MsgGetProperty       uint16 = 8
	MsgSetProperty       uint16 = 9
	MsgFetchVariable     uint16 = 10
	MsgFunctionResult    uint16 = 11
	MsgUnregisterTimer   uint16 = 12
	MsgInstantiateResult uint16 = 13
)

// Inbound: remote runtime to core.
const (
	MsgInstantiate       uint16 = 32
	MsgInvokeFunction    uint16 = 33
	MsgVariableChanged   uint16 = 34
	MsgVariableRequested uint16 = 35
	MsgTimerTick         uint16 = 36
	MsgDestroy           uint16 = 37
	MsgVariableValue     uint16 = 38
	MsgPropertyValue     uint16 = 39
)

const (
	FieldOwner         uint16 = 1
	FieldMethod        uint16 = 2
	FieldVariable      uint16 = 3
	FieldLocalName     uint16 = 4
	FieldSignature     uint16 = 5
	FieldReturnType    uint16 = 6
	FieldArity         uint16 = 7
	FieldNotifyKind    uint16 = 8
	FieldPeriodMillis  uint16 = 9
	FieldHandleID      uint16 = 10
	FieldValue         uint16 = 11
	FieldArgs          uint16 = 12
	FieldChannel       uint16 = 13
	FieldProperty      uint16 = 14
	FieldClassName     uint16 = 15
	FieldRequestedName uint16 = 16
	FieldObjectName    uint16 = 17
	FieldError         uint16 = 18
)

var messageNames = map[uint16]string{
	MsgRegisterFunction:  "RegisterFunction",
	MsgRegisterVariable:  "RegisterVariable",
	MsgRegisterNotify:    "RegisterNotify",
	MsgRegisterTimer:     "RegisterTimer",
	MsgSetVariable:       "SetVariable",
	MsgRequestVariable:   "RequestVariable",
	MsgEmitEvent:         "EmitEvent",
	MsgGetProperty:       "GetProperty",
	MsgSetProperty:       "SetProperty",
	MsgFetchVariable:     "FetchVariable",
	MsgFunctionResult:    "FunctionResult",
	MsgUnregisterTimer:   "UnregisterTimer",
	MsgInstantiateResult: "InstantiateResult",
	MsgInstantiate:       "Instantiate",
	MsgInvokeFunction:    "InvokeFunction",
	MsgVariableChanged:   "VariableChanged",
	MsgVariableRequested: "VariableRequested",
	MsgTimerTick:         "TimerTick",
	MsgDestroy:           "Destroy",
	MsgVariableValue:     "VariableValue",
	MsgPropertyValue:     "PropertyValue",
}

var fieldNames = map[uint16]string{
	FieldOwner:         "owner",
	FieldMethod:        "method",
	FieldVariable:      "variable",
	FieldLocalName:     "local_name",
	FieldSignature:     "signature",
	FieldReturnType:    "return_type",
	FieldArity:         "arity",
	FieldNotifyKind:    "notify_kind",
	FieldPeriodMillis:  "period_ms",
	FieldHandleID:      "handle_id",
	FieldValue:         "value",
	FieldArgs:          "args",
	FieldChannel:       "channel",
	FieldProperty:      "property",
	FieldClassName:     "class_name",
	FieldRequestedName: "requested_name",
	FieldObjectName:    "object_name",
	FieldError:         "error",
}

// FieldName returns the snake_case name of a field id.
func FieldName(id uint16) string {
	if n, ok := fieldNames[id]; ok {
		return n
	}
	return fmt.Sprintf("field(%d)", id)
}

// Name returns the message type's name, or a numeric placeholder.
func Name(messageType uint16) string {
	if n, ok := messageNames[messageType]; ok {
		return n
	}
	return fmt.Sprintf("message(%d)", messageType)
}

// Inbound reports whether messageType travels from the remote runtime to the core.
func Inbound(messageType uint16) bool {
	return messageType >= MsgInstantiate
}

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
		return fmt.Sprintf("schema: %s: %s", Name(e.MessageType), e.Reason)
	}
	return fmt.Sprintf("schema: %s field=%d: %s", Name(e.MessageType), e.FieldID, e.Reason)
}

var requirements = map[uint16][]Requirement{
	MsgRegisterFunction: {
		{FieldOwner, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
		{FieldSignature, tlv.TypeString},
		{FieldReturnType, tlv.TypeString},
		{FieldArity, tlv.TypeU8},
	},
	MsgRegisterVariable: {
		{FieldOwner, tlv.TypeString},
		{FieldLocalName, tlv.TypeString},
	},
	MsgRegisterNotify: {
		{FieldNotifyKind, tlv.TypeU8},
		{FieldVariable, tlv.TypeString},
		{FieldOwner, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
		{FieldArity, tlv.TypeU8},
	},
	MsgRegisterTimer: {
		{FieldPeriodMillis, tlv.TypeU32},
		{FieldOwner, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
	},
	MsgSetVariable: {
		{FieldVariable, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
	MsgRequestVariable: {
		{FieldVariable, tlv.TypeString},
	},
	MsgEmitEvent: {
		{FieldChannel, tlv.TypeString},
		{FieldArgs, tlv.TypeValues},
	},
	MsgGetProperty: {
		{FieldVariable, tlv.TypeString},
		{FieldProperty, tlv.TypeString},
	},
	MsgSetProperty: {
		{FieldVariable, tlv.TypeString},
		{FieldProperty, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
	MsgFetchVariable: {
		{FieldVariable, tlv.TypeString},
	},
	MsgFunctionResult: {
		{FieldOwner, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
	},
	MsgUnregisterTimer: {
		{FieldHandleID, tlv.TypeString},
	},
	MsgInstantiateResult: {
		{FieldClassName, tlv.TypeString},
	},
	MsgInstantiate: {
		{FieldClassName, tlv.TypeString},
	},
	MsgInvokeFunction: {
		{FieldOwner, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
		{FieldArgs, tlv.TypeValues},
	},
	MsgVariableChanged: {
		{FieldVariable, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
	MsgVariableRequested: {
		{FieldVariable, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
	MsgTimerTick: {
		{FieldHandleID, tlv.TypeString},
	},
	MsgDestroy: {
		{FieldObjectName, tlv.TypeString},
	},
	MsgVariableValue: {
		{FieldVariable, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
	MsgPropertyValue: {
		{FieldVariable, tlv.TypeString},
		{FieldProperty, tlv.TypeString},
		{FieldValue, tlv.TypeValue},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint16, fields []tlv.Field) error {
	log.Trace().Str("message", Name(messageType)).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint16("message_type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.Fields(fields).Get(req.ID)
		if !found {
			log.Error().Str("message", Name(messageType)).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Str("message", Name(messageType)).
				Uint16("field_id", req.ID).
				Str("got", tlv.TypeName(f.Type)).
				Str("want", tlv.TypeName(req.Type)).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
