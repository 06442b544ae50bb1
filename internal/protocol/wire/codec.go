package wire

import (
	"bytes"
	"fmt"

	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/protocol/schema"
	"github.com/danmuck/ubind/internal/protocol/tlv"
	"github.com/danmuck/ubind/internal/value"
)

// Envelope pairs a message with its correlation id and reply flags.
type Envelope struct {
	ID       uint64
	Response bool
	Error    bool
	Message  Message
}

func (e Envelope) flags() uint8 {
	var f uint8
	if e.Response {
		f |= frame.FlagIsResponse
	}
	if e.Error {
		f |= frame.FlagIsError
	}
	return f
}

// ToFrame validates and encodes env into a frame.
func ToFrame(env Envelope) (frame.Frame, error) {
	if env.Message == nil {
		return frame.Frame{}, fmt.Errorf("wire: nil message")
	}
	if err := env.Message.Validate(); err != nil {
		return frame.Frame{}, err
	}
	var b tlv.Builder
	env.Message.appendFields(&b)
	fields := b.Fields()
	typ := env.Message.MessageType()
	if err := schema.Validate(typ, fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.New(typ, env.ID, env.flags(), tlv.EncodeFields(fields)), nil
}

// EncodeFrame returns the complete wire bytes for env.
func EncodeFrame(env Envelope, limits frame.Limits) ([]byte, error) {
	f, err := ToFrame(env)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame turns a frame back into a typed envelope.
func DecodeFrame(f frame.Frame) (Envelope, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	typ := f.Header.MessageType
	if err := schema.Validate(typ, fields); err != nil {
		return Envelope{}, err
	}
	dec, ok := decoders[typ]
	if !ok {
		return Envelope{}, fmt.Errorf("wire: no decoder for %s", schema.Name(typ))
	}
	msg, err := dec(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: decode %s: %w", schema.Name(typ), err)
	}
	if err := msg.Validate(); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:       f.Header.MessageID,
		Response: f.Header.IsResponse(),
		Error:    f.Header.IsError(),
		Message:  msg,
	}, nil
}

// fieldReader collects the first decode error so decoders read straight through.
type fieldReader struct {
	fs  tlv.Fields
	err error
}

func (r *fieldReader) str(id uint16) string {
	if r.err != nil {
		return ""
	}
	s, err := r.fs.String(id)
	r.err = err
	return s
}

func (r *fieldReader) optStr(id uint16) string {
	if r.err != nil {
		return ""
	}
	s, err := r.fs.OptionalString(id)
	r.err = err
	return s
}

func (r *fieldReader) u8(id uint16) uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.fs.U8(id)
	r.err = err
	return v
}

func (r *fieldReader) u32(id uint16) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.fs.U32(id)
	r.err = err
	return v
}

func (r *fieldReader) value(id uint16) value.Value {
	if r.err != nil {
		return value.Void()
	}
	b, err := r.fs.Bytes(id, tlv.TypeValue)
	if err != nil {
		r.err = err
		return value.Void()
	}
	v, err := DecodeValue(b)
	r.err = err
	return v
}

func (r *fieldReader) values(id uint16) []value.Value {
	if r.err != nil {
		return nil
	}
	b, err := r.fs.Bytes(id, tlv.TypeValues)
	if err != nil {
		r.err = err
		return nil
	}
	vs, err := DecodeValues(b)
	r.err = err
	return vs
}

func decodeWith(build func(r *fieldReader) Message) func(tlv.Fields) (Message, error) {
	return func(fs tlv.Fields) (Message, error) {
		r := &fieldReader{fs: fs}
		msg := build(r)
		if r.err != nil {
			return nil, r.err
		}
		return msg, nil
	}
}

var decoders = map[uint16]func(tlv.Fields) (Message, error){
	schema.MsgRegisterFunction: decodeWith(func(r *fieldReader) Message {
		return RegisterFunction{
			Owner:      r.str(schema.FieldOwner),
			Method:     r.str(schema.FieldMethod),
			Signature:  r.str(schema.FieldSignature),
			ReturnType: r.str(schema.FieldReturnType),
			Arity:      r.u8(schema.FieldArity),
		}
	}),
	schema.MsgRegisterVariable: decodeWith(func(r *fieldReader) Message {
		return RegisterVariable{Owner: r.str(schema.FieldOwner), LocalName: r.str(schema.FieldLocalName)}
	}),
	schema.MsgRegisterNotify: decodeWith(func(r *fieldReader) Message {
		return RegisterNotify{
			Kind:     NotifyKind(r.u8(schema.FieldNotifyKind)),
			Variable: r.str(schema.FieldVariable),
			Owner:    r.str(schema.FieldOwner),
			Method:   r.str(schema.FieldMethod),
			Arity:    r.u8(schema.FieldArity),
		}
	}),
	schema.MsgRegisterTimer: decodeWith(func(r *fieldReader) Message {
		return RegisterTimer{
			PeriodMillis: r.u32(schema.FieldPeriodMillis),
			Owner:        r.str(schema.FieldOwner),
			Method:       r.str(schema.FieldMethod),
			HandleID:     r.optStr(schema.FieldHandleID),
		}
	}),
	schema.MsgSetVariable: decodeWith(func(r *fieldReader) Message {
		return SetVariable{Variable: r.str(schema.FieldVariable), Value: r.value(schema.FieldValue)}
	}),
	schema.MsgRequestVariable: decodeWith(func(r *fieldReader) Message {
		return RequestVariable{Variable: r.str(schema.FieldVariable)}
	}),
	schema.MsgEmitEvent: decodeWith(func(r *fieldReader) Message {
		return EmitEvent{Channel: r.str(schema.FieldChannel), Args: r.values(schema.FieldArgs)}
	}),
	schema.MsgGetProperty: decodeWith(func(r *fieldReader) Message {
		return GetProperty{Variable: r.str(schema.FieldVariable), Property: r.str(schema.FieldProperty)}
	}),
	schema.MsgSetProperty: decodeWith(func(r *fieldReader) Message {
		return SetProperty{
			Variable: r.str(schema.FieldVariable),
			Property: r.str(schema.FieldProperty),
			Value:    r.value(schema.FieldValue),
		}
	}),
	schema.MsgFetchVariable: decodeWith(func(r *fieldReader) Message {
		return FetchVariable{Variable: r.str(schema.FieldVariable)}
	}),
	schema.MsgFunctionResult: decodeWith(func(r *fieldReader) Message {
		return FunctionResult{
			Owner:  r.str(schema.FieldOwner),
			Method: r.str(schema.FieldMethod),
			Value:  r.value(schema.FieldValue),
			Error:  r.optStr(schema.FieldError),
		}
	}),
	schema.MsgUnregisterTimer: decodeWith(func(r *fieldReader) Message {
		return UnregisterTimer{HandleID: r.str(schema.FieldHandleID)}
	}),
	schema.MsgInstantiateResult: decodeWith(func(r *fieldReader) Message {
		return InstantiateResult{
			ClassName:  r.str(schema.FieldClassName),
			ObjectName: r.optStr(schema.FieldObjectName),
			Error:      r.optStr(schema.FieldError),
		}
	}),
	schema.MsgInstantiate: decodeWith(func(r *fieldReader) Message {
		return Instantiate{ClassName: r.str(schema.FieldClassName), RequestedName: r.optStr(schema.FieldRequestedName)}
	}),
	schema.MsgInvokeFunction: decodeWith(func(r *fieldReader) Message {
		return InvokeFunction{
			Owner:  r.str(schema.FieldOwner),
			Method: r.str(schema.FieldMethod),
			Args:   r.values(schema.FieldArgs),
		}
	}),
	schema.MsgVariableChanged: decodeWith(func(r *fieldReader) Message {
		return VariableChanged{Variable: r.str(schema.FieldVariable), Value: r.value(schema.FieldValue)}
	}),
	schema.MsgVariableRequested: decodeWith(func(r *fieldReader) Message {
		return VariableRequested{Variable: r.str(schema.FieldVariable), Value: r.value(schema.FieldValue)}
	}),
	schema.MsgTimerTick: decodeWith(func(r *fieldReader) Message {
		return TimerTick{HandleID: r.str(schema.FieldHandleID)}
	}),
	schema.MsgDestroy: decodeWith(func(r *fieldReader) Message {
		return Destroy{Object: r.str(schema.FieldObjectName)}
	}),
	schema.MsgVariableValue: decodeWith(func(r *fieldReader) Message {
		return VariableValue{Variable: r.str(schema.FieldVariable), Value: r.value(schema.FieldValue)}
	}),
	schema.MsgPropertyValue: decodeWith(func(r *fieldReader) Message {
		return PropertyValue{
			Variable: r.str(schema.FieldVariable),
			Property: r.str(schema.FieldProperty),
			Value:    r.value(schema.FieldValue),
		}
	}),
}
