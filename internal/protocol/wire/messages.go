// Package wire defines the typed messages exchanged with the remote runtime
// and their framed encoding.
package wire

import (
	"fmt"
	"strings"

	"github.com/danmuck/ubind/internal/protocol/schema"
	"github.com/danmuck/ubind/internal/protocol/tlv"
	"github.com/danmuck/ubind/internal/value"
)

// Message is one typed payload. Implementations are plain value structs.
type Message interface {
	MessageType() uint16
	Validate() error
	appendFields(b *tlv.Builder)
}

// NotifyKind selects which variable event a notify binding reacts to.
type NotifyKind uint8

const (
	OnChange  NotifyKind = 1
	OnRequest NotifyKind = 2
)

func (k NotifyKind) String() string {
	switch k {
	case OnChange:
		return "change"
	case OnRequest:
		return "request"
	default:
		return fmt.Sprintf("notify(%d)", uint8(k))
	}
}

func required(msg string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%s missing %s", msg, pairs[i])
		}
	}
	return nil
}

type RegisterFunction struct {
	Owner      string
	Method     string
	Signature  string
	ReturnType string
	Arity      uint8
}

func (RegisterFunction) MessageType() uint16 { return schema.MsgRegisterFunction }

func (m RegisterFunction) Validate() error {
	return required("register_function", "owner", m.Owner, "method", m.Method, "signature", m.Signature, "return_type", m.ReturnType)
}

func (m RegisterFunction) appendFields(b *tlv.Builder) {
	b.String(schema.FieldOwner, m.Owner).
		String(schema.FieldMethod, m.Method).
		String(schema.FieldSignature, m.Signature).
		String(schema.FieldReturnType, m.ReturnType).
		U8(schema.FieldArity, m.Arity)
}

type RegisterVariable struct {
	Owner     string
	LocalName string
}

func (RegisterVariable) MessageType() uint16 { return schema.MsgRegisterVariable }

func (m RegisterVariable) Validate() error {
	return required("register_variable", "owner", m.Owner, "local_name", m.LocalName)
}

func (m RegisterVariable) appendFields(b *tlv.Builder) {
	b.String(schema.FieldOwner, m.Owner).String(schema.FieldLocalName, m.LocalName)
}

type RegisterNotify struct {
	Kind     NotifyKind
	Variable string
	Owner    string
	Method   string
	Arity    uint8
}

func (RegisterNotify) MessageType() uint16 { return schema.MsgRegisterNotify }

func (m RegisterNotify) Validate() error {
	if m.Kind != OnChange && m.Kind != OnRequest {
		return fmt.Errorf("register_notify invalid kind %d", m.Kind)
	}
	if m.Arity > 1 {
		return fmt.Errorf("register_notify invalid arity %d", m.Arity)
	}
	return required("register_notify", "variable", m.Variable, "owner", m.Owner, "method", m.Method)
}

func (m RegisterNotify) appendFields(b *tlv.Builder) {
	b.U8(schema.FieldNotifyKind, uint8(m.Kind)).
		String(schema.FieldVariable, m.Variable).
		String(schema.FieldOwner, m.Owner).
		String(schema.FieldMethod, m.Method).
		U8(schema.FieldArity, m.Arity)
}

// RegisterTimer announces a periodic callback. HandleID is empty for an
// owner's default update slot.
type RegisterTimer struct {
	PeriodMillis uint32
	Owner        string
	Method       string
	HandleID     string
}

func (RegisterTimer) MessageType() uint16 { return schema.MsgRegisterTimer }

func (m RegisterTimer) Validate() error {
	return required("register_timer", "owner", m.Owner, "method", m.Method)
}

func (m RegisterTimer) appendFields(b *tlv.Builder) {
	b.U32(schema.FieldPeriodMillis, m.PeriodMillis).
		String(schema.FieldOwner, m.Owner).
		String(schema.FieldMethod, m.Method)
	if m.HandleID != "" {
		b.String(schema.FieldHandleID, m.HandleID)
	}
}

type SetVariable struct {
	Variable string
	Value    value.Value
}

func (SetVariable) MessageType() uint16 { return schema.MsgSetVariable }

func (m SetVariable) Validate() error { return required("set_variable", "variable", m.Variable) }

func (m SetVariable) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}

type RequestVariable struct {
	Variable string
}

func (RequestVariable) MessageType() uint16 { return schema.MsgRequestVariable }

func (m RequestVariable) Validate() error { return required("request_variable", "variable", m.Variable) }

func (m RequestVariable) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable)
}

type EmitEvent struct {
	Channel string
	Args    []value.Value
}

func (EmitEvent) MessageType() uint16 { return schema.MsgEmitEvent }

func (m EmitEvent) Validate() error { return required("emit_event", "channel", m.Channel) }

func (m EmitEvent) appendFields(b *tlv.Builder) {
	b.String(schema.FieldChannel, m.Channel).Raw(schema.FieldArgs, tlv.TypeValues, AppendValues(nil, m.Args))
}

type GetProperty struct {
	Variable string
	Property string
}

func (GetProperty) MessageType() uint16 { return schema.MsgGetProperty }

func (m GetProperty) Validate() error {
	return required("get_property", "variable", m.Variable, "property", m.Property)
}

func (m GetProperty) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).String(schema.FieldProperty, m.Property)
}

type SetProperty struct {
	Variable string
	Property string
	Value    value.Value
}

func (SetProperty) MessageType() uint16 { return schema.MsgSetProperty }

func (m SetProperty) Validate() error {
	return required("set_property", "variable", m.Variable, "property", m.Property)
}

func (m SetProperty) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).
		String(schema.FieldProperty, m.Property).
		Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}

// FetchVariable asks for the current value; the reply is a VariableValue
// carrying the same message id.
type FetchVariable struct {
	Variable string
}

func (FetchVariable) MessageType() uint16 { return schema.MsgFetchVariable }

func (m FetchVariable) Validate() error { return required("fetch_variable", "variable", m.Variable) }

func (m FetchVariable) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable)
}

// FunctionResult answers an InvokeFunction. Error is set when the call failed.
type FunctionResult struct {
	Owner  string
	Method string
	Value  value.Value
	Error  string
}

func (FunctionResult) MessageType() uint16 { return schema.MsgFunctionResult }

func (m FunctionResult) Validate() error {
	return required("function_result", "owner", m.Owner, "method", m.Method)
}

func (m FunctionResult) appendFields(b *tlv.Builder) {
	b.String(schema.FieldOwner, m.Owner).
		String(schema.FieldMethod, m.Method).
		Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
	if m.Error != "" {
		b.String(schema.FieldError, m.Error)
	}
}

type UnregisterTimer struct {
	HandleID string
}

func (UnregisterTimer) MessageType() uint16 { return schema.MsgUnregisterTimer }

func (m UnregisterTimer) Validate() error { return required("unregister_timer", "handle_id", m.HandleID) }

func (m UnregisterTimer) appendFields(b *tlv.Builder) {
	b.String(schema.FieldHandleID, m.HandleID)
}

// InstantiateResult answers an Instantiate with the created object's name
// or the construction error.
type InstantiateResult struct {
	ClassName  string
	ObjectName string
	Error      string
}

func (InstantiateResult) MessageType() uint16 { return schema.MsgInstantiateResult }

func (m InstantiateResult) Validate() error {
	if err := required("instantiate_result", "class_name", m.ClassName); err != nil {
		return err
	}
	if m.ObjectName == "" && m.Error == "" {
		return fmt.Errorf("instantiate_result needs object_name or error")
	}
	return nil
}

func (m InstantiateResult) appendFields(b *tlv.Builder) {
	b.String(schema.FieldClassName, m.ClassName)
	if m.ObjectName != "" {
		b.String(schema.FieldObjectName, m.ObjectName)
	}
	if m.Error != "" {
		b.String(schema.FieldError, m.Error)
	}
}

type Instantiate struct {
	ClassName     string
	RequestedName string
}

func (Instantiate) MessageType() uint16 { return schema.MsgInstantiate }

func (m Instantiate) Validate() error { return required("instantiate", "class_name", m.ClassName) }

func (m Instantiate) appendFields(b *tlv.Builder) {
	b.String(schema.FieldClassName, m.ClassName)
	if m.RequestedName != "" {
		b.String(schema.FieldRequestedName, m.RequestedName)
	}
}

type InvokeFunction struct {
	Owner  string
	Method string
	Args   []value.Value
}

func (InvokeFunction) MessageType() uint16 { return schema.MsgInvokeFunction }

func (m InvokeFunction) Validate() error {
	return required("invoke_function", "owner", m.Owner, "method", m.Method)
}

func (m InvokeFunction) appendFields(b *tlv.Builder) {
	b.String(schema.FieldOwner, m.Owner).
		String(schema.FieldMethod, m.Method).
		Raw(schema.FieldArgs, tlv.TypeValues, AppendValues(nil, m.Args))
}

type VariableChanged struct {
	Variable string
	Value    value.Value
}

func (VariableChanged) MessageType() uint16 { return schema.MsgVariableChanged }

func (m VariableChanged) Validate() error { return required("variable_changed", "variable", m.Variable) }

func (m VariableChanged) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}

type VariableRequested struct {
	Variable string
	Value    value.Value
}

func (VariableRequested) MessageType() uint16 { return schema.MsgVariableRequested }

func (m VariableRequested) Validate() error {
	return required("variable_requested", "variable", m.Variable)
}

func (m VariableRequested) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}

type TimerTick struct {
	HandleID string
}

func (TimerTick) MessageType() uint16 { return schema.MsgTimerTick }

func (m TimerTick) Validate() error { return required("timer_tick", "handle_id", m.HandleID) }

func (m TimerTick) appendFields(b *tlv.Builder) {
	b.String(schema.FieldHandleID, m.HandleID)
}

type Destroy struct {
	Object string
}

func (Destroy) MessageType() uint16 { return schema.MsgDestroy }

func (m Destroy) Validate() error { return required("destroy", "object", m.Object) }

func (m Destroy) appendFields(b *tlv.Builder) {
	b.String(schema.FieldObjectName, m.Object)
}

// VariableValue answers a FetchVariable.
type VariableValue struct {
	Variable string
	Value    value.Value
}

func (VariableValue) MessageType() uint16 { return schema.MsgVariableValue }

func (m VariableValue) Validate() error { return required("variable_value", "variable", m.Variable) }

func (m VariableValue) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}

// PropertyValue answers a GetProperty.
type PropertyValue struct {
	Variable string
	Property string
	Value    value.Value
}

func (PropertyValue) MessageType() uint16 { return schema.MsgPropertyValue }

func (m PropertyValue) Validate() error {
	return required("property_value", "variable", m.Variable, "property", m.Property)
}

func (m PropertyValue) appendFields(b *tlv.Builder) {
	b.String(schema.FieldVariable, m.Variable).
		String(schema.FieldProperty, m.Property).
		Raw(schema.FieldValue, tlv.TypeValue, AppendValue(nil, m.Value))
}
