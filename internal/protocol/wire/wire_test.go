package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/protocol/schema"
	"github.com/danmuck/ubind/internal/testutil/testlog"
	"github.com/danmuck/ubind/internal/value"
)

func roundTrip(t *testing.T, env Envelope) Envelope {
	t.Helper()
	raw, err := EncodeFrame(env, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode %T: %v", env.Message, err)
	}
	f, err := frame.ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read %T: %v", env.Message, err)
	}
	out, err := DecodeFrame(f)
	if err != nil {
		t.Fatalf("decode %T: %v", env.Message, err)
	}
	return out
}

func TestInvokeAndResultCorrelation(t *testing.T) {
	testlog.Start(t)
	in := roundTrip(t, Envelope{ID: 17, Message: InvokeFunction{
		Owner:  "Foo",
		Method: "add",
		Args:   []value.Value{value.Float(5), value.String("x")},
	}})
	inv, ok := in.Message.(InvokeFunction)
	if !ok || in.ID != 17 || in.Response {
		t.Fatalf("unexpected envelope: %+v", in)
	}
	if len(inv.Args) != 2 || inv.Args[0].Float() != 5 || inv.Args[1].Str() != "x" {
		t.Fatalf("args=%v", inv.Args)
	}

	out := roundTrip(t, Envelope{ID: 17, Response: true, Error: true, Message: FunctionResult{
		Owner:  "Foo",
		Method: "add",
		Error:  "boom",
	}})
	res := out.Message.(FunctionResult)
	if !out.Response || !out.Error || res.Error != "boom" || !res.Value.IsVoid() {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestOptionalFields(t *testing.T) {
	testlog.Start(t)
	out := roundTrip(t, Envelope{Message: RegisterTimer{PeriodMillis: 200, Owner: "Foo", Method: "update"}})
	if rt := out.Message.(RegisterTimer); rt.HandleID != "" || rt.PeriodMillis != 200 {
		t.Fatalf("default slot timer: %+v", rt)
	}
	out = roundTrip(t, Envelope{Message: Instantiate{ClassName: "Foo"}})
	if inst := out.Message.(Instantiate); inst.RequestedName != "" {
		t.Fatalf("requested name=%q", inst.RequestedName)
	}
	out = roundTrip(t, Envelope{Message: InstantiateResult{ClassName: "Foo", ObjectName: "foo1"}})
	if ir := out.Message.(InstantiateResult); ir.ObjectName != "foo1" || ir.Error != "" {
		t.Fatalf("instantiate result: %+v", ir)
	}
}

func TestNestedValues(t *testing.T) {
	testlog.Start(t)
	v := value.FromDictionary(value.Dictionary{
		"img": value.FromImage(value.Image{Width: 2, Height: 1, Format: "rgb", Data: []byte{1, 2, 3, 4, 5, 6}}),
		"snd": value.FromSound(value.Sound{Channels: 2, Rate: 44100, SampleSize: 16, Format: "wav", Data: []byte{9}}),
		"bin": value.FromBinary(value.Binary{Header: "raw", Data: []byte{7, 7}}),
		"lst": value.FromList(value.List{value.Void(), value.Float(-1.5), value.String("")}),
	})
	out := roundTrip(t, Envelope{Message: SetVariable{Variable: "Foo.x", Value: v}})
	if got := out.Message.(SetVariable).Value; !got.Equal(v) {
		t.Fatalf("value mismatch: %s vs %s", got, v)
	}
}

func TestValidateBeforeEncode(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeFrame(Envelope{Message: RegisterVariable{Owner: "Foo"}}, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected missing local_name error")
	}
	if _, err := EncodeFrame(Envelope{Message: RegisterNotify{Kind: 9, Variable: "v", Owner: "o", Method: "m"}}, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected invalid kind error")
	}
	if _, err := EncodeFrame(Envelope{}, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected nil message error")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeFrame(frame.New(250, 1, 0, nil))
	var ve schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDecodeValueMalformed(t *testing.T) {
	testlog.Start(t)
	cases := map[string][]byte{
		"empty":         {},
		"short float":   {byte(value.KindFloat), 0, 0},
		"unknown kind":  {200},
		"trailing":      {byte(value.KindVoid), 1},
		"huge string":   {byte(value.KindString), 0xFF, 0xFF, 0xFF, 0xFF},
		"huge list":     {byte(value.KindList), 0x7F, 0xFF, 0xFF, 0xFF},
		"truncated key": {byte(value.KindDictionary), 0, 0, 0, 1, 0, 0, 0, 4, 'a'},
	}
	for name, raw := range cases {
		if _, err := DecodeValue(raw); !errors.Is(err, ErrMalformedValue) {
			t.Fatalf("%s: expected ErrMalformedValue, got %v", name, err)
		}
	}

	deep := []byte{}
	for i := 0; i < maxValueDepth+2; i++ {
		deep = append(deep, byte(value.KindList), 0, 0, 0, 1)
	}
	deep = append(deep, byte(value.KindVoid))
	if _, err := DecodeValue(deep); !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected depth rejection, got %v", err)
	}
}

func TestDecodeValuesCount(t *testing.T) {
	testlog.Start(t)
	raw := AppendValues(nil, []value.Value{value.Float(1), value.String("a")})
	vs, err := DecodeValues(raw)
	if err != nil || len(vs) != 2 {
		t.Fatalf("values=%v err=%v", vs, err)
	}
	if _, err := DecodeValues([]byte{0, 0, 0, 3, byte(value.KindVoid)}); !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected short sequence error, got %v", err)
	}
}
