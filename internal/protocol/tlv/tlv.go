// Package tlv encodes message payloads as a flat sequence of
// id/type/length/value fields.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderLen is id(2) + type(1) + length(4).
const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrMissingField     = errors.New("tlv: missing field")
	ErrFieldType        = errors.New("tlv: field type mismatch")
)

const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeF64    uint8 = 8
	// TypeValue carries one encoded exchangeable value.
	TypeValue uint8 = 9
	// TypeValues carries a length-prefixed sequence of encoded values.
	TypeValues uint8 = 10
)

// TypeName is used by diagnostics and the decode tool.
func TypeName(t uint8) string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeF64:
		return "f64"
	case TypeValue:
		return "value"
	case TypeValues:
		return "values"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// Fields is a decoded payload. Lookups return the first field with an id.
type Fields []Field

func AppendField(dst []byte, f Field) []byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = f.Type
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...)
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = AppendField(out, f)
	}
	return out
}

// DecodeFields splits payload into fields. Unknown ids and types are kept.
func DecodeFields(payload []byte) (Fields, error) {
	var fields Fields
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func (fs Fields) Get(id uint16) (Field, bool) {
	for _, f := range fs {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func (fs Fields) typed(id uint16, want uint8) ([]byte, error) {
	f, ok := fs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	if f.Type != want {
		return nil, fmt.Errorf("%w: field %d got %s want %s", ErrFieldType, id, TypeName(f.Type), TypeName(want))
	}
	return f.Value, nil
}

func (fs Fields) String(id uint16) (string, error) {
	b, err := fs.typed(id, TypeString)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// OptionalString returns "" when the field is absent.
func (fs Fields) OptionalString(id uint16) (string, error) {
	if _, ok := fs.Get(id); !ok {
		return "", nil
	}
	return fs.String(id)
}

func (fs Fields) U8(id uint16) (uint8, error) {
	b, err := fs.typed(id, TypeU8)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("tlv: invalid u8 length: %d", len(b))
	}
	return b[0], nil
}

func (fs Fields) U32(id uint16) (uint32, error) {
	b, err := fs.typed(id, TypeU32)
	if err != nil {
		return 0, err
	}
	return U32FromBytes(b)
}

func (fs Fields) U64(id uint16) (uint64, error) {
	b, err := fs.typed(id, TypeU64)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("tlv: invalid u64 length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (fs Fields) F64(id uint16) (float64, error) {
	b, err := fs.typed(id, TypeF64)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("tlv: invalid f64 length: %d", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (fs Fields) Bytes(id uint16, typ uint8) ([]byte, error) {
	return fs.typed(id, typ)
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: invalid u32 length: %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// Builder accumulates fields in insertion order.
type Builder struct {
	fields []Field
}

func (b *Builder) String(id uint16, s string) *Builder {
	b.fields = append(b.fields, Field{ID: id, Type: TypeString, Value: []byte(s)})
	return b
}

func (b *Builder) U8(id uint16, v uint8) *Builder {
	b.fields = append(b.fields, Field{ID: id, Type: TypeU8, Value: []byte{v}})
	return b
}

func (b *Builder) U32(id uint16, v uint32) *Builder {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	b.fields = append(b.fields, Field{ID: id, Type: TypeU32, Value: buf})
	return b
}

func (b *Builder) U64(id uint16, v uint64) *Builder {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	b.fields = append(b.fields, Field{ID: id, Type: TypeU64, Value: buf})
	return b
}

func (b *Builder) F64(id uint16, v float64) *Builder {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	b.fields = append(b.fields, Field{ID: id, Type: TypeF64, Value: buf})
	return b
}

func (b *Builder) Raw(id uint16, typ uint8, v []byte) *Builder {
	b.fields = append(b.fields, Field{ID: id, Type: typ, Value: v})
	return b
}

func (b *Builder) Fields() []Field { return b.fields }

func (b *Builder) Encode() []byte { return EncodeFields(b.fields) }
