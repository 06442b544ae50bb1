// Package value owns the exchangeable value family that crosses the local/remote
// boundary: numbers, strings, binary blobs (raw, image, sound), lists and dictionaries.
package value

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the shape stored in a Value.
type Kind uint8

const (
	KindVoid Kind = iota
	KindFloat
	KindString
	KindBinary
	KindImage
	KindSound
	KindList
	KindDictionary
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindImage:
		return "image"
	case KindSound:
		return "sound"
	case KindList:
		return "list"
	case KindDictionary:
		return "dictionary"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Binary is an opaque blob with a free-form header.
type Binary struct {
	Header string
	Data   []byte
}

// Image is a binary blob describing a frame.
type Image struct {
	Width  uint32
	Height uint32
	Format string
	Data   []byte
}

// Sound is a binary blob describing an audio buffer.
type Sound struct {
	Channels   uint16
	Rate       uint32
	SampleSize uint16
	Format     string
	Data       []byte
}

// List is an ordered sequence of values.
type List []Value

// Dictionary maps string keys to values.
type Dictionary map[string]Value

// Value is the generic exchangeable value wrapper. The zero Value is void.
type Value struct {
	kind Kind
	num  float64
	str  string
	bin  *Binary
	img  *Image
	snd  *Sound
	list List
	dict Dictionary
}

func Void() Value { return Value{} }

func Float(f float64) Value { return Value{kind: KindFloat, num: f} }

func Int(i int64) Value { return Value{kind: KindFloat, num: float64(i)} }

func Bool(b bool) Value {
	if b {
		return Float(1)
	}
	return Float(0)
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func FromBinary(b Binary) Value {
	b.Data = cloneBytes(b.Data)
	return Value{kind: KindBinary, bin: &b}
}

func FromImage(img Image) Value {
	img.Data = cloneBytes(img.Data)
	return Value{kind: KindImage, img: &img}
}

func FromSound(s Sound) Value {
	s.Data = cloneBytes(s.Data)
	return Value{kind: KindSound, snd: &s}
}

func FromList(items List) Value {
	out := make(List, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

func FromDictionary(d Dictionary) Value {
	out := make(Dictionary, len(d))
	maps.Copy(out, d)
	return Value{kind: KindDictionary, dict: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsVoid() bool { return v.kind == KindVoid }

// Float returns the numeric payload; strings are parsed, other kinds yield 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.num
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func (v Value) Int() int64 { return int64(v.Float()) }

func (v Value) Bool() bool { return v.Float() != 0 }

// Str returns the textual payload; numbers are formatted.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	default:
		return ""
	}
}

func (v Value) Binary() (Binary, bool) {
	if v.kind != KindBinary || v.bin == nil {
		return Binary{}, false
	}
	out := *v.bin
	out.Data = cloneBytes(out.Data)
	return out, true
}

func (v Value) Image() (Image, bool) {
	if v.kind != KindImage || v.img == nil {
		return Image{}, false
	}
	out := *v.img
	out.Data = cloneBytes(out.Data)
	return out, true
}

func (v Value) Sound() (Sound, bool) {
	if v.kind != KindSound || v.snd == nil {
		return Sound{}, false
	}
	out := *v.snd
	out.Data = cloneBytes(out.Data)
	return out, true
}

func (v Value) List() (List, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make(List, len(v.list))
	copy(out, v.list)
	return out, true
}

func (v Value) Dictionary() (Dictionary, bool) {
	if v.kind != KindDictionary {
		return nil, false
	}
	out := make(Dictionary, len(v.dict))
	maps.Copy(out, v.dict)
	return out, true
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindVoid:
		return true
	case KindFloat:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBinary:
		return v.bin.Header == o.bin.Header && string(v.bin.Data) == string(o.bin.Data)
	case KindImage:
		a, b := v.img, o.img
		return a.Width == b.Width && a.Height == b.Height && a.Format == b.Format &&
			string(a.Data) == string(b.Data)
	case KindSound:
		a, b := v.snd, o.snd
		return a.Channels == b.Channels && a.Rate == b.Rate && a.SampleSize == b.SampleSize &&
			a.Format == b.Format && string(a.Data) == string(b.Data)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for k, a := range v.dict {
			b, ok := o.dict[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBinary:
		return fmt.Sprintf("BIN %d %s", len(v.bin.Data), v.bin.Header)
	case KindImage:
		return fmt.Sprintf("IMAGE %s %dx%d (%d bytes)", v.img.Format, v.img.Width, v.img.Height, len(v.img.Data))
	case KindSound:
		return fmt.Sprintf("SOUND %s %dch %dHz (%d bytes)", v.snd.Format, v.snd.Channels, v.snd.Rate, len(v.snd.Data))
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindDictionary:
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + " => " + v.dict[k].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.kind.String()
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
