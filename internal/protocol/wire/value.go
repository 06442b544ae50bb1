package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/ubind/internal/value"
)

// maxValueDepth bounds nesting of lists and dictionaries on decode.
const maxValueDepth = 64

var ErrMalformedValue = errors.New("wire: malformed value")

// AppendValue appends the encoding of v: one kind byte followed by a
// kind-specific body. Dictionary keys are written in sorted order.
func AppendValue(dst []byte, v value.Value) []byte {
	dst = append(dst, byte(v.Kind()))
	switch v.Kind() {
	case value.KindFloat:
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(v.Float()))
	case value.KindString:
		dst = appendBytes(dst, []byte(v.Str()))
	case value.KindBinary:
		b, _ := v.Binary()
		dst = appendBytes(dst, []byte(b.Header))
		dst = appendBytes(dst, b.Data)
	case value.KindImage:
		img, _ := v.Image()
		dst = binary.BigEndian.AppendUint32(dst, img.Width)
		dst = binary.BigEndian.AppendUint32(dst, img.Height)
		dst = appendBytes(dst, []byte(img.Format))
		dst = appendBytes(dst, img.Data)
	case value.KindSound:
		snd, _ := v.Sound()
		dst = binary.BigEndian.AppendUint16(dst, snd.Channels)
		dst = binary.BigEndian.AppendUint32(dst, snd.Rate)
		dst = binary.BigEndian.AppendUint16(dst, snd.SampleSize)
		dst = appendBytes(dst, []byte(snd.Format))
		dst = appendBytes(dst, snd.Data)
	case value.KindList:
		items, _ := v.List()
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(items)))
		for _, item := range items {
			dst = AppendValue(dst, item)
		}
	case value.KindDictionary:
		dict, _ := v.Dictionary()
		keys := make([]string, 0, len(dict))
		for k := range dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(keys)))
		for _, k := range keys {
			dst = appendBytes(dst, []byte(k))
			dst = AppendValue(dst, dict[k])
		}
	}
	return dst
}

// AppendValues writes a count followed by each value.
func AppendValues(dst []byte, vs []value.Value) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(vs)))
	for _, v := range vs {
		dst = AppendValue(dst, v)
	}
	return dst
}

// DecodeValue decodes exactly one value from b.
func DecodeValue(b []byte) (value.Value, error) {
	r := valueReader{buf: b}
	v := r.value(0)
	if r.err == nil && r.off != len(r.buf) {
		r.fail("%d trailing bytes", len(r.buf)-r.off)
	}
	return v, r.err
}

// DecodeValues reverses AppendValues.
func DecodeValues(b []byte) ([]value.Value, error) {
	r := valueReader{buf: b}
	n := r.u32()
	if r.err == nil && uint64(n) > uint64(len(b)) {
		r.fail("count %d exceeds payload", n)
	}
	var out []value.Value
	for i := uint32(0); i < n && r.err == nil; i++ {
		out = append(out, r.value(0))
	}
	if r.err == nil && r.off != len(r.buf) {
		r.fail("%d trailing bytes", len(r.buf)-r.off)
	}
	return out, r.err
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

type valueReader struct {
	buf []byte
	off int
	err error
}

func (r *valueReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformedValue}, args...)...)
	}
}

func (r *valueReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.fail("need %d bytes at offset %d", n, r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *valueReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *valueReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *valueReader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.fail("length %d exceeds remaining %d", n, len(r.buf)-r.off)
		return nil
	}
	b := r.take(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *valueReader) value(depth int) value.Value {
	if depth > maxValueDepth {
		r.fail("nesting deeper than %d", maxValueDepth)
		return value.Void()
	}
	kb := r.take(1)
	if kb == nil {
		return value.Void()
	}
	switch value.Kind(kb[0]) {
	case value.KindVoid:
		return value.Void()
	case value.KindFloat:
		b := r.take(8)
		if b == nil {
			return value.Void()
		}
		return value.Float(math.Float64frombits(binary.BigEndian.Uint64(b)))
	case value.KindString:
		return value.String(string(r.bytes()))
	case value.KindBinary:
		header := string(r.bytes())
		data := r.bytes()
		return value.FromBinary(value.Binary{Header: header, Data: data})
	case value.KindImage:
		w := r.u32()
		h := r.u32()
		format := string(r.bytes())
		data := r.bytes()
		return value.FromImage(value.Image{Width: w, Height: h, Format: format, Data: data})
	case value.KindSound:
		ch := r.u16()
		rate := r.u32()
		size := r.u16()
		format := string(r.bytes())
		data := r.bytes()
		return value.FromSound(value.Sound{Channels: ch, Rate: rate, SampleSize: size, Format: format, Data: data})
	case value.KindList:
		n := r.u32()
		if uint64(n) > uint64(len(r.buf)-r.off) {
			r.fail("list count %d exceeds payload", n)
			return value.Void()
		}
		items := make(value.List, 0, n)
		for i := uint32(0); i < n && r.err == nil; i++ {
			items = append(items, r.value(depth+1))
		}
		return value.FromList(items)
	case value.KindDictionary:
		n := r.u32()
		if uint64(n) > uint64(len(r.buf)-r.off) {
			r.fail("dictionary count %d exceeds payload", n)
			return value.Void()
		}
		dict := make(value.Dictionary, n)
		for i := uint32(0); i < n && r.err == nil; i++ {
			k := string(r.bytes())
			dict[k] = r.value(depth + 1)
		}
		return value.FromDictionary(dict)
	default:
		r.fail("unknown kind %d", kb[0])
		return value.Void()
	}
}
