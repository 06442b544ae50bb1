package value

import (
	"errors"
	"fmt"
)

var ErrUnsupportedType = errors.New("value: unsupported go type")

// Of wraps a Go value into the exchangeable family.
func Of(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Void(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case Binary:
		return FromBinary(v), nil
	case Image:
		return FromImage(v), nil
	case Sound:
		return FromSound(v), nil
	case List:
		return FromList(v), nil
	case Dictionary:
		return FromDictionary(v), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
}

// MustOf is Of for literals known to be supported.
func MustOf(x any) Value {
	v, err := Of(x)
	if err != nil {
		panic(err)
	}
	return v
}
