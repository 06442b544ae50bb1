// Package signature checks that callables offered for binding satisfy the
// contracts of the remote runtime and derives a stable descriptor for them.
package signature

import "strconv"

// Kind tags one parameter or return slot of a bound callable.
type Kind uint8

const (
	KindVoid Kind = iota
	KindValue
	KindBool
	KindByte
	KindChar
	KindDouble
	KindFloat
	KindInt
	KindLong
	KindShort
	KindString
	KindBinary
	KindDictionary
	KindImage
	KindList
	KindSound
	KindVarRef
)

var kindCodes = map[Kind]byte{
	KindVoid:       'v',
	KindValue:      'U',
	KindBool:       'Z',
	KindByte:       'B',
	KindChar:       'C',
	KindDouble:     'D',
	KindFloat:      'F',
	KindInt:        'I',
	KindLong:       'J',
	KindShort:      'S',
	KindString:     'T',
	KindBinary:     'Y',
	KindDictionary: 'M',
	KindImage:      'G',
	KindList:       'L',
	KindSound:      'O',
	KindVarRef:     'R',
}

var kindNames = map[Kind]string{
	KindVoid:       "void",
	KindValue:      "value",
	KindBool:       "bool",
	KindByte:       "byte",
	KindChar:       "char",
	KindDouble:     "double",
	KindFloat:      "float",
	KindInt:        "int",
	KindLong:       "long",
	KindShort:      "short",
	KindString:     "string",
	KindBinary:     "binary",
	KindDictionary: "dictionary",
	KindImage:      "image",
	KindList:       "list",
	KindSound:      "sound",
	KindVarRef:     "varref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Code is the single-letter tag used in canonical signature strings.
func (k Kind) Code() byte {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return '?'
}

// KindFromCode reverses Code.
func KindFromCode(c byte) (Kind, bool) {
	for k, code := range kindCodes {
		if code == c {
			return k, true
		}
	}
	return KindVoid, false
}

// IsPrimitive reports scalar kinds that travel as numbers.
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindBool, KindByte, KindChar, KindDouble, KindFloat, KindInt, KindLong, KindShort:
		return true
	default:
		return false
	}
}

// IsContainer reports the domain container kinds.
func (k Kind) IsContainer() bool {
	switch k {
	case KindBinary, KindDictionary, KindImage, KindList, KindSound:
		return true
	default:
		return false
	}
}

// Dialect selects which exchangeable family a callable may use.
type Dialect uint8

const (
	// DialectGeneric accepts only the generic value wrapper as a parameter.
	DialectGeneric Dialect = iota
	// DialectTyped accepts primitives, strings and the container kinds.
	DialectTyped
)

func (d Dialect) String() string {
	switch d {
	case DialectGeneric:
		return "generic"
	case DialectTyped:
		return "typed"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDialect accepts "generic" or "typed".
func ParseDialect(raw string) (Dialect, bool) {
	switch raw {
	case "generic":
		return DialectGeneric, true
	case "typed":
		return DialectTyped, true
	default:
		return DialectGeneric, false
	}
}

// BindKind is what a callable is being bound as.
type BindKind uint8

const (
	BindFunction BindKind = iota
	BindNotify
	BindTimer
)

func (b BindKind) String() string {
	switch b {
	case BindFunction:
		return "function"
	case BindNotify:
		return "notify"
	case BindTimer:
		return "timer"
	default:
		return "bind(" + strconv.Itoa(int(b)) + ")"
	}
}
