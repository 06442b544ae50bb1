package signature

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// MaxArity is the largest parameter count a bound function may declare.
const MaxArity = 16

// Descriptor is the validated, immutable shape of a bound callable.
type Descriptor struct {
	Bind      BindKind
	Dialect   Dialect
	Method    string
	Params    []Kind
	Return    Kind
	Signature string
}

func (d Descriptor) Arity() int { return len(d.Params) }

// Matches reports whether params equal the descriptor's parameter list.
func (d Descriptor) Matches(params []Kind) bool {
	if len(params) != len(d.Params) {
		return false
	}
	for i := range params {
		if params[i] != d.Params[i] {
			return false
		}
	}
	return true
}

// SignatureError describes one contract violation. Index is -1 for the
// return slot and for arity violations.
type SignatureError struct {
	Bind   BindKind
	Method string
	Index  int
	Type   string
	Reason string
}

func (e *SignatureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "signature: %s %q", e.Bind, e.Method)
	if e.Index >= 0 {
		fmt.Fprintf(&b, " param %d", e.Index)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Canonical renders params and ret as "(PP)R".
func Canonical(params []Kind, ret Kind) string {
	b := make([]byte, 0, len(params)+3)
	b = append(b, '(')
	for _, p := range params {
		b = append(b, p.Code())
	}
	b = append(b, ')', ret.Code())
	return string(b)
}

// ParseCanonical reverses Canonical.
func ParseCanonical(sig string) ([]Kind, Kind, error) {
	if len(sig) < 3 || sig[0] != '(' {
		return nil, KindVoid, fmt.Errorf("signature: malformed %q", sig)
	}
	end := strings.IndexByte(sig, ')')
	if end < 0 || end != len(sig)-2 {
		return nil, KindVoid, fmt.Errorf("signature: malformed %q", sig)
	}
	params := make([]Kind, 0, end-1)
	for i := 1; i < end; i++ {
		k, ok := KindFromCode(sig[i])
		if !ok {
			return nil, KindVoid, fmt.Errorf("signature: unknown code %q in %q", sig[i], sig)
		}
		params = append(params, k)
	}
	ret, ok := KindFromCode(sig[end+1])
	if !ok {
		return nil, KindVoid, fmt.Errorf("signature: unknown return code %q in %q", sig[end+1], sig)
	}
	return params, ret, nil
}

// Validate checks params and ret against the contract of kind in dialect.
// It has no side effects.
func Validate(kind BindKind, dialect Dialect, method string, params []Kind, ret Kind) (Descriptor, error) {
	var err error
	switch kind {
	case BindFunction:
		err = validateFunction(dialect, method, params, ret)
	case BindNotify:
		err = validateNotify(method, params, ret)
	case BindTimer:
		err = validateTimer(method, params, ret)
	default:
		err = &SignatureError{Bind: kind, Method: method, Index: -1, Reason: "unknown bind kind"}
	}
	if err != nil {
		log.Debug().Err(err).Str("method", method).Msg("signature.Validate rejected")
		return Descriptor{}, err
	}
	out := make([]Kind, len(params))
	copy(out, params)
	return Descriptor{
		Bind:      kind,
		Dialect:   dialect,
		Method:    method,
		Params:    out,
		Return:    ret,
		Signature: Canonical(params, ret),
	}, nil
}

func validateFunction(dialect Dialect, method string, params []Kind, ret Kind) error {
	if len(params) > MaxArity {
		return &SignatureError{
			Bind:   BindFunction,
			Method: method,
			Index:  -1,
			Reason: fmt.Sprintf("arity %d exceeds %d", len(params), MaxArity),
		}
	}
	for i, p := range params {
		if !paramAllowed(dialect, p) {
			return &SignatureError{
				Bind:   BindFunction,
				Method: method,
				Index:  i,
				Type:   p.String(),
				Reason: fmt.Sprintf("not an exchangeable parameter in the %s dialect", dialect),
			}
		}
	}
	if !returnAllowed(dialect, ret) {
		return &SignatureError{
			Bind:   BindFunction,
			Method: method,
			Index:  -1,
			Type:   ret.String(),
			Reason: fmt.Sprintf("not an allowed return type in the %s dialect", dialect),
		}
	}
	return nil
}

func validateNotify(method string, params []Kind, ret Kind) error {
	if len(params) > 1 {
		return &SignatureError{
			Bind:   BindNotify,
			Method: method,
			Index:  -1,
			Reason: fmt.Sprintf("notify callbacks take at most one parameter, got %d", len(params)),
		}
	}
	if len(params) == 1 && params[0] != KindVarRef {
		return &SignatureError{
			Bind:   BindNotify,
			Method: method,
			Index:  0,
			Type:   params[0].String(),
			Reason: "notify parameter must be a variable reference",
		}
	}
	if ret != KindInt {
		return &SignatureError{
			Bind:   BindNotify,
			Method: method,
			Index:  -1,
			Type:   ret.String(),
			Reason: "notify callbacks must return an int status",
		}
	}
	return nil
}

func validateTimer(method string, params []Kind, ret Kind) error {
	if len(params) != 0 {
		return &SignatureError{
			Bind:   BindTimer,
			Method: method,
			Index:  -1,
			Reason: fmt.Sprintf("timer callbacks take no parameters, got %d", len(params)),
		}
	}
	if ret != KindInt {
		return &SignatureError{
			Bind:   BindTimer,
			Method: method,
			Index:  -1,
			Type:   ret.String(),
			Reason: "timer callbacks must return an int status",
		}
	}
	return nil
}

func paramAllowed(dialect Dialect, k Kind) bool {
	if k == KindValue {
		return true
	}
	if dialect != DialectTyped {
		return false
	}
	return k.IsPrimitive() || k == KindString || k.IsContainer()
}

func returnAllowed(dialect Dialect, k Kind) bool {
	switch {
	case k == KindVoid, k == KindValue, k.IsPrimitive():
		return true
	case dialect == DialectTyped:
		return k == KindString || k.IsContainer()
	default:
		return false
	}
}
