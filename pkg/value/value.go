// Package value provides the dynamic document tree shared by the bencode and
// pickle codecs and by the per-client state readers. Byte strings are kept as
// raw bytes (stored in Go strings, which may hold arbitrary bytes) and are
// never assumed to be UTF-8. Dictionaries preserve insertion order.
package value

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch is returned when a value is accessed as a kind it does
	// not hold, or when a parsed structure carries a wrong-typed field.
	ErrTypeMismatch = errors.New("value: type mismatch")

	// ErrMissingField is returned when a required dictionary key is absent.
	ErrMissingField = errors.New("value: missing field")
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindBytes
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a tagged variant over {null, bool, int64, uint64, float64, bytes,
// list, dict}.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	list []*Value
	dict *Dict
}

func NewNull() *Value              { return &Value{kind: KindNull} }
func NewBool(v bool) *Value        { return &Value{kind: KindBool, b: v} }
func NewInt(v int64) *Value        { return &Value{kind: KindInt, i: v} }
func NewUint(v uint64) *Value      { return &Value{kind: KindUint, u: v} }
func NewFloat(v float64) *Value    { return &Value{kind: KindFloat, f: v} }
func NewBytes(v []byte) *Value     { return &Value{kind: KindBytes, s: string(v)} }
func NewString(v string) *Value    { return &Value{kind: KindBytes, s: v} }
func NewList(v ...*Value) *Value   { return &Value{kind: KindList, list: v} }
func NewDict() *Value              { return &Value{kind: KindDict, dict: NewDictValue()} }
func NewDictFrom(d *Dict) *Value   { return &Value{kind: KindDict, dict: d} }

func (v *Value) Kind() Kind { return v.kind }

func (v *Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean value. Integers coerce (non-zero is true), which
// matches how the source formats store flags.
func (v *Value) Bool() (bool, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i != 0, nil
	case KindUint:
		return v.u != 0, nil
	}
	return false, errors.Wrapf(ErrTypeMismatch, "want bool, have %s", v.kind)
}

func (v *Value) Int64() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindUint:
		if v.u > 1<<63-1 {
			return 0, errors.Wrapf(ErrTypeMismatch, "uint %d overflows int64", v.u)
		}
		return int64(v.u), nil
	case KindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "want int, have %s", v.kind)
}

func (v *Value) Uint64() (uint64, error) {
	switch v.kind {
	case KindUint:
		return v.u, nil
	case KindInt:
		if v.i < 0 {
			return 0, errors.Wrapf(ErrTypeMismatch, "int %d is negative", v.i)
		}
		return uint64(v.i), nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "want uint, have %s", v.kind)
}

func (v *Value) Float64() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	case KindUint:
		return float64(v.u), nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "want float, have %s", v.kind)
}

// Bytes returns the raw byte string.
func (v *Value) Bytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, errors.Wrapf(ErrTypeMismatch, "want bytes, have %s", v.kind)
	}
	return []byte(v.s), nil
}

// Str returns the byte string as a Go string without any charset validation.
func (v *Value) Str() (string, error) {
	if v.kind != KindBytes {
		return "", errors.Wrapf(ErrTypeMismatch, "want bytes, have %s", v.kind)
	}
	return v.s, nil
}

func (v *Value) List() ([]*Value, error) {
	if v.kind != KindList {
		return nil, errors.Wrapf(ErrTypeMismatch, "want list, have %s", v.kind)
	}
	return v.list, nil
}

func (v *Value) Append(item *Value) error {
	if v.kind != KindList {
		return errors.Wrapf(ErrTypeMismatch, "want list, have %s", v.kind)
	}
	v.list = append(v.list, item)
	return nil
}

func (v *Value) Dict() (*Dict, error) {
	if v.kind != KindDict {
		return nil, errors.Wrapf(ErrTypeMismatch, "want dict, have %s", v.kind)
	}
	return v.dict, nil
}

// Get returns the value at key, failing with ErrMissingField when the key is
// absent and ErrTypeMismatch when the receiver is not a dict.
func (v *Value) Get(key string) (*Value, error) {
	d, err := v.Dict()
	if err != nil {
		return nil, err
	}
	item, ok := d.Get(key)
	if !ok {
		return nil, errors.Wrapf(ErrMissingField, "key %q", key)
	}
	return item, nil
}

// GetDefault returns the value at key, or def when the key is absent.
func (v *Value) GetDefault(key string, def *Value) (*Value, error) {
	d, err := v.Dict()
	if err != nil {
		return nil, err
	}
	if item, ok := d.Get(key); ok {
		return item, nil
	}
	return def, nil
}

// Has reports whether the dict holds key. A non-dict never holds anything.
func (v *Value) Has(key string) bool {
	if v.kind != KindDict {
		return false
	}
	_, ok := v.dict.Get(key)
	return ok
}

// Clone performs a deep copy.
func (v *Value) Clone() *Value {
	out := &Value{kind: v.kind, b: v.b, i: v.i, u: v.u, f: v.f, s: v.s}
	switch v.kind {
	case KindList:
		out.list = make([]*Value, len(v.list))
		for i, item := range v.list {
			out.list[i] = item.Clone()
		}
	case KindDict:
		out.dict = v.dict.Clone()
	}
	return out
}

// Equal performs a deep comparison. Numeric kinds compare across int/uint
// when the magnitudes match.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.kind != other.kind {
		if vi, err := v.Int64(); err == nil {
			if oi, err := other.Int64(); err == nil {
				return vi == oi
			}
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindUint:
		return v.u == other.u
	case KindFloat:
		return v.f == other.f
	case KindBytes:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindDict:
		return v.dict.Equal(other.dict)
	}
	return false
}
