package bencode

import (
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/value"
)

// An Encoder writes bencoded values to an output stream. Dictionary keys are
// always emitted in ascending raw-byte order, which makes the output
// canonical regardless of the tree's insertion order.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(v *value.Value) error {
	return encodeValue(e.w, v)
}

// Encode returns the canonical bencoding of v.
func Encode(v *value.Value) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeValue(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(w io.Writer, v *value.Value) error {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.Int64()
		return writeAll(w, "i", strconv.FormatInt(i, 10), "e")

	case value.KindUint:
		u, _ := v.Uint64()
		return writeAll(w, "i", strconv.FormatUint(u, 10), "e")

	case value.KindBytes:
		s, _ := v.Str()
		return writeAll(w, strconv.Itoa(len(s)), ":", s)

	case value.KindList:
		items, _ := v.List()
		if err := writeAll(w, "l"); err != nil {
			return err
		}
		for _, item := range items {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
		return writeAll(w, "e")

	case value.KindDict:
		dict, _ := v.Dict()
		fields := append([]value.Field(nil), dict.Fields()...)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

		if err := writeAll(w, "d"); err != nil {
			return err
		}
		for _, f := range fields {
			if err := writeAll(w, strconv.Itoa(len(f.Key)), ":", f.Key); err != nil {
				return err
			}
			if err := encodeValue(w, f.Value); err != nil {
				return err
			}
		}
		return writeAll(w, "e")
	}

	return errors.Wrapf(ErrUnrepresentableValue, "cannot encode %s", v.Kind())
}

func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
