// Package bencode implements streaming decoding and encoding of BitTorrent's
// bencoding (BEP 3) to and from the value tree.
package bencode

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/value"
)

var (
	// ErrCorruptInput is returned on malformed or truncated bencode data.
	ErrCorruptInput = errors.New("bencode: corrupt input")

	// ErrUnrepresentableValue is returned when asked to encode a value kind
	// that bencode has no representation for.
	ErrUnrepresentableValue = errors.New("bencode: unrepresentable value")
)

// Length prefixes above this are treated as corrupt rather than honoured.
const maxStringLen = 1 << 30

// A Decoder reads one bencoded value from an input stream. It is single-pass
// and reads no further than the end of the value.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads and returns the next bencoded value.
func (d *Decoder) Decode() (*value.Value, error) {
	return d.decodeValue()
}

// Decode parses a single bencoded value out of data.
func Decode(data []byte) (*value.Value, error) {
	return NewDecoder(bytes.NewReader(data)).Decode()
}

func (d *Decoder) decodeValue() (*value.Value, error) {
	c, err := d.r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrCorruptInput, "unexpected end of input")
	}

	switch {
	case c == 'i':
		return d.decodeInt()

	case c == 'l':
		result := value.NewList()
		for {
			next, err := d.peekByte()
			if err != nil {
				return nil, err
			}
			if next == 'e' {
				_, _ = d.r.ReadByte()
				return result, nil
			}
			item, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			_ = result.Append(item)
		}

	case c == 'd':
		result := value.NewDict()
		dict, _ := result.Dict()
		for {
			next, err := d.peekByte()
			if err != nil {
				return nil, err
			}
			if next == 'e' {
				_, _ = d.r.ReadByte()
				return result, nil
			}
			key, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			keyBytes, err := key.Str()
			if err != nil {
				return nil, errors.Wrap(ErrCorruptInput, "dictionary key is not a string")
			}
			item, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			dict.Set(keyBytes, item)
		}

	case c >= '0' && c <= '9':
		return d.decodeString(c)
	}

	return nil, errors.Wrapf(ErrCorruptInput, "unexpected byte %#x", c)
}

func (d *Decoder) decodeInt() (*value.Value, error) {
	var buf []byte
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrCorruptInput, "unterminated integer")
		}
		if c == 'e' {
			break
		}
		buf = append(buf, c)
	}

	text := string(buf)
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return value.NewInt(i), nil
	}
	if u, err := strconv.ParseUint(text, 10, 64); err == nil {
		return value.NewUint(u), nil
	}
	return nil, errors.Wrapf(ErrCorruptInput, "malformed integer %q", text)
}

func (d *Decoder) decodeString(first byte) (*value.Value, error) {
	length := uint64(first - '0')
	digits := 1
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrCorruptInput, "unterminated string length")
		}
		if c == ':' {
			break
		}
		if c < '0' || c > '9' {
			return nil, errors.Wrapf(ErrCorruptInput, "unexpected byte %#x in string length", c)
		}
		length = length*10 + uint64(c-'0')
		if digits++; digits > 19 || length > maxStringLen {
			return nil, errors.Wrap(ErrCorruptInput, "oversize string length")
		}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, errors.Wrap(ErrCorruptInput, "truncated string")
	}
	return value.NewBytes(data), nil
}

func (d *Decoder) peekByte() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, errors.Wrap(ErrCorruptInput, "unexpected end of input")
	}
	return b[0], nil
}
