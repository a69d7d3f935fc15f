package pickle

import (
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// decodeEscapes resolves Python string escapes into UTF-8 bytes. Besides the
// single-character escapes, \uXXXX code units are supported, with
// high/low surrogate pairs combined into a single code point.
func decodeEscapes(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i+1 >= len(text) {
			out = append(out, c)
			continue
		}

		i++
		switch text[i] {
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			code, n, err := decodeUnit(text[i+1:])
			if err != nil {
				return nil, err
			}
			i += n

			r := rune(code)
			if utf16.IsSurrogate(r) {
				if i+2 >= len(text) || text[i+1] != '\\' || text[i+2] != 'u' {
					return nil, errors.Wrap(ErrCorruptInput, "unpaired surrogate escape")
				}
				i += 2
				code2, n, err := decodeUnit(text[i+1:])
				if err != nil {
					return nil, err
				}
				i += n

				r = utf16.DecodeRune(r, rune(code2))
				if r == utf8.RuneError {
					return nil, errors.Wrap(ErrCorruptInput, "invalid surrogate pair")
				}
			}

			var buf [4]byte
			out = append(out, buf[:utf8.EncodeRune(buf[:], r)]...)
		default:
			// \" and \\ fall through here, as do unknown escapes.
			out = append(out, text[i])
		}
	}

	return out, nil
}

func decodeUnit(text string) (uint32, int, error) {
	if len(text) < 4 {
		return 0, 0, errors.Wrap(ErrCorruptInput, "truncated \\u escape")
	}
	code, err := strconv.ParseUint(text[:4], 16, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrCorruptInput, "malformed \\u escape %q", text[:4])
	}
	return uint32(code), 4, nil
}
