package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/value"
)

// buildTorrent assembles a single-file .torrent document and returns its
// encoding together with the parsed Info.
func buildTorrent(t *testing.T, name string, pieceLength uint32, length uint64) ([]byte, *torrent.Info) {
	t.Helper()

	pieceCount := (length + uint64(pieceLength) - 1) / uint64(pieceLength)

	info := value.NewDict()
	infoDict, _ := info.Dict()
	infoDict.Set("length", value.NewUint(length))
	infoDict.Set("name", value.NewString(name))
	infoDict.Set("piece length", value.NewUint(uint64(pieceLength)))
	infoDict.Set("pieces", value.NewString(strings.Repeat("x", int(pieceCount)*20)))

	root := value.NewDict()
	rootDict, _ := root.Dict()
	rootDict.Set("announce", value.NewString("http://tracker.invalid/announce"))
	rootDict.Set("info", info)

	encoded, err := bencode.Encode(root)
	require.NoError(t, err)

	parsed, err := torrent.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	return encoded, parsed
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// dict builders keep fixture construction terse

func newDict(pairs ...any) *value.Value {
	v := value.NewDict()
	d, _ := v.Dict()
	for i := 0; i < len(pairs); i += 2 {
		d.Set(pairs[i].(string), toValue(pairs[i+1]))
	}
	return v
}

func newList(items ...any) *value.Value {
	v := value.NewList()
	for _, item := range items {
		_ = v.Append(toValue(item))
	}
	return v
}

func toValue(item any) *value.Value {
	switch x := item.(type) {
	case *value.Value:
		return x
	case string:
		return value.NewString(x)
	case []byte:
		return value.NewBytes(x)
	case int:
		return value.NewInt(int64(x))
	case int64:
		return value.NewInt(x)
	case uint64:
		return value.NewUint(x)
	}
	panic("unsupported fixture value")
}

func encodeValue(t *testing.T, v *value.Value) []byte {
	t.Helper()
	data, err := bencode.Encode(v)
	require.NoError(t, err)
	return data
}

// validBlocks builds a piece bitmap from 0/1 flags.
func validBlocks(pattern ...int) []bool {
	out := make([]bool, len(pattern))
	for i, p := range pattern {
		out[i] = p != 0
	}
	return out
}

func repeatBlocks(valid bool, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = valid
	}
	return out
}
