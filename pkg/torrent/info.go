package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"path"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/value"
)

// Info wraps the value tree of a parsed .torrent document. The info hash is
// computed once over the canonical bencoding of the info dictionary; the
// original byte strings are preserved untouched so re-encoding cannot drift
// the hash.
type Info struct {
	root     *value.Value
	infoHash string
}

// Decode reads a bencoded .torrent document from r.
func Decode(r io.Reader) (*Info, error) {
	root, err := bencode.NewDecoder(r).Decode()
	if err != nil {
		return nil, err
	}
	return FromValue(root)
}

// FromValue wraps an already-parsed .torrent document.
func FromValue(root *value.Value) (*Info, error) {
	info, err := root.Get("info")
	if err != nil {
		return nil, errors.Wrap(err, "torrent file is missing info dictionary")
	}

	encoded, err := bencode.Encode(info)
	if err != nil {
		return nil, err
	}
	digest := sha1.Sum(encoded)

	return &Info{
		root:     root,
		infoHash: hex.EncodeToString(digest[:]),
	}, nil
}

// Encode writes the document back out as canonical bencode.
func (t *Info) Encode(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(t.root)
}

// Root exposes the underlying document tree.
func (t *Info) Root() *value.Value { return t.root }

// InfoHash returns the 40-hex lowercase SHA-1 of the info dictionary.
func (t *Info) InfoHash() string { return t.infoHash }

func (t *Info) info() (*value.Value, error) {
	return t.root.Get("info")
}

// Name returns the torrent's display name as raw bytes in a string.
func (t *Info) Name() (string, error) {
	info, err := t.info()
	if err != nil {
		return "", err
	}
	name, err := info.Get("name")
	if err != nil {
		return "", err
	}
	return name.Str()
}

// PieceSize returns info.piece length.
func (t *Info) PieceSize() (uint32, error) {
	info, err := t.info()
	if err != nil {
		return 0, err
	}
	length, err := info.Get("piece length")
	if err != nil {
		return 0, err
	}
	size, err := length.Uint64()
	if err != nil {
		return 0, err
	}
	if size == 0 || size > 1<<32-1 {
		return 0, errors.Wrapf(value.ErrTypeMismatch, "piece length %d out of range", size)
	}
	return uint32(size), nil
}

// TotalSize returns the sum of all file lengths.
func (t *Info) TotalSize() (uint64, error) {
	info, err := t.info()
	if err != nil {
		return 0, err
	}

	if !info.Has("files") {
		length, err := info.Get("length")
		if err != nil {
			return 0, err
		}
		return length.Uint64()
	}

	files, err := info.Get("files")
	if err != nil {
		return 0, err
	}
	items, err := files.List()
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, file := range items {
		length, err := file.Get("length")
		if err != nil {
			return 0, err
		}
		size, err := length.Uint64()
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// FileCount returns the number of files; a single-file torrent counts one.
func (t *Info) FileCount() (int, error) {
	info, err := t.info()
	if err != nil {
		return 0, err
	}
	if !info.Has("files") {
		return 1, nil
	}
	files, err := info.Get("files")
	if err != nil {
		return 0, err
	}
	items, err := files.List()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// FilePath returns the torrent-relative path of file fileIndex. Single-file
// torrents expose the torrent name as file 0.
func (t *Info) FilePath(fileIndex int) (string, error) {
	info, err := t.info()
	if err != nil {
		return "", err
	}

	if !info.Has("files") {
		if fileIndex != 0 {
			return "", errors.Wrapf(value.ErrMissingField, "torrent file #%d does not exist", fileIndex)
		}
		return t.Name()
	}

	files, err := info.Get("files")
	if err != nil {
		return "", err
	}
	items, err := files.List()
	if err != nil {
		return "", err
	}
	if fileIndex >= len(items) {
		return "", errors.Wrapf(value.ErrMissingField, "torrent file #%d does not exist", fileIndex)
	}

	pathList, err := items[fileIndex].Get("path")
	if err != nil {
		return "", err
	}
	parts, err := pathList.List()
	if err != nil {
		return "", err
	}

	result := ""
	for _, part := range parts {
		component, err := part.Str()
		if err != nil {
			return "", err
		}
		result = path.Join(result, component)
	}
	return result, nil
}

// SetTrackers replaces the document's announce-list with the given tiers and
// keeps the top-level announce key in sync.
func (t *Info) SetTrackers(tiers [][]string) error {
	dict, err := t.root.Dict()
	if err != nil {
		return err
	}

	announceList := value.NewList()
	for _, tier := range tiers {
		tierList := value.NewList()
		for _, url := range tier {
			_ = tierList.Append(value.NewString(url))
		}
		_ = announceList.Append(tierList)
	}

	dict.Set("announce-list", announceList)

	if len(tiers) == 0 || len(tiers[0]) == 0 {
		dict.Delete("announce")
	} else {
		dict.Set("announce", value.NewString(tiers[0][0]))
	}

	dict.SortKeys()
	return nil
}
