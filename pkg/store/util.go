package store

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tsmigrate/tsm/pkg/transaction"
)

// normalizePath converts Windows-style store paths ("C:\x\y") to forward
// slashes so path splitting behaves the same for every source client.
func normalizePath(nativePath string) string {
	if len(nativePath) >= 3 && isASCIIAlpha(nativePath[0]) && nativePath[1] == ':' &&
		(nativePath[2] == '/' || nativePath[2] == '\\') {
		return strings.ReplaceAll(nativePath, `\`, "/")
	}
	return nativePath
}

func isASCIIAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// joinPath joins store paths using forward slashes without cleaning away the
// leading root.
func joinPath(parts ...string) string {
	return path.Join(parts...)
}

// parentPath returns the directory part of a normalized store path.
func parentPath(p string) string {
	return path.Dir(normalizePath(p))
}

// basePath returns the last component of a normalized store path.
func basePath(p string) string {
	return path.Base(normalizePath(p))
}

// splitHead splits a normalized path into its first component and the rest.
func splitHead(p string) (head, rest string) {
	p = strings.TrimPrefix(normalizePath(p), "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

// isAbsPath reports whether a store path is absolute, accepting both POSIX
// and Windows drive forms.
func isAbsPath(p string) bool {
	p = normalizePath(p)
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && isASCIIAlpha(p[0]) && p[1] == ':' && p[2] == '/'
}

// unpackBitsMSB expands a packed bitmap, most significant bit first within
// each byte.
func unpackBitsMSB(data []byte) []bool {
	out := make([]bool, 0, len(data)*8)
	for _, c := range data {
		for i := 7; i >= 0; i-- {
			out = append(out, c&(1<<uint(i)) != 0)
		}
	}
	return out
}

// unpackBitsLSB expands a packed bitmap, least significant bit first within
// each byte.
func unpackBitsLSB(data []byte) []bool {
	out := make([]bool, 0, len(data)*8)
	for _, c := range data {
		for i := 0; i < 8; i++ {
			out = append(out, c&(1<<uint(i)) != 0)
		}
	}
	return out
}

// truncateBlocks clips an unpacked bitmap to the torrent's piece count.
func truncateBlocks(blocks []bool, count uint64) []bool {
	if uint64(len(blocks)) > count {
		return blocks[:count]
	}
	return blocks
}

// readAll drains a provider stream and closes it.
func readAll(fsp transaction.FileStreamProvider, path string) ([]byte, error) {
	stream, err := fsp.GetReadStream(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func isDirectory(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// configHome returns $XDG_CONFIG_HOME, falling back to ~/.config.
func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}
