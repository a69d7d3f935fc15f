package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

// writeRTorrentEntry lays down the .torrent / .rtorrent / .libtorrent_resume
// triple for one torrent and returns its info hash.
func writeRTorrentEntry(t *testing.T, dataDir, name string, bitfield []byte, stemOverride string) string {
	t.Helper()

	torrentData, info := buildTorrent(t, name, mib, 10*mib)
	stem := info.InfoHash()
	if stemOverride != "" {
		stem = stemOverride
	}

	base := filepath.Join(dataDir, stem+".torrent")
	writeTestFile(t, base, torrentData)

	state := encodeValue(t, newDict(
		"directory", "/srv/dl/"+name,
		"priority", 2,
		"timestamp.finished", 1400003600,
		"timestamp.started", 1400000000,
		"total_uploaded", uint64(512),
	))
	writeTestFile(t, base+".rtorrent", state)

	resume := encodeValue(t, newDict(
		"bitfield", bitfield,
		"files", newList(newDict("priority", 1)),
		"trackers", newDict(
			"dht://", newDict("enabled", 1),
			"http://one/ann", newDict("enabled", 1),
			"http://off/ann", newDict("enabled", 0),
		),
	))
	writeTestFile(t, base+".libtorrent_resume", resume)

	return info.InfoHash()
}

func TestRTorrentStore_Export(t *testing.T) {
	dataDir := t.TempDir()
	// 10 pieces, MSB-first: 0b11010101, 0b01000000 -> pieces 0,1,3,5,7,9
	infoHash := writeRTorrentEntry(t, dataDir, "data", []byte{0xd5, 0x40}, "")

	iterator, err := NewRTorrentStore().Export(dataDir, transaction.New(false, true))
	require.NoError(t, err)

	box, err := iterator.Next()
	require.NoError(t, err)
	require.NotNil(t, box)

	assert.Equal(t, infoHash, box.Torrent.InfoHash())
	assert.Equal(t, int64(1400000000), box.AddedAt)
	assert.Equal(t, int64(1400003600), box.CompletedAt)
	assert.False(t, box.IsPaused)
	assert.Equal(t, uint64(512), box.UploadedSize)
	assert.Equal(t, "/srv/dl/data", box.SavePath)
	assert.Equal(t, uint32(mib), box.BlockSize)

	require.Len(t, box.Files, 1)
	assert.False(t, box.Files[0].DoNotDownload)
	assert.Equal(t, torrent.NormalPriority, box.Files[0].Priority)

	// truncated to the exact piece count even when the stored bitmap pads
	assert.Equal(t, validBlocks(1, 1, 0, 1, 0, 1, 0, 1, 0, 1), box.ValidBlocks)

	// dht:// skipped, disabled trackers skipped, each tracker in its own tier
	assert.Equal(t, [][]string{{"http://one/ann"}}, box.Trackers)

	box, err = iterator.Next()
	require.NoError(t, err)
	assert.Nil(t, box)
}

func TestRTorrentStore_PausedWhenPriorityZero(t *testing.T) {
	dataDir := t.TempDir()
	infoHash := writeRTorrentEntry(t, dataDir, "data", []byte{0xff, 0xc0}, "")

	state := encodeValue(t, newDict(
		"directory", "/srv/dl/data",
		"priority", 0,
		"timestamp.finished", 0,
		"timestamp.started", 0,
		"total_uploaded", uint64(0),
	))
	writeTestFile(t, filepath.Join(dataDir, infoHash+".torrent.rtorrent"), state)

	iterator, err := NewRTorrentStore().Export(dataDir, transaction.New(false, true))
	require.NoError(t, err)

	box, err := iterator.Next()
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.True(t, box.IsPaused)
}

func TestRTorrentStore_InfoHashMismatchContinues(t *testing.T) {
	dataDir := t.TempDir()

	badStem := strings.Repeat("0", 40)
	writeRTorrentEntry(t, dataDir, "bad", []byte{0xff, 0xc0}, badStem)
	goodHash := writeRTorrentEntry(t, dataDir, "good", []byte{0xff, 0xc0}, "")

	iterator, err := NewRTorrentStore().Export(dataDir, transaction.New(false, true))
	require.NoError(t, err)

	var boxes int
	var mismatches int
	for {
		box, err := iterator.Next()
		if err != nil {
			require.True(t, errors.Is(err, ErrInfoHashMismatch))
			mismatches++
			continue
		}
		if box == nil {
			break
		}
		boxes++
		assert.Equal(t, goodHash, box.Torrent.InfoHash())
	}

	assert.Equal(t, 1, boxes)
	assert.Equal(t, 1, mismatches)
}

func TestRTorrentStore_CaseInsensitiveStemMatch(t *testing.T) {
	dataDir := t.TempDir()

	torrentData, info := buildTorrent(t, "data", mib, 10*mib)
	stem := strings.ToUpper(info.InfoHash())
	base := filepath.Join(dataDir, stem+".torrent")
	writeTestFile(t, base, torrentData)
	writeTestFile(t, base+".rtorrent", encodeValue(t, newDict(
		"directory", "/srv/dl/data",
		"priority", 1,
		"timestamp.finished", 0,
		"timestamp.started", 0,
		"total_uploaded", uint64(0),
	)))
	writeTestFile(t, base+".libtorrent_resume", encodeValue(t, newDict(
		"bitfield", []byte{0xff, 0xc0},
		"files", newList(newDict("priority", 1)),
		"trackers", value.NewDict(),
	)))

	iterator, err := NewRTorrentStore().Export(dataDir, transaction.New(false, true))
	require.NoError(t, err)

	box, err := iterator.Next()
	require.NoError(t, err)
	require.NotNil(t, box)
}

func TestRTorrentStore_SkipsIncompleteTriples(t *testing.T) {
	dataDir := t.TempDir()
	// a .rtorrent file with no siblings is skipped with a warning
	writeTestFile(t, filepath.Join(dataDir, "orphan.torrent.rtorrent"), []byte("de"))

	s := NewRTorrentStore()
	assert.False(t, s.IsValidDataDir(dataDir, IntentExport))
	assert.True(t, s.IsValidDataDir(dataDir, IntentImport))

	iterator, err := s.Export(dataDir, transaction.New(false, true))
	require.NoError(t, err)
	box, err := iterator.Next()
	require.NoError(t, err)
	assert.Nil(t, box)
}

func TestRTorrentStore_GuessDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sessionDir := filepath.Join(home, "session")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	writeRTorrentEntry(t, sessionDir, "data", []byte{0xff, 0xc0}, "")

	rc := "# comment\nsession = " + sessionDir + "\n"
	writeTestFile(t, filepath.Join(home, ".rtorrent.rc"), []byte(rc))

	dataDir, err := NewRTorrentStore().GuessDataDir(IntentExport)
	require.NoError(t, err)
	assert.Equal(t, sessionDir, dataDir)
}
