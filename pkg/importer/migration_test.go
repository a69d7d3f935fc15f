package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/interrupt"
	"github.com/tsmigrate/tsm/pkg/store"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

const testPieceSize = 1024 * 1024

// utorrentSourceDir fabricates a complete uTorrent data directory holding a
// single fully-downloaded ten-piece torrent.
func utorrentSourceDir(t *testing.T) (dataDir, infoHash string) {
	t.Helper()
	dataDir = t.TempDir()

	info := value.NewDict()
	infoDict, _ := info.Dict()
	infoDict.Set("length", value.NewUint(10*testPieceSize))
	infoDict.Set("name", value.NewString("data"))
	infoDict.Set("piece length", value.NewUint(testPieceSize))
	infoDict.Set("pieces", value.NewString(strings.Repeat("x", 200)))

	doc := value.NewDict()
	docDict, _ := doc.Dict()
	docDict.Set("announce", value.NewString("http://one/ann"))
	docDict.Set("info", info)

	torrentData, err := bencode.Encode(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "data.torrent"), torrentData, 0o644))

	parsed, err := torrent.FromValue(doc)
	require.NoError(t, err)
	infoHash = parsed.InfoHash()

	entry := value.NewDict()
	entryDict, _ := entry.Dict()
	entryDict.Set("added_on", value.NewInt(1450000000))
	entryDict.Set("completed_on", value.NewInt(1450003600))
	entryDict.Set("corrupt", value.NewUint(0))
	entryDict.Set("downloaded", value.NewUint(10*testPieceSize))
	entryDict.Set("downspeed", value.NewInt(0))
	entryDict.Set("have", value.NewBytes([]byte{0xff, 0x03}))
	entryDict.Set("override_seedsettings", value.NewInt(0))
	entryDict.Set("path", value.NewString("/srv/dl/data"))
	entryDict.Set("prio", value.NewBytes([]byte{8}))
	entryDict.Set("started", value.NewInt(2))
	entryDict.Set("trackers", value.NewList(value.NewString("http://one/ann")))
	entryDict.Set("uploaded", value.NewUint(0))
	entryDict.Set("upspeed", value.NewInt(0))
	entryDict.Set("wanted_ratio", value.NewInt(0))

	resume := value.NewDict()
	resumeDict, _ := resume.Dict()
	resumeDict.Set("data.torrent", entry)

	resumeData, err := bencode.Encode(resume)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "resume.dat"), resumeData, 0o644))

	return dataDir, infoHash
}

func listTree(t *testing.T, dir string) []string {
	t.Helper()
	var names []string
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	}))
	return names
}

func runMigration(t *testing.T, txn *transaction.Transaction, sourceDir, targetDir string) Result {
	t.Helper()
	interrupt.Reset()

	source := store.NewUTorrentStore()
	target := store.NewTransmissionStore(store.TransmissionGeneric, store.Options{})

	result, err := New(source, sourceDir, target, targetDir, txn, nil).Run(2)
	require.NoError(t, err)
	return result
}

func TestMigration_UTorrentToTransmission(t *testing.T) {
	sourceDir, infoHash := utorrentSourceDir(t)
	targetDir := t.TempDir()

	txn := transaction.New(false, false)
	defer txn.Close()

	result := runMigration(t, txn, sourceDir, targetDir)
	assert.Equal(t, uint64(1), result.SuccessCount)
	assert.True(t, result.Clean())

	// staged, nothing published yet
	assert.NoFileExists(t, filepath.Join(targetDir, "resume", infoHash+".resume"))

	txn.Commit()

	require.FileExists(t, filepath.Join(targetDir, "torrents", infoHash+".torrent"))
	resumePath := filepath.Join(targetDir, "resume", infoHash+".resume")
	require.FileExists(t, resumePath)

	data, err := os.ReadFile(resumePath)
	require.NoError(t, err)
	resume, err := bencode.Decode(data)
	require.NoError(t, err)

	destination, err := resume.Get("destination")
	require.NoError(t, err)
	dest, err := destination.Str()
	require.NoError(t, err)
	assert.Equal(t, "/srv/dl", dest)

	progress, err := resume.Get("progress")
	require.NoError(t, err)
	blocks, err := progress.Get("blocks")
	require.NoError(t, err)
	blocksStr, err := blocks.Str()
	require.NoError(t, err)
	assert.Equal(t, "all", blocksStr)
}

func TestMigration_DryRunLeavesTargetUntouched(t *testing.T) {
	sourceDir, _ := utorrentSourceDir(t)
	targetDir := t.TempDir()

	txn := transaction.New(false, true)
	result := runMigration(t, txn, sourceDir, targetDir)
	txn.Commit()
	require.NoError(t, txn.Close())

	assert.Equal(t, uint64(1), result.SuccessCount)
	assert.Empty(t, listTree(t, targetDir))
}

func TestMigration_RollbackLeavesTargetUntouched(t *testing.T) {
	sourceDir, _ := utorrentSourceDir(t)
	targetDir := t.TempDir()

	txn := transaction.New(false, false)
	result := runMigration(t, txn, sourceDir, targetDir)
	assert.Equal(t, uint64(1), result.SuccessCount)

	// no commit: the scoped close reverts everything, no .tmp or .bak stays
	require.NoError(t, txn.Close())
	assert.Empty(t, listTree(t, targetDir))
}
