package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFromString(t *testing.T) {
	tests := []struct {
		input string
		want  Client
	}{
		{"Deluge", Deluge},
		{"deluge", Deluge},
		{"rTorrent", RTorrent},
		{"RTORRENT", RTorrent},
		{"transmission", Transmission},
		{"transmissionmac", TransmissionMac},
		{"utorrent", UTorrent},
		{"uTorrentWeb", UTorrentWeb},
	}

	for _, tt := range tests {
		client, err := ClientFromString(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, client)
	}

	_, err := ClientFromString("qbittorrent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestNewStore_CoversEveryClient(t *testing.T) {
	for client := firstClient; client <= lastClient; client++ {
		s, err := NewStore(client, Options{})
		require.NoError(t, err)
		assert.Equal(t, client, s.Client())
	}
}

func TestGuessByDataDir_SingleMatch(t *testing.T) {
	dataDir, _ := utorrentFixture(t, []byte{8}, 2)

	s, err := GuessByDataDir(dataDir, IntentExport, Options{})
	require.NoError(t, err)
	assert.Equal(t, UTorrent, s.Client())
}

func TestGuessByDataDir_NoMatch(t *testing.T) {
	_, err := GuessByDataDir(t.TempDir(), IntentExport, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no torrent client matched")
}

func TestGuessByDataDir_AmbiguousMatch(t *testing.T) {
	// resume.dat plus store.dat satisfies both uTorrent and uTorrent Web
	dataDir := t.TempDir()
	writeTestFile(t, filepath.Join(dataDir, "resume.dat"), []byte("de"))
	writeTestFile(t, filepath.Join(dataDir, "store.dat"), []byte("de"))

	_, err := GuessByDataDir(dataDir, IntentExport, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one torrent client matched")
}

func TestTransmissionIsValidDataDir(t *testing.T) {
	generic := t.TempDir()
	writeTestFile(t, filepath.Join(generic, "resume", ".keep"), nil)
	writeTestFile(t, filepath.Join(generic, "torrents", ".keep"), nil)

	s := NewTransmissionStore(TransmissionGeneric, Options{})
	assert.True(t, s.IsValidDataDir(generic, IntentImport))

	mac := NewTransmissionStore(TransmissionTypeMac, Options{})
	assert.False(t, mac.IsValidDataDir(t.TempDir(), IntentImport))
}
