package importer

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsmigrate/tsm/pkg/filter"
	"github.com/tsmigrate/tsm/pkg/interrupt"
	"github.com/tsmigrate/tsm/pkg/store"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
)

// stubItem drives the fake source: either a Box or a read error.
type stubItem struct {
	box *torrent.Box
	err error
}

type stubIterator struct {
	mu    sync.Mutex
	items []stubItem
	next  int
}

func (it *stubIterator) Next() (*torrent.Box, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.next >= len(it.items) {
		return nil, nil
	}
	item := it.items[it.next]
	it.next++
	return item.box, item.err
}

// stubStore satisfies store.StateStore on both ends of the pipeline.
type stubStore struct {
	iterator  *stubIterator
	importErr func(box *torrent.Box) error
	imported  atomic.Uint64
}

func (s *stubStore) Client() store.Client                     { return store.Transmission }
func (s *stubStore) GuessDataDir(store.Intent) (string, error) { return "", nil }
func (s *stubStore) IsValidDataDir(string, store.Intent) bool { return true }

func (s *stubStore) Export(string, transaction.FileStreamProvider) (store.TorrentStateIterator, error) {
	return s.iterator, nil
}

func (s *stubStore) Import(_ string, box *torrent.Box, _ transaction.FileStreamProvider) error {
	if s.importErr != nil {
		if err := s.importErr(box); err != nil {
			return err
		}
	}
	s.imported.Add(1)
	return nil
}

func testTorrent(t *testing.T, name string) *torrent.Info {
	t.Helper()
	doc := "d4:infod6:lengthi1024e4:name" +
		strconv.Itoa(len(name)) + ":" + name +
		"12:piece lengthi1024e6:pieces20:01234567890123456789ee"
	info, err := torrent.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return info
}

func makeBox(t *testing.T, name string, downloaded uint64) *torrent.Box {
	return &torrent.Box{
		Torrent:        testTorrent(t, name),
		SavePath:       "/srv/dl/" + name,
		BlockSize:      1024,
		DownloadedSize: downloaded,
		ValidBlocks:    []bool{true},
	}
}

func TestImporter_CountersCoverEveryTorrent(t *testing.T) {
	interrupt.Reset()

	items := []stubItem{
		{box: makeBox(t, "ok-one", 100)},
		{err: errors.New("corrupt state")},
		{box: makeBox(t, "cancelled", 300)},
		{box: makeBox(t, "ok-two", 200)},
		{box: makeBox(t, "broken", 400)},
	}

	src := &stubStore{iterator: &stubIterator{items: items}}
	dst := &stubStore{
		importErr: func(box *torrent.Box) error {
			name, _ := box.Torrent.Name()
			switch name {
			case "cancelled":
				return errors.Wrap(store.ErrImportCancelled, "piece size")
			case "broken":
				return errors.New("disk full")
			}
			return nil
		},
	}

	result, err := New(src, "/src", dst, "/dst", transaction.New(false, true), nil).Run(3)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), result.SuccessCount)
	assert.Equal(t, uint64(1), result.SkipCount)
	assert.Equal(t, uint64(2), result.FailCount)
	assert.Equal(t, uint64(len(items)),
		result.SuccessCount+result.SkipCount+result.FailCount)
	assert.Equal(t, uint64(300), result.MigratedBytes)
	assert.False(t, result.Clean())
	assert.Equal(t, uint64(2), dst.imported.Load())
}

func TestImporter_CleanRun(t *testing.T) {
	interrupt.Reset()

	src := &stubStore{iterator: &stubIterator{items: []stubItem{
		{box: makeBox(t, "a", 1)},
		{box: makeBox(t, "b", 2)},
	}}}
	dst := &stubStore{}

	result, err := New(src, "/src", dst, "/dst", transaction.New(false, true), nil).Run(1)
	require.NoError(t, err)
	assert.True(t, result.Clean())
	assert.Equal(t, uint64(2), result.SuccessCount)
}

func TestImporter_FilterSkips(t *testing.T) {
	interrupt.Reset()

	src := &stubStore{iterator: &stubIterator{items: []stubItem{
		{box: makeBox(t, "keep", 1)},
		{box: makeBox(t, "drop", 2)},
	}}}
	dst := &stubStore{}

	f, err := filter.Compile(`Name == "keep"`)
	require.NoError(t, err)

	result, err := New(src, "/src", dst, "/dst", transaction.New(false, true), f).Run(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.SuccessCount)
	assert.Equal(t, uint64(1), result.SkipCount)
	assert.Equal(t, uint64(0), result.FailCount)
}

func TestImporter_InterruptStopsBeforeNextPull(t *testing.T) {
	interrupt.Reset()
	t.Cleanup(interrupt.Reset)

	// the flag is checked before every pull, so nothing is drained
	boxes := make([]stubItem, 10)
	for i := range boxes {
		boxes[i] = stubItem{box: makeBox(t, "x", 1)}
	}
	src := &stubStore{iterator: &stubIterator{items: boxes}}
	dst := &stubStore{}

	interrupt.Trigger()

	result, err := New(src, "/src", dst, "/dst", transaction.New(false, true), nil).Run(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.SuccessCount+result.SkipCount+result.FailCount)
}
