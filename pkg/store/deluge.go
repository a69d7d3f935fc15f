package store

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/pickle"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

const (
	delugeDataDirName        = "deluge"
	delugeFastResumeFilename = "torrents.fastresume"
	delugeStateFilename      = "torrents.state"

	delugeDoNotDownloadPriority = 0
	delugeMinPriority           = -6
	delugeMaxPriority           = 6
)

var delugeLog = logger.GetLogger("deluge")

// DelugeStore reads Deluge's state directory: a bencoded fast-resume bundle
// plus a pickled torrents.state.
type DelugeStore struct{}

func NewDelugeStore() *DelugeStore { return &DelugeStore{} }

func (s *DelugeStore) Client() Client { return Deluge }

func delugeStateDir(dataDir string) string {
	return filepath.Join(dataDir, "state")
}

func (s *DelugeStore) GuessDataDir(Intent) (string, error) {
	dataDir := filepath.Join(configHome(), delugeDataDirName)
	if s.IsValidDataDir(dataDir, IntentExport) {
		return dataDir, nil
	}
	if appData := os.Getenv("APPDATA"); appData != "" {
		dataDir = filepath.Join(appData, delugeDataDirName)
		if s.IsValidDataDir(dataDir, IntentExport) {
			return dataDir, nil
		}
	}
	return "", nil
}

func (s *DelugeStore) IsValidDataDir(dataDir string, _ Intent) bool {
	stateDir := delugeStateDir(dataDir)
	return isRegularFile(filepath.Join(stateDir, delugeFastResumeFilename)) &&
		isRegularFile(filepath.Join(stateDir, delugeStateFilename))
}

func (s *DelugeStore) Export(dataDir string, fsp transaction.FileStreamProvider) (TorrentStateIterator, error) {
	stateDir := delugeStateDir(dataDir)

	delugeLog.Debugf("Loading %s", delugeFastResumeFilename)
	fastResumeData, err := readAll(fsp, filepath.Join(stateDir, delugeFastResumeFilename))
	if err != nil {
		return nil, err
	}
	fastResume, err := bencode.Decode(fastResumeData)
	if err != nil {
		return nil, errors.Wrap(err, delugeFastResumeFilename)
	}

	delugeLog.Debugf("Loading %s", delugeStateFilename)
	stateStream, err := fsp.GetReadStream(filepath.Join(stateDir, delugeStateFilename))
	if err != nil {
		return nil, err
	}
	defer stateStream.Close()
	state, err := pickle.NewDecoder(stateStream).Decode()
	if err != nil {
		return nil, errors.Wrap(err, delugeStateFilename)
	}

	torrents, err := state.Get("torrents")
	if err != nil {
		return nil, errors.Wrap(err, delugeStateFilename)
	}
	states, err := torrents.List()
	if err != nil {
		return nil, errors.Wrap(err, delugeStateFilename)
	}

	return &delugeIterator{
		stateDir:   stateDir,
		fastResume: fastResume,
		states:     states,
		fsp:        fsp,
	}, nil
}

func (s *DelugeStore) Import(string, *torrent.Box, transaction.FileStreamProvider) error {
	return errors.Wrap(ErrNotImplemented, "Deluge import")
}

type delugeIterator struct {
	stateDir   string
	fastResume *value.Value
	states     []*value.Value
	fsp        transaction.FileStreamProvider

	mu   sync.Mutex
	next int
}

func (it *delugeIterator) Next() (*torrent.Box, error) {
	it.mu.Lock()
	if it.next >= len(it.states) {
		it.mu.Unlock()
		return nil, nil
	}
	state := it.states[it.next]
	it.next++
	it.mu.Unlock()

	return it.load(state)
}

func (it *delugeIterator) load(state *value.Value) (*torrent.Box, error) {
	infoHash, err := stringField(state, "torrent_id")
	if err != nil {
		return nil, err
	}

	blobValue, err := it.fastResume.Get(infoHash)
	if err != nil {
		return nil, errors.Wrapf(err, "fast resume for %s", infoHash)
	}
	blob, err := blobValue.Bytes()
	if err != nil {
		return nil, errors.Wrapf(err, "fast resume for %s", infoHash)
	}
	fastResume, err := bencode.NewDecoder(bytes.NewReader(blob)).Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "fast resume for %s", infoHash)
	}

	box := &torrent.Box{}

	torrentStream, err := it.fsp.GetReadStream(filepath.Join(it.stateDir, infoHash+".torrent"))
	if err != nil {
		return nil, err
	}
	box.Torrent, err = torrent.Decode(torrentStream)
	torrentStream.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "torrent for %s", infoHash)
	}

	if box.Torrent.InfoHash() != infoHash {
		return nil, errors.Wrapf(ErrInfoHashMismatch, "%s vs. %s", box.Torrent.InfoHash(), infoHash)
	}

	if box.AddedAt, err = intField(fastResume, "added_time"); err != nil {
		return nil, err
	}
	if box.CompletedAt, err = intField(fastResume, "completed_time"); err != nil {
		return nil, err
	}
	if box.IsPaused, err = boolField(state, "paused"); err != nil {
		return nil, err
	}
	if box.DownloadedSize, err = uintField(fastResume, "total_downloaded"); err != nil {
		return nil, err
	}
	if box.UploadedSize, err = uintField(fastResume, "total_uploaded"); err != nil {
		return nil, err
	}
	box.CorruptedSize = 0

	if box.BlockSize, err = box.Torrent.PieceSize(); err != nil {
		return nil, err
	}

	savePath, err := stringField(state, "save_path")
	if err != nil {
		return nil, err
	}
	name, err := box.Torrent.Name()
	if err != nil {
		return nil, err
	}
	mappedFiles, err := fastResume.GetDefault("mapped_files", nil)
	if err != nil {
		return nil, err
	}
	root := name
	if mappedFiles != nil && !mappedFiles.IsNull() {
		items, err := mappedFiles.List()
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			first, err := items[0].Str()
			if err != nil {
				return nil, err
			}
			root, _ = splitHead(first)
		}
	}
	box.SavePath = joinPath(normalizePath(savePath), root)

	if err := it.loadLimits(state, box); err != nil {
		return nil, err
	}
	if err := it.loadFiles(state, mappedFiles, box); err != nil {
		return nil, err
	}

	pieces, err := fastResume.Get("pieces")
	if err != nil {
		return nil, err
	}
	piecesData, err := pieces.Bytes()
	if err != nil {
		return nil, err
	}
	box.ValidBlocks = make([]bool, 0, len(piecesData))
	for _, piece := range piecesData {
		box.ValidBlocks = append(box.ValidBlocks, piece != 0)
	}

	if err := it.loadTrackers(state, box); err != nil {
		return nil, err
	}

	return box, nil
}

func (it *delugeIterator) loadLimits(state *value.Value, box *torrent.Box) error {
	stopAtRatio, err := boolField(state, "stop_at_ratio")
	if err != nil {
		return err
	}
	stopRatio, err := floatField(state, "stop_ratio")
	if err != nil {
		return err
	}
	box.RatioLimit = torrent.LimitInfo{Mode: torrent.LimitInherit, Value: stopRatio}
	if stopAtRatio {
		box.RatioLimit.Mode = torrent.LimitEnabled
	}

	if box.DownloadSpeedLimit, err = delugeSpeedLimit(state, "max_download_speed"); err != nil {
		return err
	}
	if box.UploadSpeedLimit, err = delugeSpeedLimit(state, "max_upload_speed"); err != nil {
		return err
	}
	return nil
}

// Deluge stores speed limits in KiB/s with -1 meaning "use the default".
func delugeSpeedLimit(state *value.Value, key string) (torrent.LimitInfo, error) {
	raw, err := floatField(state, key)
	if err != nil {
		return torrent.LimitInfo{}, err
	}

	result := torrent.LimitInfo{Value: max(0, raw*1000)}
	switch {
	case raw > 0:
		result.Mode = torrent.LimitEnabled
	case raw == 0:
		result.Mode = torrent.LimitDisabled
	default:
		result.Mode = torrent.LimitInherit
	}
	return result, nil
}

func (it *delugeIterator) loadFiles(state, mappedFiles *value.Value, box *torrent.Box) error {
	priorities, err := state.Get("file_priorities")
	if err != nil {
		return err
	}
	items, err := priorities.List()
	if err != nil {
		return err
	}

	var mapped []*value.Value
	if mappedFiles != nil && !mappedFiles.IsNull() {
		if mapped, err = mappedFiles.List(); err != nil {
			return err
		}
	}

	box.Files = make([]torrent.FileInfo, 0, len(items))
	for i, item := range items {
		priority64, err := item.Int64()
		if err != nil {
			return err
		}
		priority := int(priority64)

		file := torrent.FileInfo{
			DoNotDownload: priority == delugeDoNotDownloadPriority,
			Priority:      torrent.NormalPriority,
		}
		if !file.DoNotDownload {
			file.Priority = torrent.PriorityFromStore(priority-1, delugeMinPriority, delugeMaxPriority)
		}

		if i < len(mapped) {
			mappedPath, err := mapped[i].Str()
			if err != nil {
				return err
			}
			_, changed := splitHead(mappedPath)
			original, err := box.Torrent.FilePath(i)
			if err != nil {
				return err
			}
			if changed != "" && changed != original {
				file.Path = changed
			}
		}

		box.Files = append(box.Files, file)
	}
	return nil
}

func (it *delugeIterator) loadTrackers(state *value.Value, box *torrent.Box) error {
	trackers, err := state.Get("trackers")
	if err != nil {
		return err
	}
	items, err := trackers.List()
	if err != nil {
		return err
	}

	for _, item := range items {
		tier64, err := intField(item, "tier")
		if err != nil {
			return err
		}
		url, err := stringField(item, "url")
		if err != nil {
			return err
		}

		tier := int(tier64)
		for len(box.Trackers) <= tier {
			box.Trackers = append(box.Trackers, nil)
		}
		box.Trackers[tier] = append(box.Trackers[tier], url)
	}
	return nil
}
