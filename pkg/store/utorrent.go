package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

const (
	utorrentDataDirName    = "uTorrent"
	utorrentResumeFilename = "resume.dat"

	utorrentDoNotDownloadPriority = 0
	utorrentMinPriority           = 4
	utorrentMaxPriority           = 12

	utorrentStoppedState = 0
	utorrentPausedState  = 3
)

var utorrentLog = logger.GetLogger("utorrent")

// UTorrentStore reads uTorrent's resume.dat, a single bencoded map keyed by
// .torrent file names.
type UTorrentStore struct{}

func NewUTorrentStore() *UTorrentStore { return &UTorrentStore{} }

func (s *UTorrentStore) Client() Client { return UTorrent }

func (s *UTorrentStore) GuessDataDir(Intent) (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", nil
	}
	dataDir := filepath.Join(appData, utorrentDataDirName)
	if s.IsValidDataDir(dataDir, IntentExport) {
		return dataDir, nil
	}
	return "", nil
}

func (s *UTorrentStore) IsValidDataDir(dataDir string, _ Intent) bool {
	return isRegularFile(filepath.Join(dataDir, utorrentResumeFilename))
}

func (s *UTorrentStore) Export(dataDir string, fsp transaction.FileStreamProvider) (TorrentStateIterator, error) {
	utorrentLog.Debugf("Loading %s", utorrentResumeFilename)

	resumeData, err := readAll(fsp, filepath.Join(dataDir, utorrentResumeFilename))
	if err != nil {
		return nil, err
	}
	resume, err := bencode.Decode(resumeData)
	if err != nil {
		return nil, errors.Wrap(err, utorrentResumeFilename)
	}
	dict, err := resume.Dict()
	if err != nil {
		return nil, errors.Wrap(err, utorrentResumeFilename)
	}

	return &utorrentIterator{
		dataDir: dataDir,
		fields:  dict.Fields(),
		fsp:     fsp,
	}, nil
}

func (s *UTorrentStore) Import(string, *torrent.Box, transaction.FileStreamProvider) error {
	return errors.Wrap(ErrNotImplemented, "uTorrent import")
}

type utorrentIterator struct {
	dataDir string
	fields  []value.Field
	fsp     transaction.FileStreamProvider

	mu   sync.Mutex
	next int
}

func (it *utorrentIterator) Next() (*torrent.Box, error) {
	it.mu.Lock()
	var filename string
	var resume *value.Value
	// Keys that do not look like .torrent files hold settings metadata.
	for it.next < len(it.fields) {
		field := it.fields[it.next]
		it.next++
		if strings.HasSuffix(field.Key, ".torrent") {
			filename = field.Key
			resume = field.Value
			break
		}
	}
	it.mu.Unlock()

	if resume == nil {
		return nil, nil
	}
	return it.load(filename, resume)
}

func (it *utorrentIterator) load(filename string, resume *value.Value) (*torrent.Box, error) {
	box := &torrent.Box{}

	torrentStream, err := it.fsp.GetReadStream(filepath.Join(it.dataDir, filename))
	if err != nil {
		return nil, err
	}
	box.Torrent, err = torrent.Decode(torrentStream)
	torrentStream.Close()
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}

	if box.AddedAt, err = intField(resume, "added_on"); err != nil {
		return nil, err
	}
	if box.CompletedAt, err = intField(resume, "completed_on"); err != nil {
		return nil, err
	}
	started, err := intField(resume, "started")
	if err != nil {
		return nil, err
	}
	box.IsPaused = started == utorrentPausedState || started == utorrentStoppedState
	if box.DownloadedSize, err = uintField(resume, "downloaded"); err != nil {
		return nil, err
	}
	if box.UploadedSize, err = uintField(resume, "uploaded"); err != nil {
		return nil, err
	}
	if box.CorruptedSize, err = uintField(resume, "corrupt"); err != nil {
		return nil, err
	}
	savePath, err := stringField(resume, "path")
	if err != nil {
		return nil, err
	}
	box.SavePath = normalizePath(savePath)
	if box.BlockSize, err = box.Torrent.PieceSize(); err != nil {
		return nil, err
	}

	if caption, err := resume.GetDefault("caption", nil); err == nil && caption != nil {
		box.Caption, _ = caption.Str()
	}

	if err := it.loadLimits(resume, box); err != nil {
		return nil, err
	}
	if err := it.loadFiles(resume, box); err != nil {
		return nil, err
	}

	totalSize, err := box.Torrent.TotalSize()
	if err != nil {
		return nil, err
	}
	blockCount := (totalSize + uint64(box.BlockSize) - 1) / uint64(box.BlockSize)

	have, err := bytesField(resume, "have")
	if err != nil {
		return nil, err
	}
	box.ValidBlocks = truncateBlocks(unpackBitsLSB(have), blockCount)

	trackers, err := resume.Get("trackers")
	if err != nil {
		return nil, err
	}
	items, err := trackers.List()
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		url, err := item.Str()
		if err != nil {
			return nil, err
		}
		box.Trackers = append(box.Trackers, []string{url})
	}

	return box, nil
}

func (it *utorrentIterator) loadLimits(resume *value.Value, box *torrent.Box) error {
	overrideSeed, err := intField(resume, "override_seedsettings")
	if err != nil {
		return err
	}
	wantedRatio, err := floatField(resume, "wanted_ratio")
	if err != nil {
		return err
	}
	box.RatioLimit = torrent.LimitInfo{Mode: torrent.LimitInherit, Value: wantedRatio / 1000}
	if overrideSeed != 0 {
		box.RatioLimit.Mode = torrent.LimitEnabled
	}

	if box.DownloadSpeedLimit, err = utorrentSpeedLimit(resume, "downspeed"); err != nil {
		return err
	}
	if box.UploadSpeedLimit, err = utorrentSpeedLimit(resume, "upspeed"); err != nil {
		return err
	}
	return nil
}

func utorrentSpeedLimit(resume *value.Value, key string) (torrent.LimitInfo, error) {
	raw, err := intField(resume, key)
	if err != nil {
		return torrent.LimitInfo{}, err
	}

	result := torrent.LimitInfo{Mode: torrent.LimitInherit, Value: float64(raw)}
	if raw > 0 {
		result.Mode = torrent.LimitEnabled
	}
	return result, nil
}

func (it *utorrentIterator) loadFiles(resume *value.Value, box *torrent.Box) error {
	priorities, err := bytesField(resume, "prio")
	if err != nil {
		return err
	}
	targets, err := resume.GetDefault("targets", nil)
	if err != nil {
		return err
	}

	box.Files = make([]torrent.FileInfo, 0, len(priorities))
	for i, raw := range priorities {
		priority := int(int8(raw))

		file := torrent.FileInfo{
			DoNotDownload: priority <= utorrentDoNotDownloadPriority,
			Priority:      torrent.NormalPriority,
		}
		if !file.DoNotDownload {
			file.Priority = torrent.PriorityFromStore(priority, utorrentMinPriority, utorrentMaxPriority)
		}

		changed, err := utorrentChangedFilePath(targets, i)
		if err != nil {
			return err
		}
		file.Path = changed

		box.Files = append(box.Files, file)
	}
	return nil
}

// utorrentChangedFilePath digs the per-file relocation out of the targets
// list of [index, path] pairs.
func utorrentChangedFilePath(targets *value.Value, index int) (string, error) {
	if targets == nil || targets.IsNull() {
		return "", nil
	}
	items, err := targets.List()
	if err != nil {
		return "", err
	}
	for _, item := range items {
		pair, err := item.List()
		if err != nil {
			return "", err
		}
		if len(pair) != 2 {
			return "", errors.Wrap(value.ErrTypeMismatch, "targets entry is not a pair")
		}
		targetIndex, err := pair[0].Int64()
		if err != nil {
			return "", err
		}
		if targetIndex == int64(index) {
			path, err := pair[1].Str()
			if err != nil {
				return "", err
			}
			return normalizePath(path), nil
		}
	}
	return "", nil
}
