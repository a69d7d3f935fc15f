package store

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
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
	rtorrentConfigFilename          = ".rtorrent.rc"
	rtorrentStateFileExtension      = ".rtorrent"
	rtorrentLibTorrentFileExtension = ".libtorrent_resume"

	rtorrentDoNotDownloadPriority = 0
	rtorrentMinPriority           = -1
	rtorrentMaxPriority           = 1
)

var (
	rtorrentLog          = logger.GetLogger("rtorrent")
	rtorrentSessionRegex = regexp.MustCompile(`^\s*session\s*=\s*(.+)$`)
)

// RTorrentStore reads an rTorrent session directory: per-torrent .rtorrent
// state files with .libtorrent_resume and bare .torrent siblings.
type RTorrentStore struct{}

func NewRTorrentStore() *RTorrentStore { return &RTorrentStore{} }

func (s *RTorrentStore) Client() Client { return RTorrent }

// GuessDataDir parses the session directory out of ~/.rtorrent.rc.
func (s *RTorrentStore) GuessDataDir(intent Intent) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}

	configPath := filepath.Join(home, rtorrentConfigFilename)
	if !isRegularFile(configPath) {
		return "", nil
	}

	f, err := os.Open(configPath)
	if err != nil {
		return "", errors.Wrapf(err, "unable to open file for reading: %s", configPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if m := rtorrentSessionRegex.FindStringSubmatch(line); m != nil {
			dataDir := normalizePath(strings.TrimSpace(m[1]))
			if s.IsValidDataDir(dataDir, intent) {
				return dataDir, nil
			}
		}
	}
	return "", nil
}

func (s *RTorrentStore) IsValidDataDir(dataDir string, intent Intent) bool {
	if intent == IntentImport {
		return isDirectory(dataDir)
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if _, ok := rtorrentSiblings(dataDir, entry); ok {
			return true
		}
	}
	return false
}

// rtorrentSiblings checks one directory entry for the .rtorrent state file
// and both of its required siblings.
func rtorrentSiblings(dataDir string, entry os.DirEntry) (rtorrentPaths, bool) {
	name := entry.Name()
	if !strings.HasSuffix(name, rtorrentStateFileExtension) || !entry.Type().IsRegular() {
		return rtorrentPaths{}, false
	}

	stem := strings.TrimSuffix(name, rtorrentStateFileExtension)
	paths := rtorrentPaths{
		state:   filepath.Join(dataDir, name),
		torrent: filepath.Join(dataDir, stem),
		resume:  filepath.Join(dataDir, stem+rtorrentLibTorrentFileExtension),
	}
	if !isRegularFile(paths.torrent) || !isRegularFile(paths.resume) {
		return rtorrentPaths{}, false
	}
	return paths, true
}

type rtorrentPaths struct {
	state   string
	torrent string
	resume  string
}

func (s *RTorrentStore) Export(dataDir string, fsp transaction.FileStreamProvider) (TorrentStateIterator, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.Wrapf(err, "bad rTorrent data directory: %s", dataDir)
	}

	return &rtorrentIterator{
		dataDir: dataDir,
		entries: entries,
		fsp:     fsp,
	}, nil
}

func (s *RTorrentStore) Import(string, *torrent.Box, transaction.FileStreamProvider) error {
	return errors.Wrap(ErrNotImplemented, "rTorrent import")
}

type rtorrentIterator struct {
	dataDir string
	entries []os.DirEntry
	fsp     transaction.FileStreamProvider

	mu   sync.Mutex
	next int
}

func (it *rtorrentIterator) Next() (*torrent.Box, error) {
	paths, ok := it.advance()
	if !ok {
		return nil, nil
	}
	return it.load(paths)
}

func (it *rtorrentIterator) advance() (rtorrentPaths, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for it.next < len(it.entries) {
		entry := it.entries[it.next]
		it.next++

		paths, ok := rtorrentSiblings(it.dataDir, entry)
		if !ok {
			if strings.HasSuffix(entry.Name(), rtorrentStateFileExtension) {
				rtorrentLog.Warnf("File %q is missing its torrent or resume sibling, skipping", entry.Name())
			}
			continue
		}
		return paths, true
	}
	return rtorrentPaths{}, false
}

func (it *rtorrentIterator) load(paths rtorrentPaths) (*torrent.Box, error) {
	box := &torrent.Box{}

	torrentStream, err := it.fsp.GetReadStream(paths.torrent)
	if err != nil {
		return nil, err
	}
	box.Torrent, err = torrent.Decode(torrentStream)
	torrentStream.Close()
	if err != nil {
		return nil, errors.Wrap(err, paths.torrent)
	}

	stem := strings.TrimSuffix(filepath.Base(paths.torrent), ".torrent")
	if !strings.EqualFold(box.Torrent.InfoHash(), stem) {
		return nil, errors.Wrapf(ErrInfoHashMismatch, "%s vs. %s", box.Torrent.InfoHash(), stem)
	}

	stateData, err := readAll(it.fsp, paths.state)
	if err != nil {
		return nil, err
	}
	state, err := bencode.Decode(stateData)
	if err != nil {
		return nil, errors.Wrap(err, paths.state)
	}

	resumeData, err := readAll(it.fsp, paths.resume)
	if err != nil {
		return nil, err
	}
	resume, err := bencode.Decode(resumeData)
	if err != nil {
		return nil, errors.Wrap(err, paths.resume)
	}

	if box.AddedAt, err = intField(state, "timestamp.started"); err != nil {
		return nil, err
	}
	if box.CompletedAt, err = intField(state, "timestamp.finished"); err != nil {
		return nil, err
	}
	priority, err := intField(state, "priority")
	if err != nil {
		return nil, err
	}
	box.IsPaused = priority == 0
	if box.UploadedSize, err = uintField(state, "total_uploaded"); err != nil {
		return nil, err
	}
	directory, err := stringField(state, "directory")
	if err != nil {
		return nil, err
	}
	box.SavePath = normalizePath(directory)
	if box.BlockSize, err = box.Torrent.PieceSize(); err != nil {
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

	bitfield, err := bytesField(resume, "bitfield")
	if err != nil {
		return nil, err
	}
	box.ValidBlocks = truncateBlocks(unpackBitsMSB(bitfield), blockCount)

	if err := it.loadTrackers(resume, box); err != nil {
		return nil, err
	}

	return box, nil
}

func (it *rtorrentIterator) loadFiles(resume *value.Value, box *torrent.Box) error {
	files, err := resume.Get("files")
	if err != nil {
		return err
	}
	items, err := files.List()
	if err != nil {
		return err
	}

	box.Files = make([]torrent.FileInfo, 0, len(items))
	for _, item := range items {
		priority64, err := intField(item, "priority")
		if err != nil {
			return err
		}
		priority := int(priority64)

		file := torrent.FileInfo{
			DoNotDownload: priority == rtorrentDoNotDownloadPriority,
			Priority:      torrent.NormalPriority,
		}
		if !file.DoNotDownload {
			file.Priority = torrent.PriorityFromStore(priority-1, rtorrentMinPriority, rtorrentMaxPriority)
		}
		box.Files = append(box.Files, file)
	}
	return nil
}

// rTorrent keeps one flat tracker map; tier structure is not preserved, so
// every enabled tracker lands in its own tier. The synthetic dht:// entry is
// dropped.
func (it *rtorrentIterator) loadTrackers(resume *value.Value, box *torrent.Box) error {
	trackers, err := resume.Get("trackers")
	if err != nil {
		return err
	}
	dict, err := trackers.Dict()
	if err != nil {
		return err
	}

	for _, field := range dict.Fields() {
		if field.Key == "dht://" {
			continue
		}
		enabled, err := intField(field.Value, "enabled")
		if err != nil {
			return err
		}
		if enabled == 1 {
			box.Trackers = append(box.Trackers, []string{field.Key})
		}
	}
	return nil
}
