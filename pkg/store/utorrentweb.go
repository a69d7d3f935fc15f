package store

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

const (
	utorrentWebDataDirName    = "uTorrent Web"
	utorrentWebResumeFilename = "resume.dat"
	utorrentWebStoreFilename  = "store.dat"
)

var utorrentWebLog = logger.GetLogger("utorrentweb")

// ResumeInfo is one row of uTorrent Web's embedded resume database.
type ResumeInfo struct {
	InfoHash   string
	ResumeData []byte
	SavePath   sql.NullString
}

// UTorrentWebStore reads uTorrent Web's resume.dat, an SQLite database whose
// rows embed bencoded resume blobs carrying their own info dictionaries.
type UTorrentWebStore struct{}

func NewUTorrentWebStore() *UTorrentWebStore { return &UTorrentWebStore{} }

func (s *UTorrentWebStore) Client() Client { return UTorrentWeb }

func (s *UTorrentWebStore) GuessDataDir(Intent) (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", nil
	}
	dataDir := filepath.Join(appData, utorrentWebDataDirName)
	if s.IsValidDataDir(dataDir, IntentExport) {
		return dataDir, nil
	}
	return "", nil
}

func (s *UTorrentWebStore) IsValidDataDir(dataDir string, _ Intent) bool {
	return isRegularFile(filepath.Join(dataDir, utorrentWebResumeFilename)) &&
		isRegularFile(filepath.Join(dataDir, utorrentWebStoreFilename))
}

func (s *UTorrentWebStore) Export(dataDir string, _ transaction.FileStreamProvider) (TorrentStateIterator, error) {
	utorrentWebLog.Debugf("Loading %s", utorrentWebResumeFilename)

	resumePath := filepath.Join(dataDir, utorrentWebResumeFilename)
	db, err := sql.Open("sqlite3", resumePath+"?mode=ro")
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file for reading: %s", resumePath)
	}

	rows, err := db.Query(`SELECT INFOHASH, RESUME, SAVE_PATH FROM TORRENTS`)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "unable to query resume database: %s", resumePath)
	}

	return &utorrentWebIterator{db: db, rows: rows}, nil
}

func (s *UTorrentWebStore) Import(string, *torrent.Box, transaction.FileStreamProvider) error {
	return errors.Wrap(ErrNotImplemented, "uTorrent Web import")
}

type utorrentWebIterator struct {
	db   *sql.DB
	rows *sql.Rows

	mu   sync.Mutex
	done bool
}

func (it *utorrentWebIterator) Next() (*torrent.Box, error) {
	info, ok, err := it.advance()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return it.load(info)
}

func (it *utorrentWebIterator) advance() (ResumeInfo, bool, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.done {
		return ResumeInfo{}, false, nil
	}

	if !it.rows.Next() {
		it.done = true
		err := it.rows.Err()
		it.rows.Close()
		it.db.Close()
		if err != nil {
			return ResumeInfo{}, false, errors.Wrap(err, "resume database iteration")
		}
		return ResumeInfo{}, false, nil
	}

	var info ResumeInfo
	if err := it.rows.Scan(&info.InfoHash, &info.ResumeData, &info.SavePath); err != nil {
		return ResumeInfo{}, false, errors.Wrap(err, "resume database row")
	}
	return info, true, nil
}

func (it *utorrentWebIterator) load(info ResumeInfo) (*torrent.Box, error) {
	resume, err := bencode.NewDecoder(bytes.NewReader(info.ResumeData)).Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "resume blob for %s", info.InfoHash)
	}

	// The resume blob carries the torrent's info dictionary; a synthetic
	// .torrent document is built around it.
	infoDict, err := resume.Get("info")
	if err != nil {
		return nil, err
	}
	urlList, err := resume.GetDefault("url-list", value.NewList())
	if err != nil {
		return nil, err
	}
	root := value.NewDict()
	rootDict, _ := root.Dict()
	rootDict.Set("info", infoDict)
	rootDict.Set("url-list", urlList)

	box := &torrent.Box{}
	if box.Torrent, err = torrent.FromValue(root); err != nil {
		return nil, err
	}

	if box.AddedAt, err = intField(resume, "added_time"); err != nil {
		return nil, err
	}
	if box.CompletedAt, err = intField(resume, "completed_time"); err != nil {
		return nil, err
	}
	if box.IsPaused, err = boolField(resume, "paused"); err != nil {
		return nil, err
	}
	if box.DownloadedSize, err = uintField(resume, "total_downloaded"); err != nil {
		return nil, err
	}
	if box.UploadedSize, err = uintField(resume, "total_uploaded"); err != nil {
		return nil, err
	}
	box.CorruptedSize = 0

	savePath, err := stringField(resume, "save_path")
	if err != nil {
		if info.SavePath.Valid {
			savePath = info.SavePath.String
		} else {
			return nil, err
		}
	}
	name, err := box.Torrent.Name()
	if err != nil {
		return nil, err
	}
	box.SavePath = joinPath(normalizePath(savePath), name)

	if box.BlockSize, err = box.Torrent.PieceSize(); err != nil {
		return nil, err
	}

	pieces, err := bytesField(resume, "pieces")
	if err != nil {
		return nil, err
	}
	box.ValidBlocks = make([]bool, 0, len(pieces))
	for _, piece := range pieces {
		box.ValidBlocks = append(box.ValidBlocks, piece != 0)
	}

	trackers, err := resume.GetDefault("trackers", value.NewList())
	if err != nil {
		return nil, err
	}
	tiers, err := trackers.List()
	if err != nil {
		return nil, err
	}
	for _, tier := range tiers {
		urls, err := tier.List()
		if err != nil {
			return nil, err
		}
		var tierURLs []string
		for _, url := range urls {
			u, err := url.Str()
			if err != nil {
				return nil, err
			}
			tierURLs = append(tierURLs, u)
		}
		box.Trackers = append(box.Trackers, tierURLs)
	}

	return box, nil
}
