package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/bencode"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
	"github.com/tsmigrate/tsm/pkg/value"
)

// TransmissionType selects the on-disk flavour: the generic/daemon layout or
// the macOS application layout.
type TransmissionType int

const (
	TransmissionGeneric TransmissionType = iota
	TransmissionTypeMac
)

const (
	transmissionCommonDataDirName = "transmission"
	transmissionDaemonDataDirName = "transmission-daemon"
	transmissionMacDataDirName    = "Transmission"
	transmissionPlistFilename     = "Transfers.plist"

	transmissionMinPriority = -1
	transmissionMaxPriority = 1

	// Transmission's internal sub-block unit; torrent piece sizes must be a
	// positive multiple of it.
	transmissionBlockSize = 16 * 1024
)

var transmissionLog = logger.GetLogger("transmission")

// TransmissionStore writes one .torrent plus one .resume per imported Box;
// the Mac flavour additionally registers each transfer in Transfers.plist.
type TransmissionStore struct {
	stateType TransmissionType
	opts      Options

	plistMu sync.Mutex
}

func NewTransmissionStore(stateType TransmissionType, opts Options) *TransmissionStore {
	return &TransmissionStore{stateType: stateType, opts: opts}
}

func (s *TransmissionStore) Client() Client {
	if s.stateType == TransmissionTypeMac {
		return TransmissionMac
	}
	return Transmission
}

func (s *TransmissionStore) resumeDir(dataDir string) string {
	if s.stateType == TransmissionTypeMac {
		return filepath.Join(dataDir, "Resume")
	}
	return filepath.Join(dataDir, "resume")
}

func (s *TransmissionStore) torrentsDir(dataDir string) string {
	if s.stateType == TransmissionTypeMac {
		return filepath.Join(dataDir, "Torrents")
	}
	return filepath.Join(dataDir, "torrents")
}

func (s *TransmissionStore) GuessDataDir(intent Intent) (string, error) {
	if s.stateType == TransmissionTypeMac {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		dataDir := filepath.Join(home, "Library", "Application Support", transmissionMacDataDirName)
		if s.IsValidDataDir(dataDir, intent) {
			return dataDir, nil
		}
		return "", nil
	}

	for _, name := range []string{transmissionCommonDataDirName, transmissionDaemonDataDirName} {
		dataDir := filepath.Join(configHome(), name)
		if s.IsValidDataDir(dataDir, intent) {
			return dataDir, nil
		}
	}
	return "", nil
}

func (s *TransmissionStore) IsValidDataDir(dataDir string, _ Intent) bool {
	return isDirectory(s.resumeDir(dataDir)) && isDirectory(s.torrentsDir(dataDir))
}

func (s *TransmissionStore) Export(string, transaction.FileStreamProvider) (TorrentStateIterator, error) {
	return nil, errors.Wrap(ErrNotImplemented, "Transmission export")
}

func (s *TransmissionStore) Import(dataDir string, box *torrent.Box, fsp transaction.FileStreamProvider) error {
	if box.BlockSize == 0 || box.BlockSize%transmissionBlockSize != 0 {
		return errors.Wrapf(ErrImportCancelled,
			"Transmission does not support torrents with piece length not multiple of 16 KiB: %d", box.BlockSize)
	}
	for _, file := range box.Files {
		if file.Path != "" && isAbsPath(file.Path) {
			return errors.Wrapf(ErrImportCancelled,
				"Transmission does not support moving files outside of download directory: %s", file.Path)
		}
	}

	totalSize, err := box.Torrent.TotalSize()
	if err != nil {
		return err
	}

	resume := value.NewDict()
	dict, _ := resume.Dict()

	dict.Set("added-date", value.NewInt(box.AddedAt))
	dict.Set("corrupt", value.NewUint(box.CorruptedSize))
	dict.Set("destination", value.NewString(parentPath(box.SavePath)))
	dict.Set("dnd", storeDoNotDownload(box.Files))
	dict.Set("done-date", value.NewInt(box.CompletedAt))
	dict.Set("downloaded", value.NewUint(box.DownloadedSize))
	dict.Set("name", value.NewString(basePath(box.SavePath)))
	dict.Set("paused", boolToInt(box.IsPaused))
	dict.Set("priority", storePriorities(box.Files))
	dict.Set("progress", storeProgress(box.ValidBlocks, box.BlockSize, totalSize, len(box.Files)))
	dict.Set("ratio-limit", storeRatioLimit(box.RatioLimit))
	dict.Set("speed-limit-down", storeSpeedLimit(box.DownloadSpeedLimit))
	dict.Set("speed-limit-up", storeSpeedLimit(box.UploadSpeedLimit))
	dict.Set("uploaded", value.NewUint(box.UploadedSize))

	if s.opts.TransmissionWriteFiles {
		files, err := storeFiles(box)
		if err != nil {
			return err
		}
		dict.Set("files", files)
	}

	if err := box.Torrent.SetTrackers(box.Trackers); err != nil {
		return err
	}

	baseName := box.Torrent.InfoHash()
	if s.opts.TransmissionCompat29x {
		baseName = fmt.Sprintf("%s.%s", s.caption(box), box.Torrent.InfoHash()[:16])
	}

	torrentPath := filepath.Join(s.torrentsDir(dataDir), baseName+".torrent")
	if err := s.writeTorrent(torrentPath, box, fsp); err != nil {
		return err
	}

	resumePath := filepath.Join(s.resumeDir(dataDir), baseName+".resume")
	if err := s.writeResume(resumePath, resume, fsp); err != nil {
		return err
	}

	if s.stateType == TransmissionTypeMac {
		plistPath := filepath.Join(dataDir, transmissionPlistFilename)
		if err := s.appendTransfer(plistPath, torrentPath, box, fsp); err != nil {
			return err
		}
	}

	return nil
}

func (s *TransmissionStore) caption(box *torrent.Box) string {
	if box.Caption != "" {
		return box.Caption
	}
	if name, err := box.Torrent.Name(); err == nil && name != "" {
		return name
	}
	return basePath(box.SavePath)
}

func (s *TransmissionStore) writeTorrent(path string, box *torrent.Box, fsp transaction.FileStreamProvider) error {
	stream, err := fsp.GetWriteStream(path)
	if err != nil {
		return err
	}
	if err := box.Torrent.Encode(stream); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

func (s *TransmissionStore) writeResume(path string, resume *value.Value, fsp transaction.FileStreamProvider) error {
	stream, err := fsp.GetWriteStream(path)
	if err != nil {
		return err
	}
	if err := bencode.NewEncoder(stream).Encode(resume); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

func storeDoNotDownload(files []torrent.FileInfo) *value.Value {
	result := value.NewList()
	for _, file := range files {
		_ = result.Append(boolToInt(file.DoNotDownload))
	}
	return result
}

func storePriorities(files []torrent.FileInfo) *value.Value {
	result := value.NewList()
	for _, file := range files {
		priority := torrent.PriorityToStore(file.Priority, transmissionMinPriority, transmissionMaxPriority)
		_ = result.Append(value.NewInt(int64(priority)))
	}
	return result
}

// storeProgress builds the resume progress map. Partially complete torrents
// expand each source piece into blockSize/16KiB sub-blocks, packed MSB-first
// and trimmed to Transmission's own bitmap length.
func storeProgress(validBlocks []bool, blockSize uint32, totalSize uint64, fileCount int) *value.Value {
	result := value.NewDict()
	dict, _ := result.Dict()

	validCount := 0
	for _, valid := range validBlocks {
		if valid {
			validCount++
		}
	}

	switch {
	case validCount == len(validBlocks):
		dict.Set("blocks", value.NewString("all"))
		dict.Set("have", value.NewString("all"))

	case validCount == 0:
		dict.Set("blocks", value.NewString("none"))

	default:
		subBlocksPerBlock := blockSize / transmissionBlockSize

		packed := make([]byte, 0, (len(validBlocks)*int(subBlocksPerBlock)+7)/8)
		var pack byte
		shift := 7
		for _, valid := range validBlocks {
			for i := uint32(0); i < subBlocksPerBlock; i++ {
				if valid {
					pack |= 1 << uint(shift)
				}
				if shift--; shift < 0 {
					packed = append(packed, pack)
					pack = 0
					shift = 7
				}
			}
		}
		if shift < 7 {
			packed = append(packed, pack)
		}

		subBlockCount := (totalSize + transmissionBlockSize - 1) / transmissionBlockSize
		packedLen := (subBlockCount + 7) / 8
		trimmed := make([]byte, packedLen)
		copy(trimmed, packed)

		dict.Set("blocks", value.NewBytes(trimmed))
	}

	timeChecked := time.Now().Unix()
	checked := value.NewList()
	for i := 0; i < fileCount; i++ {
		_ = checked.Append(value.NewInt(timeChecked))
	}
	dict.Set("time-checked", checked)

	return result
}

func storeRatioLimit(limit torrent.LimitInfo) *value.Value {
	result := value.NewDict()
	dict, _ := result.Dict()

	mode := int64(0)
	switch limit.Mode {
	case torrent.LimitEnabled:
		mode = 1
	case torrent.LimitDisabled:
		mode = 2
	}
	dict.Set("ratio-mode", value.NewInt(mode))
	dict.Set("ratio-limit", value.NewString(fmt.Sprintf("%.06f", limit.Value)))
	return result
}

func storeSpeedLimit(limit torrent.LimitInfo) *value.Value {
	result := value.NewDict()
	dict, _ := result.Dict()

	dict.Set("speed-Bps", value.NewInt(int64(limit.Value)))
	dict.Set("use-global-speed-limit", boolToInt(limit.Mode != torrent.LimitDisabled))
	dict.Set("use-speed-limit", boolToInt(limit.Mode == torrent.LimitEnabled))
	return result
}

// storeFiles lists the absolute in-download path of every file, honouring
// per-file relocations.
func storeFiles(box *torrent.Box) (*value.Value, error) {
	result := value.NewList()
	for i := range box.Files {
		relative := box.Files[i].Path
		if relative == "" {
			original, err := box.Torrent.FilePath(i)
			if err != nil {
				return nil, err
			}
			relative = original
		}
		_ = result.Append(value.NewString(joinPath(box.SavePath, relative)))
	}
	return result, nil
}

func boolToInt(v bool) *value.Value {
	if v {
		return value.NewInt(1)
	}
	return value.NewInt(0)
}
