package store

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/torrent"
)

var debugLog = logger.GetLogger("debug")

// DebugIterator decorates a reader and dumps every Box it yields at trace
// level.
type DebugIterator struct {
	decoratee TorrentStateIterator
}

func NewDebugIterator(decoratee TorrentStateIterator) *DebugIterator {
	return &DebugIterator{decoratee: decoratee}
}

func (it *DebugIterator) Next() (*torrent.Box, error) {
	box, err := it.decoratee.Next()
	if box == nil || err != nil {
		return box, err
	}

	debugLog.Trace("---")
	debugLog.Tracef("InfoHash = %q", box.Torrent.InfoHash())
	debugLog.Tracef("AddedAt = %d", box.AddedAt)
	debugLog.Tracef("CompletedAt = %d", box.CompletedAt)
	debugLog.Tracef("IsPaused = %t", box.IsPaused)
	debugLog.Tracef("DownloadedSize = %s", humanize.IBytes(box.DownloadedSize))
	debugLog.Tracef("UploadedSize = %s", humanize.IBytes(box.UploadedSize))
	debugLog.Tracef("CorruptedSize = %s", humanize.IBytes(box.CorruptedSize))
	debugLog.Tracef("SavePath = %q", box.SavePath)
	debugLog.Tracef("BlockSize = %s", humanize.IBytes(uint64(box.BlockSize)))
	debugLog.Tracef("RatioLimit = %s", formatLimit(box.RatioLimit))
	debugLog.Tracef("DownloadSpeedLimit = %s", formatLimit(box.DownloadSpeedLimit))
	debugLog.Tracef("UploadSpeedLimit = %s", formatLimit(box.UploadSpeedLimit))
	debugLog.Tracef("Files = %s", formatFiles(box.Files))
	debugLog.Tracef("ValidBlocks = %s", formatBlocks(box.ValidBlocks))
	debugLog.Tracef("Trackers = %v", box.Trackers)

	return box, nil
}

func formatLimit(limit torrent.LimitInfo) string {
	return fmt.Sprintf("%s / %g", limit.Mode, limit.Value)
}

func formatFiles(files []torrent.FileInfo) string {
	parts := make([]string, 0, len(files))
	for _, file := range files {
		part := fmt.Sprintf("%t / %d", file.DoNotDownload, file.Priority)
		if file.Path != "" {
			part += fmt.Sprintf(" / %q", file.Path)
		}
		parts = append(parts, "("+part+")")
	}
	return strings.Join(parts, ", ")
}

func formatBlocks(blocks []bool) string {
	var sb strings.Builder
	for _, valid := range blocks {
		if valid {
			sb.WriteByte('#')
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}
