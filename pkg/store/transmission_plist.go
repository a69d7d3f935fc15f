package store

import (
	"bytes"
	"io"

	"howett.net/plist"

	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
)

// transferEntry is one <dict> in the Mac application's Transfers.plist.
type transferEntry struct {
	Active                    bool   `plist:"Active"`
	GroupValue                int    `plist:"GroupValue"`
	InternalTorrentPath       string `plist:"InternalTorrentPath"`
	RemoveWhenFinishedSeeding bool   `plist:"RemoveWhenFinishedSeeding"`
	TorrentHash               string `plist:"TorrentHash"`
	WaitToStart               bool   `plist:"WaitToStart"`
}

// appendTransfer registers one migrated torrent in Transfers.plist. The
// read-modify-write cycle runs under the store's plist mutex; within a
// transaction the read observes earlier staged appends, so concurrent
// imports accumulate instead of clobbering each other.
func (s *TransmissionStore) appendTransfer(plistPath, torrentPath string, box *torrent.Box,
	fsp transaction.FileStreamProvider) error {
	s.plistMu.Lock()
	defer s.plistMu.Unlock()

	var transfers []transferEntry
	if stream, err := fsp.GetReadStream(plistPath); err == nil {
		data, readErr := io.ReadAll(stream)
		stream.Close()
		if readErr == nil {
			if _, err := plist.Unmarshal(data, &transfers); err != nil {
				transmissionLog.WithError(err).Warnf("Unreadable %s, starting fresh", transmissionPlistFilename)
				transfers = nil
			}
		}
	}

	transfers = append(transfers, transferEntry{
		Active:              !box.IsPaused,
		GroupValue:          -1,
		InternalTorrentPath: torrentPath,
		TorrentHash:         box.Torrent.InfoHash(),
	})

	buf := &bytes.Buffer{}
	encoder := plist.NewEncoderForFormat(buf, plist.XMLFormat)
	encoder.Indent("\t")
	if err := encoder.Encode(transfers); err != nil {
		return err
	}

	stream, err := fsp.GetWriteStream(plistPath)
	if err != nil {
		return err
	}
	if _, err := stream.Write(buf.Bytes()); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}
