// Package store implements the per-client state stores: readers that turn a
// client's on-disk layout into Box records and writers that emit the target
// client's file set.
package store

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/torrent"
	"github.com/tsmigrate/tsm/pkg/transaction"
)

var (
	// ErrImportCancelled marks a torrent the target client refuses; the
	// migration carries on and the torrent counts as skipped.
	ErrImportCancelled = errors.New("store: import cancelled")

	// ErrInfoHashMismatch is returned when an auxiliary .torrent does not
	// hash to the id its container claims.
	ErrInfoHashMismatch = errors.New("store: info hash mismatch")

	// ErrNotImplemented marks a client/direction pair this tool does not
	// support.
	ErrNotImplemented = errors.New("store: not implemented")

	// ErrUnknownClient is returned when a client name does not match.
	ErrUnknownClient = errors.New("store: unknown torrent client")
)

// Intent states which direction a data directory is being used for; some
// stores validate them differently.
type Intent int

const (
	IntentExport Intent = iota
	IntentImport
)

// Client enumerates the supported torrent clients.
type Client int

const (
	Deluge Client = iota
	RTorrent
	Transmission
	TransmissionMac
	UTorrent
	UTorrentWeb

	firstClient = Deluge
	lastClient  = UTorrentWeb
)

var clientNames = map[Client]string{
	Deluge:          "Deluge",
	RTorrent:        "rTorrent",
	Transmission:    "Transmission",
	TransmissionMac: "TransmissionMac",
	UTorrent:        "uTorrent",
	UTorrentWeb:     "uTorrentWeb",
}

func (c Client) String() string {
	if name, ok := clientNames[c]; ok {
		return name
	}
	return "unknown"
}

// ClientFromString resolves a case-insensitive client name.
func ClientFromString(name string) (Client, error) {
	for client, clientName := range clientNames {
		if strings.EqualFold(name, clientName) {
			return client, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownClient, "%q", name)
}

// TorrentStateIterator is a lazy sequence of Box records. Next is safe for
// concurrent use; it returns (nil, nil) once the source is exhausted, and a
// non-nil error for a torrent that failed to load without ending iteration.
type TorrentStateIterator interface {
	Next() (*torrent.Box, error)
}

// StateStore is one client's capability set.
type StateStore interface {
	Client() Client

	GuessDataDir(intent Intent) (string, error)
	IsValidDataDir(dataDir string, intent Intent) bool

	Export(dataDir string, fsp transaction.FileStreamProvider) (TorrentStateIterator, error)
	Import(dataDir string, box *torrent.Box, fsp transaction.FileStreamProvider) error
}

// Options carries target-format tuning picked up from configuration.
type Options struct {
	// TransmissionCompat29x switches target base-names to the pre-3.0
	// "<caption>.<hash16>" scheme.
	TransmissionCompat29x bool

	// TransmissionWriteFiles additionally emits the resume "files" list of
	// absolute in-download paths.
	TransmissionWriteFiles bool
}

// NewStore constructs the state store for a client.
func NewStore(client Client, opts Options) (StateStore, error) {
	switch client {
	case Deluge:
		return NewDelugeStore(), nil
	case RTorrent:
		return NewRTorrentStore(), nil
	case Transmission:
		return NewTransmissionStore(TransmissionGeneric, opts), nil
	case TransmissionMac:
		return NewTransmissionStore(TransmissionTypeMac, opts), nil
	case UTorrent:
		return NewUTorrentStore(), nil
	case UTorrentWeb:
		return NewUTorrentWebStore(), nil
	}
	return nil, errors.Wrapf(ErrUnknownClient, "client %d", int(client))
}

// GuessByDataDir probes every client store against dataDir; exactly one must
// accept it.
func GuessByDataDir(dataDir string, intent Intent, opts Options) (StateStore, error) {
	var result StateStore
	for client := firstClient; client <= lastClient; client++ {
		candidate, err := NewStore(client, opts)
		if err != nil {
			return nil, err
		}
		if !candidate.IsValidDataDir(dataDir, intent) {
			continue
		}
		if result != nil {
			return nil, errors.Errorf("more than one torrent client matched data directory %q", dataDir)
		}
		result = candidate
	}

	if result == nil {
		return nil, errors.Errorf("no torrent client matched data directory %q", dataDir)
	}
	return result, nil
}
