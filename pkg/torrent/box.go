// Package torrent holds the canonical in-memory torrent state record and the
// parsed .torrent wrapper shared by all client readers and writers.
package torrent

import (
	"fmt"
	"math"
)

// Canonical priority scale. Client stores remap their own scales onto this
// one on read and back off it on write.
const (
	MinPriority    = -20
	NormalPriority = 0
	MaxPriority    = 20
)

type LimitMode int

const (
	LimitInherit LimitMode = iota
	LimitEnabled
	LimitDisabled
)

func (m LimitMode) String() string {
	switch m {
	case LimitInherit:
		return "Inherit"
	case LimitEnabled:
		return "Enabled"
	case LimitDisabled:
		return "Disabled"
	}
	return fmt.Sprintf("LimitMode(%d)", int(m))
}

// LimitInfo is a single ratio or speed limit.
type LimitInfo struct {
	Mode  LimitMode
	Value float64
}

// FileInfo is the per-file slice of a Box. Path is set only when the client
// relocated the file away from the torrent's original layout; it is relative
// to the download root.
type FileInfo struct {
	DoNotDownload bool
	Priority      int
	Path          string
}

// Box is the canonical per-torrent state record. A Box is produced by one
// reader, owned by exactly one worker and consumed by one writer.
type Box struct {
	Torrent            *Info
	AddedAt            int64
	CompletedAt        int64
	IsPaused           bool
	DownloadedSize     uint64
	UploadedSize       uint64
	CorruptedSize      uint64
	SavePath           string
	BlockSize          uint32
	RatioLimit         LimitInfo
	DownloadSpeedLimit LimitInfo
	UploadSpeedLimit   LimitInfo
	Files              []FileInfo
	ValidBlocks        []bool
	Trackers           [][]string
	Caption            string
}

// PriorityFromStore maps a client-scale priority onto the canonical scale.
// The store's middle value lands on NormalPriority; results are clamped to
// the canonical range for stores whose raw values can fall outside their
// nominal scale.
func PriorityFromStore(storeValue, storeMin, storeMax int) int {
	boxScale := MaxPriority - MinPriority
	storeScale := storeMax - storeMin
	storeMiddle := float64(storeMin) + float64(storeScale)/2
	result := int(math.Round((float64(storeValue) - storeMiddle) * float64(boxScale) / float64(storeScale)))
	return max(MinPriority, min(MaxPriority, result))
}

// PriorityToStore maps a canonical priority onto a client scale.
// NormalPriority lands on the integer median of [storeMin, storeMax].
func PriorityToStore(boxValue, storeMin, storeMax int) int {
	boxScale := MaxPriority - MinPriority
	storeScale := storeMax - storeMin
	storeMiddle := float64(storeMin) + float64(storeScale)/2
	return int(math.Round(storeMiddle + float64(boxValue)*float64(storeScale)/float64(boxScale)))
}
