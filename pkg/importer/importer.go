// Package importer drains a source state store into a target store with a
// fixed pool of workers sharing one iterator.
package importer

import (
	"path"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tsmigrate/tsm/pkg/filter"
	"github.com/tsmigrate/tsm/pkg/interrupt"
	"github.com/tsmigrate/tsm/pkg/logger"
	"github.com/tsmigrate/tsm/pkg/store"
	"github.com/tsmigrate/tsm/pkg/transaction"
)

var log = logger.GetLogger("import")

// Result carries the per-run counters. Every torrent drained from the source
// lands in exactly one of them.
type Result struct {
	SuccessCount  uint64
	SkipCount     uint64
	FailCount     uint64
	MigratedBytes uint64
}

// Clean reports whether the run had no failures and no skips.
func (r Result) Clean() bool {
	return r.FailCount == 0 && r.SkipCount == 0
}

// Importer wires a source reader to a target writer through the transaction.
type Importer struct {
	source    store.StateStore
	sourceDir string
	target    store.StateStore
	targetDir string
	fsp       transaction.FileStreamProvider
	filter    *filter.Filter
}

func New(source store.StateStore, sourceDir string, target store.StateStore, targetDir string,
	fsp transaction.FileStreamProvider, f *filter.Filter) *Importer {
	return &Importer{
		source:    source,
		sourceDir: sourceDir,
		target:    target,
		targetDir: targetDir,
		fsp:       fsp,
		filter:    f,
	}
}

// Run drains the source with threadCount workers. The returned error covers
// only the export setup; per-torrent problems are logged and counted.
func (im *Importer) Run(threadCount int) (Result, error) {
	if threadCount < 1 {
		threadCount = 1
	}

	iterator, err := im.source.Export(im.sourceDir, im.fsp)
	if err != nil {
		return Result{}, errors.Wrapf(err, "export from %s", im.source.Client())
	}
	if logrus.GetLevel() >= logrus.TraceLevel {
		iterator = store.NewDebugIterator(iterator)
	}

	var success, skip, fail, migrated atomic.Uint64

	var wg sync.WaitGroup
	for i := 0; i < threadCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im.work(iterator, &success, &skip, &fail, &migrated)
		}()
	}
	wg.Wait()

	result := Result{
		SuccessCount:  success.Load(),
		SkipCount:     skip.Load(),
		FailCount:     fail.Load(),
		MigratedBytes: migrated.Load(),
	}

	log.Infof("Imported %d torrents (%s), skipped %d, failed %d",
		result.SuccessCount, humanize.IBytes(result.MigratedBytes), result.SkipCount, result.FailCount)
	return result, nil
}

func (im *Importer) work(iterator store.TorrentStateIterator, success, skip, fail, migrated *atomic.Uint64) {
	for !interrupt.IsInterrupted() {
		box, err := iterator.Next()
		if err != nil {
			fail.Add(1)
			log.WithError(err).Error("Failed reading torrent state")
			continue
		}
		if box == nil {
			return
		}

		prefix := "[" + path.Base(box.SavePath) + "] "

		if im.filter != nil {
			matched, err := im.filter.Match(box)
			if err != nil {
				fail.Add(1)
				log.WithError(err).Errorf("%sFailed evaluating filter", prefix)
				continue
			}
			if !matched {
				skip.Add(1)
				log.Debugf("%sSkipped by filter", prefix)
				continue
			}
		}

		log.Infof("%sImport started", prefix)
		if err := im.target.Import(im.targetDir, box, im.fsp); err != nil {
			if errors.Is(err, store.ErrImportCancelled) {
				skip.Add(1)
				log.WithError(err).Warnf("%sImport cancelled", prefix)
			} else {
				fail.Add(1)
				log.WithError(err).Errorf("%sImport failed", prefix)
			}
			continue
		}

		success.Add(1)
		migrated.Add(box.DownloadedSize)
		log.Infof("%sImport finished", prefix)
	}
}
