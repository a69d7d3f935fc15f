// Package interrupt holds the process-wide interruption flag set from
// SIGINT/SIGTERM and consulted by the worker loop between torrents.
package interrupt

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/tsmigrate/tsm/pkg/logger"
)

var (
	log         = logger.GetLogger("signal")
	interrupted atomic.Bool
)

// Install registers the signal handlers. Call once at startup.
func Install() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range ch {
			log.Warnf("Received %s, finishing in-flight imports", sig)
			interrupted.Store(true)
		}
	}()
}

// IsInterrupted reports whether a termination signal arrived.
func IsInterrupted() bool {
	return interrupted.Load()
}

// Trigger sets the flag as if a signal had arrived.
func Trigger() {
	interrupted.Store(true)
}

// Reset clears the flag; used by tests.
func Reset() {
	interrupted.Store(false)
}
