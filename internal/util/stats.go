package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/call counter.
var Stats = &stats{}

type stats struct {
	FramesSent   atomic.Int64 // cumulative signaling frames written
	FramesRecv   atomic.Int64 // cumulative signaling frames read
	CallsStarted atomic.Int64 // cumulative calls that reached the active state
	CallsEnded   atomic.Int64 // cumulative calls torn down
	MediaBytes   atomic.Int64 // cumulative remote media bytes drained
}

func (s *stats) AddFrameSent()       { s.FramesSent.Add(1) }
func (s *stats) AddFrameRecv()       { s.FramesRecv.Add(1) }
func (s *stats) AddCallStarted()     { s.CallsStarted.Add(1) }
func (s *stats) AddCallEnded()       { s.CallsEnded.Add(1) }
func (s *stats) AddMediaBytes(n int) { s.MediaBytes.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling and call
// statistics every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevMedia int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.FramesSent.Load()
				recv := Stats.FramesRecv.Load()
				media := Stats.MediaBytes.Load()

				outF := sent - prevSent
				inF := recv - prevRecv
				mediaS := float64(media-prevMedia) / 10.0

				if outF > 0 || inF > 0 || mediaS > 10 {
					pterm.DefaultLogger.Info(formatStats(outF, inF, mediaS))
				}

				prevSent = sent
				prevRecv = recv
				prevMedia = media

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outF, inF int64, mediaS float64) string {
	return fmt.Sprintf("Sig: %2d↑ %2d↓ | Media in: %s/s | Calls: %d active-to-date, %d ended",
		outF,
		inF,
		formatBytes(mediaS),
		Stats.CallsStarted.Load(),
		Stats.CallsEnded.Load(),
	)
}
