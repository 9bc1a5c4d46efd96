// Package progress renders a terminal progress bar for the data stage.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks transferred rows across the whole data stage.
type Tracker struct {
	bar       *progressbar.ProgressBar
	enabled   bool
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker. When enabled is false no bar is drawn but counts
// are still accumulated.
func New(enabled bool) *Tracker {
	return &Tracker{enabled: enabled, startTime: time.Now()}
}

// SetTotal sets the total row count and starts rendering.
func (t *Tracker) SetTotal(total int64) {
	if !t.enabled {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Transferring"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add records n transferred rows.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the rows recorded so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish completes the bar and prints a throughput summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}
	elapsed := time.Since(t.startTime)
	if elapsed > 0 && t.current.Load() > 0 && t.enabled {
		fmt.Printf("Transferred %d rows in %s (%.0f rows/sec)\n",
			t.current.Load(), elapsed.Round(time.Second),
			float64(t.current.Load())/elapsed.Seconds())
	}
}
