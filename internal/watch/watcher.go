package watch

import (
	"sync/atomic"
	"time"

	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/metrics"
)

// DefaultDelay exceeds the time the host takes to settle its own DOM after
// a re-sort.
const DefaultDelay = 400 * time.Millisecond

// Record kinds, as reported by the page's MutationObserver.
const (
	KindChildList  = "childList"
	KindAttributes = "attributes"
)

// Record is one mutation record.
type Record struct {
	Kind      string `json:"kind"`
	Target    string `json:"target,omitempty"` // node handle
	Attribute string `json:"attribute,omitempty"`
}

// Batch is one MutationObserver callback's worth of records.
type Batch []Record

// ignoredAttrs are attributes the engine or bridge writes itself.
var ignoredAttrs = map[string]bool{
	dom.HiddenAttr: true,
	dom.HandleAttr: true,
	"hidden":       true,
	"style":        true,
}

// Relevant reports whether any record in b could mean the host recycled a
// node. Any child-list change qualifies: a benign append cannot be told
// apart from an identity-changing reuse.
func (b Batch) Relevant() bool {
	for _, r := range b {
		switch r.Kind {
		case KindChildList:
			return true
		case KindAttributes:
			if !ignoredAttrs[r.Attribute] {
				return true
			}
		}
	}
	return false
}

// Watcher debounces mutation batches into calls to rescan. Batches and
// timer fires are ignored while busy reports true, which is the case while
// the lazy-load driver is scrolling.
type Watcher struct {
	deb     *Debouncer
	busy    func() bool
	stopped atomic.Bool
}

// New returns a started watcher.
func New(clk clock.Clock, delay time.Duration, busy func() bool, rescan func()) *Watcher {
	w := &Watcher{busy: busy}
	w.deb = NewDebouncer(clk, delay, func() {
		if w.stopped.Load() {
			return
		}
		if w.busy != nil && w.busy() {
			applog.Info("watch.skip", "reason", "loading")
			return
		}
		applog.Info("watch.rescan")
		rescan()
	})
	return w
}

// Observe handles one batch.
func (w *Watcher) Observe(b Batch) {
	if w.stopped.Load() {
		return
	}
	if !b.Relevant() {
		metrics.MutationBatchesTotal.WithLabelValues("ignored").Inc()
		return
	}
	if w.busy != nil && w.busy() {
		metrics.MutationBatchesTotal.WithLabelValues("loading").Inc()
		return
	}
	metrics.MutationBatchesTotal.WithLabelValues("debounced").Inc()
	w.deb.Trigger()
}

// Pending reports whether a rescan is scheduled.
func (w *Watcher) Pending() bool {
	return w.deb.Pending()
}

// Stop cancels any pending rescan and ignores further batches.
func (w *Watcher) Stop() {
	w.stopped.Store(true)
	w.deb.Stop()
}
