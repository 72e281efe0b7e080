// Package loader drives the host page's infinite scroll until every
// playlist card has been rendered.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/metrics"
	"golang.org/x/net/html"
)

// ErrBusy is returned when a load is already running.
var ErrBusy = errors.New("loader: already running")

// Options bound a load run.
type Options struct {
	Settle      time.Duration // wait after each scroll
	StableSteps int           // consecutive unchanged counts that end the run
	MaxSteps    int           // hard ceiling on scroll steps
}

// DefaultOptions tolerate ordinary network jitter on the library page.
func DefaultOptions() Options {
	return Options{Settle: 800 * time.Millisecond, StableSteps: 3, MaxSteps: 60}
}

// Driver scrolls a page until its playlist count stops growing.
type Driver struct {
	page    dom.Page
	count   func(*html.Node) int
	clock   clock.Clock
	opts    Options
	running atomic.Bool
}

// New returns a Driver. count reports the qualifying playlists in a
// document, normally catalog.Scanner.Count.
func New(page dom.Page, count func(*html.Node) int, clk clock.Clock, opts Options) *Driver {
	if opts.StableSteps < 1 {
		opts.StableSteps = 1
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = 1
	}
	return &Driver{page: page, count: count, clock: clk, opts: opts}
}

// Active reports whether a load is in progress. Mutations seen while it is
// true are the driver's own doing.
func (d *Driver) Active() bool {
	return d.running.Load()
}

// LoadAll scrolls to the end repeatedly, waiting Settle after each step,
// until the count has been unchanged for StableSteps steps or MaxSteps is
// spent. The original scroll position is restored before returning.
func (d *Driver) LoadAll(ctx context.Context) (int, error) {
	if !d.running.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer d.running.Store(false)

	top, err := d.page.ScrollTop(ctx)
	if err != nil {
		return 0, fmt.Errorf("read scroll position: %w", err)
	}
	defer func() {
		if err := d.page.SetScrollTop(context.WithoutCancel(ctx), top); err != nil {
			applog.Error("load.restore", err, "top", top)
		}
	}()

	doc, err := d.page.Document(ctx)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}
	count := d.count(doc)

	steps, stable := 0, 0
	for steps < d.opts.MaxSteps && stable < d.opts.StableSteps {
		steps++
		if err := d.page.ScrollToEnd(ctx); err != nil {
			return count, fmt.Errorf("scroll step %d: %w", steps, err)
		}
		if err := d.clock.Sleep(ctx, d.opts.Settle); err != nil {
			return count, err
		}
		doc, err := d.page.Document(ctx)
		if err != nil {
			return count, fmt.Errorf("read document at step %d: %w", steps, err)
		}
		if n := d.count(doc); n == count {
			stable++
		} else {
			count, stable = n, 0
		}
	}

	metrics.LazyLoadSteps.Observe(float64(steps))
	applog.Info("load.done", "items", count, "steps", steps, "stable", stable >= d.opts.StableSteps)
	return count, nil
}
