// Package session owns the engine state for one visit to the playlists
// page: the scan cache, the selection, the lazy-load driver and the
// mutation watcher. A Session is created when the page is entered and
// closed when it is left.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/filter"
	"github.com/lotas/plfolders/internal/folders"
	"github.com/lotas/plfolders/internal/loader"
	"github.com/lotas/plfolders/internal/metrics"
	"github.com/lotas/plfolders/internal/types"
	"github.com/lotas/plfolders/internal/watch"
)

// ErrBusy is returned when an operation would overlap one in progress.
var ErrBusy = errors.New("session: busy")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Options configure a session.
type Options struct {
	Debounce time.Duration
	Load     loader.Options
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{Debounce: watch.DefaultDelay, Load: loader.DefaultOptions()}
}

// Session is the engine for one page view.
type Session struct {
	page    dom.Page
	scanner *catalog.Scanner
	store   *folders.Store
	emit    func(Event)

	cache   Cache
	loader  *loader.Driver
	watcher *watch.Watcher

	mu        sync.Mutex
	selection types.Selection

	// filterMu serialises filter passes, held across the visibility write.
	filterMu sync.Mutex

	started  atomic.Bool
	closed   atomic.Bool
	scanning atomic.Bool
	dirty    atomic.Bool
}

// New builds a session. emit receives presentation events and may be nil.
func New(page dom.Page, scanner *catalog.Scanner, store *folders.Store, clk clock.Clock, opts Options, emit func(Event)) *Session {
	if emit == nil {
		emit = func(Event) {}
	}
	s := &Session{
		page:      page,
		scanner:   scanner,
		store:     store,
		emit:      emit,
		selection: types.All(),
	}
	s.loader = loader.New(page, scanner.Count, clk, opts.Load)
	s.watcher = watch.New(clk, opts.Debounce, s.loader.Active, s.onMutation)
	return s
}

// Start loads the full catalog, scans it and applies the persisted
// selection. It runs at most once per session.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrBusy
	}
	s.mu.Lock()
	s.selection = s.store.Selection(ctx)
	s.mu.Unlock()

	if n, err := s.loader.LoadAll(ctx); err != nil {
		applog.Error("session.load", err)
		if ctx.Err() != nil {
			return err
		}
	} else {
		applog.Info("session.loaded", "items", n)
	}
	return s.refresh(ctx, "start")
}

// Close stops observation. The session must not be used afterwards.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.watcher.Stop()
	s.cache.Invalidate()
	applog.Info("session.closed")
}

// Observe feeds one mutation batch from the page. A relevant batch drops
// the cache at once: any node may already render a different playlist, so
// reads before the debounced rescan must scan again.
func (s *Session) Observe(b watch.Batch) {
	if s.closed.Load() {
		return
	}
	if b.Relevant() && !s.loader.Active() {
		s.cache.Invalidate()
	}
	s.watcher.Observe(b)
}

// LoadAll re-runs the lazy-load driver and rescans.
func (s *Session) LoadAll(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.scanning.Load() {
		return 0, ErrBusy
	}
	n, err := s.loader.LoadAll(ctx)
	if err != nil {
		return n, err
	}
	return n, s.refresh(ctx, "load")
}

// onMutation runs when the debounce timer fires. Nodes may have been
// recycled, so the cache is dropped before anything else happens.
func (s *Session) onMutation() {
	if s.closed.Load() {
		return
	}
	s.cache.Invalidate()
	if err := s.refresh(context.Background(), "mutation"); err != nil {
		applog.Error("session.rescan", err)
	}
}

// refresh rescans and refilters. Concurrent callers coalesce: a request
// made while a scan runs marks the session dirty and the running scan
// loops once more.
func (s *Session) refresh(ctx context.Context, trigger string) error {
	s.dirty.Store(true)
	for {
		if !s.scanning.CompareAndSwap(false, true) {
			return nil
		}
		var err error
		for err == nil && s.dirty.Swap(false) {
			err = s.scanAndFilter(ctx, trigger)
		}
		s.scanning.Store(false)
		if err != nil || !s.dirty.Load() {
			return err
		}
	}
}

func (s *Session) scanAndFilter(ctx context.Context, trigger string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	items, err := s.scan(ctx, trigger)
	if err != nil {
		return err
	}
	if items == nil {
		// Invalidated while scanning; the dirty flag brings us back.
		return nil
	}
	ok, err := s.filter(ctx)
	if err == nil && !ok {
		s.dirty.Store(true)
	}
	return err
}

// scan returns nil items if the result went stale before it was stored.
func (s *Session) scan(ctx context.Context, trigger string) ([]catalog.Item, error) {
	gen := s.cache.Invalidate()
	doc, err := s.page.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	items := s.scanner.Scan(doc)
	if items == nil {
		items = []catalog.Item{}
	}
	if !s.cache.Store(gen, items) {
		metrics.StaleScansTotal.Inc()
		s.dirty.Store(true)
		return nil, nil
	}
	_, scoped := s.scanner.Root(doc)
	metrics.ScansTotal.WithLabelValues(trigger).Inc()
	metrics.ItemsScanned.Set(float64(len(items)))
	applog.Info("scan.done", "trigger", trigger, "items", len(items), "scoped", scoped)
	return items, nil
}

// filter applies the current selection to the cached scan, healing a
// selection that points at a deleted folder. Passes run one at a time and
// read the selection and the cache only once they hold filterMu, so the
// last pass to finish always reflects the latest state. It reports false
// when the cache was invalidated and nothing was applied.
func (s *Session) filter(ctx context.Context) (bool, error) {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()

	items, ok := s.cache.Get()
	if !ok {
		return false, nil
	}
	all := s.store.Folders(ctx)
	sel := s.Selection()

	_, err := filter.Apply(ctx, s.page, sel, items, all)
	if errors.Is(err, filter.ErrSelectionInvalid) {
		s.resetSelection(ctx, sel)
		_, err = filter.Apply(ctx, s.page, types.All(), items, all)
	}
	if err != nil {
		return true, err
	}
	s.emit(Event{Kind: EventRefreshed, Selection: s.Selection(), Counts: filter.Count(items, all)})
	return true, nil
}

func (s *Session) resetSelection(ctx context.Context, stale types.Selection) {
	s.mu.Lock()
	if s.selection != stale {
		s.mu.Unlock()
		return
	}
	s.selection = types.All()
	s.mu.Unlock()

	if err := s.store.SetSelection(ctx, types.All()); err != nil {
		applog.Error("session.selection.reset", err)
	}
	metrics.SelectionResetsTotal.Inc()
	applog.Info("session.selection.reset", "stale", stale.String())
	s.emit(Event{Kind: EventSelectionReset, Selection: types.All()})
}

// Selection returns the active selection.
func (s *Session) Selection() types.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Items returns the cached scan, rescanning first if it was invalidated.
func (s *Session) Items(ctx context.Context) ([]catalog.Item, error) {
	if items, ok := s.cache.Get(); ok {
		return items, nil
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.refresh(ctx, "read"); err != nil {
		return nil, err
	}
	items, ok := s.cache.Get()
	if !ok {
		return nil, ErrBusy
	}
	return items, nil
}

// Refilter applies the current selection to the cached scan, rescanning
// first if the cache was invalidated.
func (s *Session) Refilter(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ok, err := s.filter(ctx)
	if err != nil || ok {
		return err
	}
	// A scan already in flight is marked dirty and filters again when done.
	return s.refresh(ctx, "read")
}

// Select changes and persists the selection, then filters.
func (s *Session) Select(ctx context.Context, sel types.Selection) error {
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	if err := s.store.SetSelection(ctx, sel); err != nil {
		applog.Error("session.selection.save", err)
	}
	applog.Info("session.select", "selection", sel.String())
	return s.Refilter(ctx)
}

// Counts returns per-folder counts for the cached scan.
func (s *Session) Counts(ctx context.Context) (types.Counts, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return types.Counts{}, err
	}
	return filter.Count(items, s.store.Folders(ctx)), nil
}

// Unassigned returns the ids in the current scan that no folder holds.
func (s *Session) Unassigned(ctx context.Context) ([]string, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Unassigned(items, s.store.Folders(ctx)), nil
}

// FoldersChanged re-evaluates the filter after a store mutation and tells
// the presentation layer.
func (s *Session) FoldersChanged(ctx context.Context) error {
	s.emit(Event{Kind: EventFoldersChanged})
	return s.Refilter(ctx)
}
