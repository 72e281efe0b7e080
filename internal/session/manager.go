package session

import (
	"context"
	"regexp"
	"sync"

	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/folders"
	"github.com/lotas/plfolders/internal/types"
	"github.com/lotas/plfolders/internal/watch"
)

// DefaultPagePattern matches the playlists library URL.
const DefaultPagePattern = `youtube\.com/feed/playlists`

// Manager follows navigation and keeps at most one Session alive, the one
// for the playlists page. Folder mutations go through the Manager so they
// work whether or not the page is open.
type Manager struct {
	pattern *regexp.Regexp
	scanner *catalog.Scanner
	store   *folders.Store
	clock   clock.Clock
	opts    Options
	pageFor func() dom.Page

	mu      sync.Mutex
	current *Session
	url     string

	subMu sync.Mutex
	subs  []chan Event
}

// NewManager compiles pattern and returns a manager. pageFor supplies the
// page handle for a new session.
func NewManager(pattern string, scanner *catalog.Scanner, store *folders.Store, clk clock.Clock, opts Options, pageFor func() dom.Page) (*Manager, error) {
	if pattern == "" {
		pattern = DefaultPagePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Manager{
		pattern: re,
		scanner: scanner,
		store:   store,
		clock:   clk,
		opts:    opts,
		pageFor: pageFor,
	}, nil
}

// Store returns the assignment store.
func (m *Manager) Store() *folders.Store { return m.store }

// Matches reports whether url is the playlists page.
func (m *Manager) Matches(url string) bool {
	return m.pattern.MatchString(url)
}

// Navigate handles a URL change in the host page. Entering the playlists
// page starts a session; leaving it closes the current one. Repeated
// navigation events for the same page do not start a second session.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	m.url = url
	if !m.Matches(url) {
		old := m.current
		m.current = nil
		m.mu.Unlock()
		if old != nil {
			old.Close()
			applog.Info("session.leave", "url", url)
			m.publish(Event{Kind: EventSessionEnded})
		}
		return nil
	}
	if m.current != nil {
		m.mu.Unlock()
		return nil
	}
	s := New(m.pageFor(), m.scanner, m.store, m.clock, m.opts, m.publish)
	m.current = s
	m.mu.Unlock()

	applog.Info("session.enter", "url", url)
	m.publish(Event{Kind: EventSessionStarted, Selection: m.store.Selection(ctx)})
	return s.Start(ctx)
}

// Current returns the live session, or nil off the playlists page.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// URL returns the last navigated URL.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Observe forwards a mutation batch to the live session.
func (m *Manager) Observe(b watch.Batch) {
	if s := m.Current(); s != nil {
		s.Observe(b)
	}
}

// Close ends the live session.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Select changes the selection, filtering the live page if there is one.
func (m *Manager) Select(ctx context.Context, sel types.Selection) error {
	if s := m.Current(); s != nil {
		return s.Select(ctx, sel)
	}
	return m.store.SetSelection(ctx, sel)
}

// Selection returns the active selection.
func (m *Manager) Selection(ctx context.Context) types.Selection {
	if s := m.Current(); s != nil {
		return s.Selection()
	}
	return m.store.Selection(ctx)
}

// CreateFolder adds a folder.
func (m *Manager) CreateFolder(ctx context.Context, name string) (types.Folder, error) {
	f, err := m.store.CreateFolder(ctx, name)
	if err != nil {
		return f, err
	}
	m.changed(ctx)
	return f, nil
}

// RenameFolder renames a folder.
func (m *Manager) RenameFolder(ctx context.Context, id, name string) error {
	if err := m.store.RenameFolder(ctx, id, name); err != nil {
		return err
	}
	m.changed(ctx)
	return nil
}

// DeleteFolder removes a folder. If it was selected the selection falls
// back to all and exactly one reset event is published.
func (m *Manager) DeleteFolder(ctx context.Context, id string) error {
	reset, err := m.store.DeleteFolder(ctx, id)
	if err != nil {
		return err
	}
	if s := m.Current(); s != nil {
		// The live session notices the stale selection on its next pass.
		m.changed(ctx)
		return nil
	}
	if reset {
		m.publish(Event{Kind: EventSelectionReset, Selection: types.All()})
	}
	m.changed(ctx)
	return nil
}

// Assign moves itemID into folderID, or out of every folder when
// folderID is empty.
func (m *Manager) Assign(ctx context.Context, itemID, folderID string) error {
	if err := m.store.Assign(ctx, itemID, folderID); err != nil {
		return err
	}
	m.changed(ctx)
	return nil
}

// Import merges an export file into the store.
func (m *Manager) Import(ctx context.Context, data []byte) (int, error) {
	n, err := m.store.Import(ctx, data)
	if err != nil {
		return 0, err
	}
	m.changed(ctx)
	return n, nil
}

func (m *Manager) changed(ctx context.Context) {
	if s := m.Current(); s != nil {
		if err := s.FoldersChanged(ctx); err != nil {
			applog.Error("session.refilter", err)
		}
		return
	}
	m.publish(Event{Kind: EventFoldersChanged})
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Slow subscribers lose events rather than block the engine.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			applog.Warn("event.dropped", "kind", ev.Kind.String())
		}
	}
}
