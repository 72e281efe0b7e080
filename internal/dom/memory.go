package dom

import (
	"context"
	"sync"

	"golang.org/x/net/html"
)

// Memory is an in-process Page over a parsed tree. Scrolling to the end
// calls Grow, which stands in for the host's lazy loading.
type Memory struct {
	mu        sync.Mutex
	doc       *html.Node
	scrollTop int
	scrolls   int

	// Grow is called on every ScrollToEnd. It may append nodes to doc.
	Grow func(doc *html.Node)
}

// NewMemory parses src into a Memory page.
func NewMemory(src string) (*Memory, error) {
	doc, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Memory{doc: doc}, nil
}

func (m *Memory) Document(ctx context.Context) (*html.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *Memory) ScrollToEnd(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrolls++
	m.scrollTop += 1000
	if m.Grow != nil {
		m.Grow(m.doc)
	}
	return nil
}

func (m *Memory) ScrollTop(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollTop, nil
}

func (m *Memory) SetScrollTop(ctx context.Context, top int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrollTop = top
	return nil
}

func (m *Memory) SetHidden(ctx context.Context, hidden, shown []*html.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range hidden {
		SetAttr(n, HiddenAttr, "")
	}
	for _, n := range shown {
		RemoveAttr(n, HiddenAttr)
	}
	return nil
}

// Scrolls returns how many times ScrollToEnd was called.
func (m *Memory) Scrolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrolls
}

// Mutate runs fn against the live tree, the way the host page rewrites its
// own DOM.
func (m *Memory) Mutate(fn func(doc *html.Node)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.doc)
}

// Replace swaps in a freshly parsed document.
func (m *Memory) Replace(src string) error {
	doc, err := Parse(src)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()
	return nil
}
