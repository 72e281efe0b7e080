// Package catalog turns the host's playlist grid into an ordered,
// de-duplicated list of playlist cards.
package catalog

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/lotas/plfolders/internal/dom"
	"golang.org/x/net/html"
)

// Placeholder labels for metadata the host did not render.
const (
	UntitledLabel = "Untitled playlist"
	OwnLabel      = "Your playlist"
	NoCountLabel  = "No videos"
)

// Item is one playlist card found by a scan. Node is only valid until the
// next observed mutation: the host may reuse it for a different playlist.
type Item struct {
	ExternalID string
	Title      string
	Owner      string
	Count      string
	Node       *html.Node
}

// Selectors locate the grid and the card parts. They track the host's
// markup and come from configuration.
type Selectors struct {
	Container     string `mapstructure:"container"`
	Item          string `mapstructure:"item"`
	IDClassPrefix string `mapstructure:"id_class_prefix"`
	Link          string `mapstructure:"link"`
	Title         string `mapstructure:"title"`
	Owner         string `mapstructure:"owner"`
	Count         string `mapstructure:"count"`
}

// DefaultSelectors matches the playlists tab of the library page.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:     `ytd-browse[page-subtype="playlists"]`,
		Item:          `yt-lockup-view-model, ytd-grid-playlist-renderer`,
		IDClassPrefix: "content-id-",
		Link:          `a[href*="list="]`,
		Title:         `h3, #video-title`,
		Owner:         `a[href^="/@"], a[href^="/channel/"]`,
		Count:         `.yt-badge-shape__text, #video-count-text`,
	}
}

// Scanner walks a DOM snapshot into catalog items.
type Scanner struct {
	ex        *Extractor
	container cascadia.Selector
	item      cascadia.Selector
	title     cascadia.Selector
	owner     cascadia.Selector
	count     cascadia.Selector
}

// NewScanner compiles sel. The item selector is required.
func NewScanner(sel Selectors, allowed []string) (*Scanner, error) {
	if strings.TrimSpace(sel.Item) == "" {
		return nil, fmt.Errorf("item selector is empty")
	}
	ex, err := NewExtractor(sel.IDClassPrefix, sel.Link, allowed)
	if err != nil {
		return nil, err
	}
	s := &Scanner{ex: ex}
	for _, c := range []struct {
		src string
		dst *cascadia.Selector
	}{
		{sel.Container, &s.container},
		{sel.Item, &s.item},
		{sel.Title, &s.title},
		{sel.Owner, &s.owner},
		{sel.Count, &s.count},
	} {
		if c.src == "" {
			continue
		}
		compiled, err := cascadia.Compile(c.src)
		if err != nil {
			return nil, fmt.Errorf("compile selector %q: %w", c.src, err)
		}
		*c.dst = compiled
	}
	return s, nil
}

// Extractor returns the scanner's identity extractor.
func (s *Scanner) Extractor() *Extractor { return s.ex }

// Root returns the authoritative grid container. When the container is
// missing it falls back to the whole document and reports false.
func (s *Scanner) Root(doc *html.Node) (*html.Node, bool) {
	if doc == nil {
		return nil, false
	}
	if s.container != nil {
		if root := cascadia.Query(doc, s.container); root != nil {
			return root, true
		}
	}
	return doc, false
}

// Scan returns the playlists under doc in document order. When two nodes
// yield the same id, the first one wins.
func (s *Scanner) Scan(doc *html.Node) []Item {
	root, _ := s.Root(doc)
	if root == nil {
		return nil
	}
	seen := make(map[string]bool)
	var items []Item
	for _, n := range cascadia.QueryAll(root, s.item) {
		id, ok := s.ex.Extract(n)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, s.describe(id, n))
	}
	return items
}

// Count returns the number of distinct playlists under doc.
func (s *Scanner) Count(doc *html.Node) int {
	return len(s.Scan(doc))
}

func (s *Scanner) describe(id string, n *html.Node) Item {
	it := Item{ExternalID: id, Node: n}

	it.Title = s.text(n, s.title)
	if it.Title == "" {
		if a := s.linkOf(n); a != nil {
			it.Title = strings.TrimSpace(dom.Attr(a, "title"))
		}
	}
	if it.Title == "" {
		it.Title = UntitledLabel
	}

	it.Owner = s.text(n, s.owner)
	if it.Owner == "" {
		it.Owner = OwnLabel
	}

	it.Count = s.text(n, s.count)
	if it.Count == "" {
		it.Count = NoCountLabel
	}
	return it
}

func (s *Scanner) text(n *html.Node, sel cascadia.Selector) string {
	if sel == nil {
		return ""
	}
	return dom.Text(cascadia.Query(n, sel))
}

func (s *Scanner) linkOf(n *html.Node) *html.Node {
	if s.ex.link == nil {
		return nil
	}
	if s.ex.link.Match(n) {
		return n
	}
	return cascadia.Query(n, s.ex.link)
}
