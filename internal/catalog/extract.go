package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/lotas/plfolders/internal/dom"
	"golang.org/x/net/html"
)

// idShape matches a playlist id token as the host emits it.
var idShape = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// DefaultAllowedPrefixes lists id prefixes of playlists the user curates:
// own and saved playlists (PL) and saved albums (OL). Mixes (RD), uploads
// (UU), Liked (LL) and Watch Later (WL) are generated by the host.
var DefaultAllowedPrefixes = []string{"PL", "OL"}

// Extractor derives a playlist id from a node that renders one catalog card.
type Extractor struct {
	classPrefix string
	link        cascadia.Selector
	allowed     []string
}

// NewExtractor compiles the link selector. classPrefix is the class-token
// prefix that carries the id structurally (e.g. "content-id-").
func NewExtractor(classPrefix, link string, allowed []string) (*Extractor, error) {
	e := &Extractor{classPrefix: classPrefix, allowed: allowed}
	if link != "" {
		sel, err := cascadia.Compile(link)
		if err != nil {
			return nil, fmt.Errorf("compile link selector %q: %w", link, err)
		}
		e.link = sel
	}
	return e, nil
}

// Extract returns the playlist id rendered by n. The second result is false
// when n is not a curated playlist card; that is an expected outcome.
// Strategies run in order; the first that yields a qualifying id wins.
func (e *Extractor) Extract(n *html.Node) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, strategy := range []func(*html.Node) string{e.fromClass, e.fromLink} {
		if id := strategy(n); e.Qualifies(id) {
			return id, true
		}
	}
	return "", false
}

// Qualifies reports whether id is id-shaped and carries an allowed prefix.
func (e *Extractor) Qualifies(id string) bool {
	if !idShape.MatchString(id) {
		return false
	}
	for _, p := range e.allowed {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// fromClass looks for a class token like "content-id-PLxxxx" on n or its
// descendants.
func (e *Extractor) fromClass(n *html.Node) string {
	if e.classPrefix == "" {
		return ""
	}
	var found string
	var walk func(*html.Node) bool
	walk = func(c *html.Node) bool {
		if c.Type == html.ElementNode {
			for _, a := range c.Attr {
				if a.Key != "class" {
					continue
				}
				for _, tok := range strings.Fields(a.Val) {
					if strings.HasPrefix(tok, e.classPrefix) {
						found = strings.TrimPrefix(tok, e.classPrefix)
						return true
					}
				}
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if walk(k) {
				return true
			}
		}
		return false
	}
	walk(n)
	return found
}

// fromLink reads the list= query parameter of the card's playlist link.
func (e *Extractor) fromLink(n *html.Node) string {
	if e.link == nil {
		return ""
	}
	a := n
	if !e.link.Match(n) {
		a = cascadia.Query(n, e.link)
	}
	if a == nil {
		return ""
	}
	return listParam(dom.Attr(a, "href"))
}

func listParam(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}
