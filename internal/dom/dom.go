// Package dom models the host page: a parsed HTML tree plus the handful of
// operations the engine performs on it (scrolling and toggling visibility).
package dom

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// HandleAttr is the attribute the extension stamps on every element so that
// commands can address the physical node it came from. A handle identifies a
// node, not the playlist it renders; the host may recycle the node.
const HandleAttr = "data-pf-node"

// HiddenAttr marks an element hidden by the engine.
const HiddenAttr = "data-pf-hidden"

// Page is the host page. Every method crosses an asynchronous boundary.
type Page interface {
	// Document returns the current DOM. Nodes from a previous call must
	// not be reused once a mutation has been observed.
	Document(ctx context.Context) (*html.Node, error)
	ScrollToEnd(ctx context.Context) error
	ScrollTop(ctx context.Context) (int, error)
	SetScrollTop(ctx context.Context, top int) error
	// SetHidden hides and reveals nodes taken from the latest Document.
	SetHidden(ctx context.Context, hidden, shown []*html.Node) error
}

// Parse parses an HTML string into a document node.
func Parse(s string) (*html.Node, error) {
	return html.Parse(strings.NewReader(s))
}

// Render serialises a node back to HTML.
func Render(n *html.Node) string {
	var b strings.Builder
	html.Render(&b, n)
	return b.String()
}

// Attr returns the value of key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries key.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr drops key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// Handle returns the extension-assigned handle of n, or "".
func Handle(n *html.Node) string {
	return Attr(n, HandleAttr)
}

// IsHidden reports whether the engine has hidden n.
func IsHidden(n *html.Node) bool {
	return HasAttr(n, HiddenAttr)
}

// Text returns the text content of n with whitespace collapsed.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
