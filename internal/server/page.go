package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lotas/plfolders/internal/dom"
	"golang.org/x/net/html"
)

// DefaultRequestTimeout bounds each command sent to the extension.
const DefaultRequestTimeout = 10 * time.Second

// RemotePage is a dom.Page backed by the connected extension. It keeps the
// latest snapshot of the host document; every element in it carries a
// handle attribute that the extension resolves back to the live node.
type RemotePage struct {
	srv     *Server
	timeout time.Duration

	mu    sync.Mutex
	doc   *html.Node
	stale bool
}

// NewRemotePage returns a page that talks through srv.
func NewRemotePage(srv *Server, timeout time.Duration) *RemotePage {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &RemotePage{srv: srv, timeout: timeout}
}

// Reset forgets the current snapshot.
func (p *RemotePage) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = nil
	p.stale = false
}

// Invalidate marks the snapshot out of date; the next Document call asks
// the extension for a fresh one.
func (p *RemotePage) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale = true
}

// Update replaces the snapshot with a pushed one.
func (p *RemotePage) Update(data, encoding string) error {
	src, err := DecodeSnapshot(data, encoding)
	if err != nil {
		return err
	}
	doc, err := dom.Parse(src)
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.stale = false
	p.mu.Unlock()
	return nil
}

func (p *RemotePage) request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.srv.Request(ctx, msg)
}

func (p *RemotePage) Document(ctx context.Context) (*html.Node, error) {
	p.mu.Lock()
	if p.doc != nil && !p.stale {
		doc := p.doc
		p.mu.Unlock()
		return doc, nil
	}
	p.mu.Unlock()

	resp, err := p.request(ctx, OutgoingMsg{Action: ActionRequestSnapshot})
	if err != nil {
		return nil, err
	}
	if err := p.Update(resp.HTML, resp.Encoding); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, nil
}

func (p *RemotePage) ScrollToEnd(ctx context.Context) error {
	if _, err := p.request(ctx, OutgoingMsg{Action: ActionScrollToEnd}); err != nil {
		return err
	}
	p.Invalidate()
	return nil
}

func (p *RemotePage) ScrollTop(ctx context.Context) (int, error) {
	resp, err := p.request(ctx, OutgoingMsg{Action: ActionGetScroll})
	if err != nil {
		return 0, err
	}
	return resp.ScrollTop, nil
}

func (p *RemotePage) SetScrollTop(ctx context.Context, top int) error {
	_, err := p.request(ctx, OutgoingMsg{Action: ActionSetScroll, ScrollTop: &top})
	return err
}

// SetHidden sends the handles to hide and show, then mirrors the change on
// the snapshot nodes. Nodes without a handle are skipped.
func (p *RemotePage) SetHidden(ctx context.Context, hidden, shown []*html.Node) error {
	msg := OutgoingMsg{
		Action: ActionSetHidden,
		Hidden: handles(hidden),
		Shown:  handles(shown),
	}
	if len(msg.Hidden) == 0 && len(msg.Shown) == 0 {
		return nil
	}
	if _, err := p.request(ctx, msg); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range hidden {
		dom.SetAttr(n, dom.HiddenAttr, "")
	}
	for _, n := range shown {
		dom.RemoveAttr(n, dom.HiddenAttr)
	}
	return nil
}

func handles(nodes []*html.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if h := dom.Handle(n); h != "" {
			out = append(out, h)
		}
	}
	return out
}
