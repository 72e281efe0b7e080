package server

import (
	"context"
	"sync"

	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/session"
	"github.com/lotas/plfolders/internal/types"
	"github.com/lotas/plfolders/internal/watch"
)

type navigation struct {
	ctx context.Context
	url string
}

// Bridge routes extension messages to the session manager and pushes
// session events back to the extension.
type Bridge struct {
	srv  *Server
	page *RemotePage
	mgr  *session.Manager
	nav  chan navigation

	mu     sync.Mutex
	navCtx context.Context
	cancel context.CancelFunc
}

// NewBridge wires srv and page to mgr. mgr should hand out page for new
// sessions.
func NewBridge(srv *Server, page *RemotePage, mgr *session.Manager) *Bridge {
	return &Bridge{
		srv:  srv,
		page: page,
		mgr:  mgr,
		nav:  make(chan navigation, 16),
	}
}

// Run dispatches until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	events, unsubscribe := b.mgr.Subscribe()
	defer unsubscribe()
	defer b.mgr.Close()

	go b.navigateLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.srv.Messages():
			b.handle(ctx, msg)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.push(ev)
		}
	}
}

// navigateLoop applies navigations one at a time. Starting a session can
// take a while; leaving the page cancels it.
func (b *Bridge) navigateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.nav:
			if err := b.mgr.Navigate(n.ctx, n.url); err != nil {
				applog.Error("bridge.navigate", err, "url", n.url)
			}
		}
	}
}

func (b *Bridge) navigate(ctx context.Context, url string) {
	b.mu.Lock()
	if !b.mgr.Matches(url) && b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.cancel == nil {
		b.navCtx, b.cancel = context.WithCancel(ctx)
	}
	navCtx := b.navCtx
	b.mu.Unlock()

	select {
	case b.nav <- navigation{ctx: navCtx, url: url}:
	default:
		applog.Warn("bridge.navigate.dropped", "url", url)
	}
}

func (b *Bridge) handle(ctx context.Context, msg IncomingMsg) {
	switch msg.Type {
	case TypeHello:
		applog.Info("bridge.hello", "version", msg.Version)
		if msg.URL != "" {
			b.navigate(ctx, msg.URL)
		}
	case TypeNavigate:
		b.navigate(ctx, msg.URL)
	case TypeDisconnected:
		b.navigate(ctx, "")
	case TypeSnapshot:
		if err := b.page.Update(msg.HTML, msg.Encoding); err != nil {
			applog.Error("bridge.snapshot", err)
			return
		}
		b.mgr.Observe(watch.Batch{{Kind: watch.KindChildList}})
	case TypeMutations:
		batch, err := ParseRecords(msg.Records)
		if err != nil {
			applog.Error("bridge.mutations", err)
			return
		}
		if msg.HTML != "" {
			if err := b.page.Update(msg.HTML, msg.Encoding); err != nil {
				applog.Error("bridge.mutations.snapshot", err)
				b.page.Invalidate()
			}
		} else if batch.Relevant() {
			b.page.Invalidate()
		}
		b.mgr.Observe(batch)
	case TypeSelect:
		if err := b.mgr.Select(ctx, types.ParseSelection(msg.Selection)); err != nil {
			applog.Error("bridge.select", err)
		}
	case TypeAssign:
		if err := b.mgr.Assign(ctx, msg.ItemID, msg.FolderID); err != nil {
			applog.Error("bridge.assign", err, "item", msg.ItemID, "folder", msg.FolderID)
		}
	case TypeResponse:
		applog.Warn("bridge.response.orphan", "id", msg.ID)
	default:
		applog.Warn("bridge.unknown", "type", msg.Type)
	}
}

func (b *Bridge) push(ev session.Event) {
	var msg OutgoingMsg
	switch ev.Kind {
	case session.EventSelectionReset:
		msg = OutgoingMsg{Action: ActionSelectionReset, Selection: ev.Selection.Key()}
	case session.EventFoldersChanged:
		msg = OutgoingMsg{Action: ActionFoldersChanged}
	case session.EventRefreshed:
		counts := ev.Counts
		msg = OutgoingMsg{Action: ActionCounts, Selection: ev.Selection.Key(), Counts: &counts}
	default:
		return
	}
	if err := b.srv.Send(msg); err != nil {
		applog.Error("bridge.push", err, "action", msg.Action)
	}
}
