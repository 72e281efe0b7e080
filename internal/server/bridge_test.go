package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/folders"
	"github.com/lotas/plfolders/internal/session"
	"github.com/lotas/plfolders/internal/storage"
	"github.com/lotas/plfolders/internal/types"
	"nhooyr.io/websocket"
)

// extension is a scripted stand-in for the browser side. It answers
// commands from pageHTML and forwards notifications on a channel.
type extension struct {
	conn  *websocket.Conn
	log   *commandLog
	notes chan OutgoingMsg
}

func newExtension(conn *websocket.Conn) *extension {
	e := &extension{conn: conn, log: &commandLog{}, notes: make(chan OutgoingMsg, 64)}
	go e.run()
	return e
}

func (e *extension) run() {
	ctx := context.Background()
	for {
		_, data, err := e.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd OutgoingMsg
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		if cmd.ID == "" {
			e.notes <- cmd
			continue
		}
		e.log.add(cmd)
		resp := IncomingMsg{Type: TypeResponse, ID: cmd.ID, OK: ok()}
		if cmd.Action == ActionRequestSnapshot {
			resp.HTML = pageHTML
		}
		out, _ := json.Marshal(resp)
		if err := e.conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func (e *extension) send(t *testing.T, msg IncomingMsg) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := e.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (e *extension) await(t *testing.T, action string) OutgoingMsg {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case n := <-e.notes:
			if n.Action == action {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", action)
		}
	}
}

func TestBridgeEndToEnd(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := folders.New(storage.NewKV(db))
	scanner, err := catalog.NewScanner(catalog.DefaultSelectors(), catalog.DefaultAllowedPrefixes)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	srv := New(0)
	page := NewRemotePage(srv, time.Second)
	mgr, err := session.NewManager("", scanner, store, clock.NewFake(), session.DefaultOptions(), func() dom.Page {
		page.Reset()
		return page
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewBridge(srv, page, mgr).Run(ctx)

	ext := newExtension(dial(t, srv, NewRouter(srv, mgr, true)))
	ext.send(t, IncomingMsg{Type: TypeHello, Version: "1.0", URL: "https://www.youtube.com/feed/playlists"})

	counts := ext.await(t, ActionCounts)
	if counts.Counts == nil || counts.Counts.All != 2 {
		t.Fatalf("counts = %+v", counts.Counts)
	}
	if ext.log.count(ActionScrollToEnd) == 0 {
		t.Error("lazy loading never scrolled")
	}

	f, err := mgr.CreateFolder(ctx, "Music")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	ext.send(t, IncomingMsg{Type: TypeAssign, ItemID: "PL2", FolderID: f.ID})
	ext.await(t, ActionFoldersChanged)
	ext.send(t, IncomingMsg{Type: TypeSelect, Selection: f.ID})

	for {
		c := ext.await(t, ActionCounts)
		if c.Selection == f.ID {
			break
		}
	}
	cmd, _ := ext.log.last(ActionSetHidden)
	if len(cmd.Hidden) != 1 || cmd.Hidden[0] != "n2" {
		t.Errorf("setHidden = %+v, want n2 hidden", cmd)
	}

	if err := mgr.DeleteFolder(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	reset := ext.await(t, ActionSelectionReset)
	if types.ParseSelection(reset.Selection) != types.All() {
		t.Errorf("reset selection = %q", reset.Selection)
	}
}
