package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/types"
	"nhooyr.io/websocket"
)

// Incoming message types.
const (
	TypeHello        = "hello"
	TypeNavigate     = "navigate"
	TypeSnapshot     = "snapshot"
	TypeMutations    = "mutations"
	TypeResponse     = "response"
	TypeSelect       = "select"
	TypeAssign       = "assign"
	TypeDisconnected = "disconnected"
)

// Outgoing actions.
const (
	ActionScrollToEnd     = "scrollToEnd"
	ActionGetScroll       = "getScroll"
	ActionSetScroll       = "setScroll"
	ActionRequestSnapshot = "requestSnapshot"
	ActionSetHidden       = "setHidden"
	ActionSelectionReset  = "selectionReset"
	ActionFoldersChanged  = "foldersChanged"
	ActionCounts          = "counts"
)

// ErrNotConnected is returned by Request when no extension is attached.
var ErrNotConnected = errors.New("server: extension not connected")

// IncomingMsg is a message from the extension.
type IncomingMsg struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	// Snapshot fields. Encoding is empty for plain HTML or "lz4".
	HTML     string          `json:"html,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
	Records  json.RawMessage `json:"records,omitempty"`
	// Command response fields
	ID        string `json:"id,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	ScrollTop int    `json:"scrollTop,omitempty"`
	// Popup fields
	Selection string `json:"selection,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
	FolderID  string `json:"folderId,omitempty"`
}

// OutgoingMsg is a command or notification for the extension.
type OutgoingMsg struct {
	ID        string        `json:"id,omitempty"`
	Action    string        `json:"action"`
	ScrollTop *int          `json:"scrollTop,omitempty"`
	Hidden    []string      `json:"hidden,omitempty"`
	Shown     []string      `json:"shown,omitempty"`
	Selection string        `json:"selection,omitempty"`
	Counts    *types.Counts `json:"counts,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming messages from the extension.
// Responses to Request are not delivered here.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a message to the connected extension. It is a no-op when
// nothing is connected.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Request sends a command and waits for the matching response. A response
// with ok=false is returned as an error.
func (s *Server) Request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ch := make(chan IncomingMsg, 1)

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return IncomingMsg{}, ErrNotConnected
	}
	s.pending[msg.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}
	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

// resolve hands a response to its waiting Request. It reports false if
// nobody is waiting for msg.ID.
func (s *Server) resolve(msg IncomingMsg) bool {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

// failPending ends every outstanding Request after a disconnect.
func (s *Server) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := false
	for id, ch := range s.pending {
		select {
		case ch <- IncomingMsg{Type: TypeResponse, ID: id, OK: &ok, Error: "extension disconnected"}:
		default:
		}
	}
}

func (s *Server) deliver(msg IncomingMsg) {
	select {
	case s.msgs <- msg:
	default:
		applog.Warn("ws.dropped", "type", msg.Type)
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("websocket accept: %v", err)
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(32 << 20) // uncompressed snapshots of large libraries

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			if current {
				s.failPending()
				s.deliver(IncomingMsg{Type: TypeDisconnected})
			}
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if msg.Type == TypeResponse && s.resolve(msg) {
				continue
			}
			applog.Info("ws.recv", "type", msg.Type)
			s.deliver(msg)
		}
	})
}

// ListenAndServe serves h on the configured loopback port until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, h http.Handler) error {
	if h == nil {
		mux := http.NewServeMux()
		mux.Handle("/", s.Handler())
		h = mux
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: h}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
