package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/export"
	"github.com/lotas/plfolders/internal/folders"
	"github.com/lotas/plfolders/internal/session"
	"github.com/lotas/plfolders/internal/storage"
	"github.com/lotas/plfolders/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxImport bounds an uploaded export file.
const maxImport = 8 << 20

// API serves folder management over HTTP for scripts and the popup.
type API struct {
	srv *Server
	mgr *session.Manager
	now func() time.Time
}

// NewRouter returns the full HTTP surface: the extension socket, health,
// the folder API and, if withMetrics is set, Prometheus metrics.
func NewRouter(srv *Server, mgr *session.Manager, withMetrics bool) *mux.Router {
	a := &API{srv: srv, mgr: mgr, now: time.Now}

	r := mux.NewRouter()
	r.Handle("/", srv.Handler())
	r.Handle("/ws", srv.Handler())
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	r.HandleFunc("/healthz", a.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/folders", a.ListFolders).Methods("GET")
	api.HandleFunc("/folders", a.CreateFolder).Methods("POST")
	api.HandleFunc("/folders/{id}", a.RenameFolder).Methods("PUT")
	api.HandleFunc("/folders/{id}", a.DeleteFolder).Methods("DELETE")
	api.HandleFunc("/selection", a.GetSelection).Methods("GET")
	api.HandleFunc("/selection", a.SetSelection).Methods("PUT")
	api.HandleFunc("/assign", a.Assign).Methods("POST")
	api.HandleFunc("/export", a.Export).Methods("GET")
	api.HandleFunc("/import", a.Import).Methods("POST")
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("api.encode", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, folders.ErrEmptyName), errors.Is(err, export.ErrInvalidImport):
		status = http.StatusBadRequest
	case errors.Is(err, folders.ErrDuplicateName):
		status = http.StatusConflict
	case errors.Is(err, folders.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health reports whether the extension is attached and a session is live.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": a.srv.Connected(),
		"session":   a.mgr.Current() != nil,
	})
}

type folderView struct {
	types.Folder
	Count int `json:"count"`
}

// ListFolders returns folders sorted by name. Count is the number of
// members present in the current scan, or the stored size off the page.
func (a *API) ListFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list := a.mgr.Store().List(ctx)
	var counts *types.Counts
	if s := a.mgr.Current(); s != nil {
		if c, err := s.Counts(ctx); err == nil {
			counts = &c
		}
	}
	out := make([]folderView, 0, len(list))
	for _, f := range list {
		n := len(f.PlaylistIDs)
		if counts != nil {
			n = counts.ByFolder[f.ID]
		}
		out = append(out, folderView{Folder: f, Count: n})
	}
	writeJSON(w, http.StatusOK, out)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (a *API) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	f, err := a.mgr.CreateFolder(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) RenameFolder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := a.mgr.RenameFolder(r.Context(), id, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (a *API) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.mgr.DeleteFolder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type selectionBody struct {
	Selection string `json:"selection"`
}

func (a *API) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, selectionBody{Selection: a.mgr.Selection(r.Context()).String()})
}

func (a *API) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	sel := types.ParseSelection(req.Selection)
	if sel.Kind == types.SelectFolder {
		if _, ok := a.mgr.Store().Folders(r.Context())[sel.FolderID]; !ok {
			writeError(w, folders.ErrNotFound)
			return
		}
	}
	if err := a.mgr.Select(r.Context(), sel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionBody{Selection: sel.String()})
}

type assignRequest struct {
	ItemID   string `json:"itemId"`
	FolderID string `json:"folderId"`
}

func (a *API) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "itemId is required"})
		return
	}
	if err := a.mgr.Assign(r.Context(), req.ItemID, req.FolderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// Export returns the export file, or a Markdown listing with
// ?format=markdown.
func (a *API) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("format") == "markdown" {
		titles := map[string]string{}
		if s := a.mgr.Current(); s != nil {
			if items, err := s.Items(ctx); err == nil {
				for _, it := range items {
					titles[it.ExternalID] = it.Title
				}
			}
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, export.Markdown(a.mgr.Store().List(ctx), titles, a.now()))
		return
	}
	data, err := a.mgr.Store().Export(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist-folders.json"`)
	io.WriteString(w, data)
}

func (a *API) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImport))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	n, err := a.mgr.Import(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
