// Package folders is the assignment store: named folders of playlist ids
// and the persisted selection, kept in a durable key-value store. Every
// write keeps each playlist id in at most one folder.
package folders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/export"
	"github.com/lotas/plfolders/internal/types"
)

// Validation failures, reported to the presentation layer as-is.
var (
	ErrEmptyName     = errors.New("folder name is empty")
	ErrDuplicateName = errors.New("a folder with that name already exists")
	ErrNotFound      = errors.New("folder not found")
)

// Persisted keys.
const (
	KeyFolders   = "folders"
	KeySelection = "selectedFolderId"
)

// KV is the durable store contract. storage.KV implements it.
type KV interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
}

// Store reads and writes folders through a KV. Writes are serialised
// within the process; readers degrade to empty data when the KV fails.
type Store struct {
	kv    KV
	newID func() string
	mu    sync.Mutex
}

func New(kv KV) *Store {
	return &Store{kv: kv, newID: func() string { return uuid.NewString() }}
}

// Folders returns all folders keyed by id. A failing store yields an
// empty set; the failure is logged.
func (s *Store) Folders(ctx context.Context) map[string]types.Folder {
	folders, err := s.load(ctx)
	if err != nil {
		applog.Error("store.load", err)
		return map[string]types.Folder{}
	}
	return folders
}

// List returns folders sorted by name, case-insensitively.
func (s *Store) List(ctx context.Context) []types.Folder {
	folders := s.Folders(ctx)
	out := make([]types.Folder, 0, len(folders))
	for _, f := range folders {
		out = append(out, f)
	}
	types.SortFolders(out)
	return out
}

// FolderOf returns the folder holding itemID, if any.
func (s *Store) FolderOf(ctx context.Context, itemID string) (types.Folder, bool) {
	for _, f := range s.Folders(ctx) {
		if f.Has(itemID) {
			return f, true
		}
	}
	return types.Folder{}, false
}

// Selection returns the persisted selection, or all when none is stored or
// the store is unavailable. It does not check that the folder exists.
func (s *Store) Selection(ctx context.Context) types.Selection {
	vals, err := s.kv.Get(ctx, KeySelection)
	if err != nil {
		applog.Error("store.selection", err)
		return types.All()
	}
	raw, ok := vals[KeySelection]
	if !ok {
		return types.All()
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		applog.Error("store.selection.decode", err)
		return types.All()
	}
	return types.ParseSelection(key)
}

// SetSelection persists sel. Selecting all removes the key.
func (s *Store) SetSelection(ctx context.Context, sel types.Selection) error {
	if sel.Kind == types.SelectAll {
		return s.kv.Remove(ctx, KeySelection)
	}
	raw, err := json.Marshal(sel.Key())
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, map[string][]byte{KeySelection: raw})
}

// CreateFolder adds an empty folder named name (trimmed).
func (s *Store) CreateFolder(ctx context.Context, name string) (types.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return types.Folder{}, ErrEmptyName
	}
	folders, err := s.load(ctx)
	if err != nil {
		return types.Folder{}, err
	}
	if nameTaken(folders, name, "") {
		return types.Folder{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	f := types.Folder{ID: s.newID(), Name: name, PlaylistIDs: []string{}}
	folders[f.ID] = f
	if err := s.save(ctx, folders); err != nil {
		return types.Folder{}, err
	}
	applog.Info("folder.created", "id", f.ID, "name", name)
	return f, nil
}

// RenameFolder renames id. A folder may keep its own name in a different
// case.
func (s *Store) RenameFolder(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	folders, err := s.load(ctx)
	if err != nil {
		return err
	}
	f, ok := folders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if nameTaken(folders, name, id) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	f.Name = name
	folders[id] = f
	if err := s.save(ctx, folders); err != nil {
		return err
	}
	applog.Info("folder.renamed", "id", id, "name", name)
	return nil
}

// DeleteFolder removes id. Its playlists become unassigned. If it was the
// selected folder the selection is reset to all and reset is true.
func (s *Store) DeleteFolder(ctx context.Context, id string) (reset bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := folders[id]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(folders, id)
	if err := s.save(ctx, folders); err != nil {
		return false, err
	}
	applog.Info("folder.deleted", "id", id)

	if sel := s.Selection(ctx); sel.Kind == types.SelectFolder && sel.FolderID == id {
		if err := s.kv.Remove(ctx, KeySelection); err != nil {
			applog.Error("store.selection.reset", err)
		}
		return true, nil
	}
	return false, nil
}

// Assign moves itemID into folderID, taking it out of whatever folder held
// it. An empty folderID leaves the item unassigned.
func (s *Store) Assign(ctx context.Context, itemID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders, err := s.load(ctx)
	if err != nil {
		return err
	}
	if folderID != "" {
		if _, ok := folders[folderID]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, folderID)
		}
	}
	for id, f := range folders {
		kept := f.PlaylistIDs[:0]
		for _, p := range f.PlaylistIDs {
			if p != itemID {
				kept = append(kept, p)
			}
		}
		f.PlaylistIDs = kept
		folders[id] = f
	}
	if folderID != "" {
		f := folders[folderID]
		f.PlaylistIDs = append(f.PlaylistIDs, itemID)
		folders[folderID] = f
	}
	if err := s.save(ctx, folders); err != nil {
		return err
	}
	applog.Info("folder.assign", "item", itemID, "folder", folderID)
	return nil
}

// Export writes every folder in the export file format.
func (s *Store) Export(ctx context.Context) (string, error) {
	folders, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	list := make([]types.Folder, 0, len(folders))
	for _, f := range folders {
		list = append(list, f)
	}
	return export.JSON(list, time.Now())
}

// Import validates data and merges it in one write. Nothing is written if
// validation fails. It returns the number of folders imported.
func (s *Store) Import(ctx context.Context, data []byte) (int, error) {
	file, err := export.Parse(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	folders, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	merged := export.Merge(folders, file, s.newID)
	if err := s.save(ctx, merged); err != nil {
		return 0, err
	}
	applog.Info("folder.import", "folders", len(file.Folders))
	return len(file.Folders), nil
}

func nameTaken(folders map[string]types.Folder, name, except string) bool {
	for id, f := range folders {
		if id != except && strings.EqualFold(strings.TrimSpace(f.Name), name) {
			return true
		}
	}
	return false
}

func (s *Store) load(ctx context.Context) (map[string]types.Folder, error) {
	vals, err := s.kv.Get(ctx, KeyFolders)
	if err != nil {
		return nil, err
	}
	folders := make(map[string]types.Folder)
	raw, ok := vals[KeyFolders]
	if !ok || len(raw) == 0 {
		return folders, nil
	}
	if err := json.Unmarshal(raw, &folders); err != nil {
		return nil, fmt.Errorf("decode folders: %w", err)
	}
	normalize(folders)
	return folders, nil
}

// normalize repairs records written by older versions: missing ids and ids
// held by more than one folder (the folder with the smallest id keeps it).
func normalize(folders map[string]types.Folder) {
	ids := make([]string, 0, len(folders))
	for id := range folders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool)
	for _, id := range ids {
		f := folders[id]
		f.ID = id
		kept := make([]string, 0, len(f.PlaylistIDs))
		for _, p := range f.PlaylistIDs {
			if seen[p] {
				continue
			}
			seen[p] = true
			kept = append(kept, p)
		}
		f.PlaylistIDs = kept
		folders[id] = f
	}
}

func (s *Store) save(ctx context.Context, folders map[string]types.Folder) error {
	raw, err := json.Marshal(folders)
	if err != nil {
		return fmt.Errorf("encode folders: %w", err)
	}
	return s.kv.Set(ctx, map[string][]byte{KeyFolders: raw})
}
