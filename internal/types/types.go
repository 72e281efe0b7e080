package types

import (
	"sort"
	"strings"
)

// Folder is a user-defined named group of playlist ids.
// A playlist id belongs to at most one folder across the whole store.
type Folder struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	PlaylistIDs []string `json:"playlistIds"`
}

// Has reports whether the folder holds the given playlist id.
func (f Folder) Has(id string) bool {
	for _, p := range f.PlaylistIDs {
		if p == id {
			return true
		}
	}
	return false
}

// SelectionKind controls which playlists are visible.
type SelectionKind int

const (
	SelectAll SelectionKind = iota
	SelectUnassigned
	SelectFolder
)

// Selection is the active filter: all playlists, the unassigned ones, or a
// single folder.
type Selection struct {
	Kind     SelectionKind
	FolderID string // set only for SelectFolder
}

// UnassignedKey is the persisted value for the unassigned selection.
const UnassignedKey = "__unassigned__"

func All() Selection        { return Selection{Kind: SelectAll} }
func Unassigned() Selection { return Selection{Kind: SelectUnassigned} }

func InFolder(id string) Selection {
	if id == "" {
		return All()
	}
	return Selection{Kind: SelectFolder, FolderID: id}
}

// ParseSelection accepts both Selection.Key and Selection.String forms.
func ParseSelection(s string) Selection {
	switch s {
	case "", "all":
		return All()
	case UnassignedKey, "unassigned":
		return Unassigned()
	}
	return InFolder(strings.TrimPrefix(s, folderPrefix))
}

const folderPrefix = "folder:"

// Key is the persisted form: "" for all, UnassignedKey, or the folder id.
func (s Selection) Key() string {
	switch s.Kind {
	case SelectUnassigned:
		return UnassignedKey
	case SelectFolder:
		return s.FolderID
	}
	return ""
}

func (s Selection) String() string {
	switch s.Kind {
	case SelectUnassigned:
		return "unassigned"
	case SelectFolder:
		return folderPrefix + s.FolderID
	}
	return "all"
}

// SortFolders orders folders by name, case-insensitively, breaking ties by id.
func SortFolders(folders []Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		a, b := strings.ToLower(folders[i].Name), strings.ToLower(folders[j].Name)
		if a != b {
			return a < b
		}
		return folders[i].ID < folders[j].ID
	})
}

// Counts holds per-selection playlist counts for the current scan.
type Counts struct {
	All        int            `json:"all"`
	Unassigned int            `json:"unassigned"`
	ByFolder   map[string]int `json:"byFolder"`
}
