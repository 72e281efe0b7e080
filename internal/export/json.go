// Package export converts folder assignments to and from the portable JSON
// file format. Internal folder ids never leave the store.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lotas/plfolders/internal/types"
)

// Version is the file format version written by JSON.
const Version = 1

// ErrInvalidImport wraps every validation failure of an import file.
var ErrInvalidImport = errors.New("invalid import file")

// File is the export document.
type File struct {
	Version    int          `json:"version"`
	ExportedAt time.Time    `json:"exportedAt"`
	Folders    []FileFolder `json:"folders"`
}

// FileFolder is one folder in an export document.
type FileFolder struct {
	Name        string   `json:"name"`
	PlaylistIDs []string `json:"playlistIds"`
}

// JSON formats folders as an export document, sorted by name
// case-insensitively.
func JSON(folders []types.Folder, now time.Time) (string, error) {
	sorted := append([]types.Folder(nil), folders...)
	types.SortFolders(sorted)

	out := File{
		Version:    Version,
		ExportedAt: now.UTC(),
		Folders:    make([]FileFolder, 0, len(sorted)),
	}
	for _, f := range sorted {
		ids := f.PlaylistIDs
		if ids == nil {
			ids = []string{}
		}
		out.Folders = append(out.Folders, FileFolder{Name: f.Name, PlaylistIDs: ids})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidImport, fmt.Sprintf(format, args...))
}

// Parse validates an import document. It checks that version is a number,
// folders is an array, and every folder has a non-empty name and an array
// of string ids.
func Parse(data []byte) (*File, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("not a JSON object: %v", err)
	}

	var version float64
	if v, ok := raw["version"]; !ok {
		return nil, invalid("missing version")
	} else if isNull(v) {
		return nil, invalid("version is null")
	} else if err := json.Unmarshal(v, &version); err != nil {
		return nil, invalid("version is not a number")
	}

	rawFolders, ok := raw["folders"]
	if !ok || !isArray(rawFolders) {
		return nil, invalid("folders is not an array")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawFolders, &entries); err != nil {
		return nil, invalid("folders: %v", err)
	}

	f := &File{Version: int(version), Folders: make([]FileFolder, 0, len(entries))}
	for i, e := range entries {
		var entry struct {
			Name        *string         `json:"name"`
			PlaylistIDs json.RawMessage `json:"playlistIds"`
		}
		if err := json.Unmarshal(e, &entry); err != nil {
			return nil, invalid("folder %d is not an object", i)
		}
		if entry.Name == nil || strings.TrimSpace(*entry.Name) == "" {
			return nil, invalid("folder %d has no name", i)
		}
		if !isArray(entry.PlaylistIDs) {
			return nil, invalid("folder %q: playlistIds is not an array", *entry.Name)
		}
		var refs []*string
		if err := json.Unmarshal(entry.PlaylistIDs, &refs); err != nil {
			return nil, invalid("folder %q: playlistIds must be strings", *entry.Name)
		}
		ids := make([]string, 0, len(refs))
		for _, r := range refs {
			if r == nil {
				return nil, invalid("folder %q: playlistIds contains null", *entry.Name)
			}
			ids = append(ids, *r)
		}
		f.Folders = append(f.Folders, FileFolder{Name: strings.TrimSpace(*entry.Name), PlaylistIDs: ids})
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

// Merge applies an import on top of existing folders and returns the new
// folder set. Imported names replace existing folders of the same name
// (case-insensitive) in place, keeping their ids; new names get newID().
// Every affected folder's membership is recomputed. When an id appears in
// several imported folders the last one listed wins, and imported ids are
// taken out of any folder the file does not mention.
func Merge(existing map[string]types.Folder, f *File, newID func() string) map[string]types.Folder {
	out := make(map[string]types.Folder, len(existing)+len(f.Folders))
	byName := make(map[string]string, len(existing))
	for id, fl := range existing {
		fl.PlaylistIDs = append([]string(nil), fl.PlaylistIDs...)
		out[id] = fl
		byName[strings.ToLower(strings.TrimSpace(fl.Name))] = id
	}

	// Resolve each imported entry to a target folder id.
	targets := make([]string, len(f.Folders))
	touched := make(map[string]bool)
	for i, ff := range f.Folders {
		key := strings.ToLower(ff.Name)
		id, ok := byName[key]
		if !ok {
			id = newID()
			byName[key] = id
		}
		targets[i] = id
		out[id] = types.Folder{ID: id, Name: ff.Name}
		touched[id] = true
	}

	// Last folder listed wins.
	owner := make(map[string]string)
	for i, ff := range f.Folders {
		for _, pid := range ff.PlaylistIDs {
			owner[pid] = targets[i]
		}
	}

	// Rebuild touched folders in listed order, without duplicates.
	placed := make(map[string]bool)
	for i, ff := range f.Folders {
		fl := out[targets[i]]
		for _, pid := range ff.PlaylistIDs {
			if owner[pid] != targets[i] || placed[pid] {
				continue
			}
			placed[pid] = true
			fl.PlaylistIDs = append(fl.PlaylistIDs, pid)
		}
		out[targets[i]] = fl
	}

	// Untouched folders lose ids now owned by imported folders.
	for id, fl := range out {
		if touched[id] {
			if fl.PlaylistIDs == nil {
				fl.PlaylistIDs = []string{}
				out[id] = fl
			}
			continue
		}
		kept := fl.PlaylistIDs[:0]
		for _, pid := range fl.PlaylistIDs {
			if _, moved := owner[pid]; !moved {
				kept = append(kept, pid)
			}
		}
		fl.PlaylistIDs = kept
		out[id] = fl
	}
	return out
}
