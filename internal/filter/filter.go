// Package filter decides which playlist cards are visible for a selection
// and applies that decision to the page.
package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/metrics"
	"github.com/lotas/plfolders/internal/types"
	"golang.org/x/net/html"
)

// ErrSelectionInvalid means the selection names a folder that no longer
// exists. Callers reset the selection to all and filter again.
var ErrSelectionInvalid = errors.New("filter: selected folder does not exist")

// Hider toggles node visibility; dom.Page satisfies it.
type Hider interface {
	SetHidden(ctx context.Context, hidden, shown []*html.Node) error
}

// Owners maps each assigned playlist id to the id of its folder.
func Owners(folders map[string]types.Folder) map[string]string {
	owners := make(map[string]string)
	for id, f := range folders {
		for _, p := range f.PlaylistIDs {
			owners[p] = id
		}
	}
	return owners
}

// Compute returns, per item, whether it is visible under sel. It reads only
// its arguments.
func Compute(sel types.Selection, items []catalog.Item, folders map[string]types.Folder) ([]bool, error) {
	visible := make([]bool, len(items))
	switch sel.Kind {
	case types.SelectAll:
		for i := range visible {
			visible[i] = true
		}
	case types.SelectUnassigned:
		owners := Owners(folders)
		for i, it := range items {
			_, assigned := owners[it.ExternalID]
			visible[i] = !assigned
		}
	case types.SelectFolder:
		f, ok := folders[sel.FolderID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSelectionInvalid, sel.FolderID)
		}
		members := make(map[string]bool, len(f.PlaylistIDs))
		for _, p := range f.PlaylistIDs {
			members[p] = true
		}
		for i, it := range items {
			visible[i] = members[it.ExternalID]
		}
	default:
		return nil, fmt.Errorf("filter: unknown selection kind %d", sel.Kind)
	}
	return visible, nil
}

// Apply computes visibility and pushes it to the page. Order is never
// changed; only visibility is toggled.
func Apply(ctx context.Context, page Hider, sel types.Selection, items []catalog.Item, folders map[string]types.Folder) ([]bool, error) {
	visible, err := Compute(sel, items, folders)
	if err != nil {
		return nil, err
	}
	var hidden, shown []*html.Node
	for i, it := range items {
		if it.Node == nil {
			continue
		}
		if visible[i] {
			shown = append(shown, it.Node)
		} else {
			hidden = append(hidden, it.Node)
		}
	}
	if err := page.SetHidden(ctx, hidden, shown); err != nil {
		return visible, fmt.Errorf("apply visibility: %w", err)
	}
	metrics.FilterPassesTotal.WithLabelValues(kindLabel(sel.Kind)).Inc()
	return visible, nil
}

// Unassigned returns the scanned ids that no folder holds, in scan order.
func Unassigned(items []catalog.Item, folders map[string]types.Folder) []string {
	owners := Owners(folders)
	var out []string
	for _, it := range items {
		if _, ok := owners[it.ExternalID]; !ok {
			out = append(out, it.ExternalID)
		}
	}
	return out
}

// Count tallies scanned playlists per folder.
func Count(items []catalog.Item, folders map[string]types.Folder) types.Counts {
	owners := Owners(folders)
	c := types.Counts{All: len(items), ByFolder: make(map[string]int, len(folders))}
	for id := range folders {
		c.ByFolder[id] = 0
	}
	for _, it := range items {
		if fid, ok := owners[it.ExternalID]; ok {
			c.ByFolder[fid]++
		} else {
			c.Unassigned++
		}
	}
	return c
}

func kindLabel(k types.SelectionKind) string {
	switch k {
	case types.SelectUnassigned:
		return "unassigned"
	case types.SelectFolder:
		return "folder"
	}
	return "all"
}
