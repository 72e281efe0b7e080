package session

import "github.com/lotas/plfolders/internal/types"

// EventKind names a presentation event.
type EventKind int

const (
	// EventRefreshed follows every filter pass; Counts is set.
	EventRefreshed EventKind = iota
	// EventSelectionReset means a stale selection was corrected to all.
	EventSelectionReset
	// EventFoldersChanged follows any store mutation.
	EventFoldersChanged
	// EventSessionStarted and EventSessionEnded track page visits.
	EventSessionStarted
	EventSessionEnded
)

func (k EventKind) String() string {
	switch k {
	case EventRefreshed:
		return "refreshed"
	case EventSelectionReset:
		return "selectionReset"
	case EventFoldersChanged:
		return "foldersChanged"
	case EventSessionStarted:
		return "sessionStarted"
	case EventSessionEnded:
		return "sessionEnded"
	}
	return "unknown"
}

// Event is sent to the presentation layer.
type Event struct {
	Kind      EventKind
	Selection types.Selection
	Counts    types.Counts
}
