package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/plfolders/internal/types"
)

// PlaylistURL is the host URL of a playlist.
func PlaylistURL(id string) string {
	return "https://www.youtube.com/playlist?list=" + id
}

// Markdown formats folders as a markdown document with one section per
// folder. titles maps playlist ids to display titles when known.
func Markdown(folders []types.Folder, titles map[string]string, now time.Time) string {
	sorted := append([]types.Folder(nil), folders...)
	types.SortFolders(sorted)

	var b strings.Builder
	b.WriteString("# Playlist folders\n")
	fmt.Fprintf(&b, "> Exported %s\n", now.Format("2006-01-02 15:04"))

	for _, f := range sorted {
		n := len(f.PlaylistIDs)
		noun := "playlists"
		if n == 1 {
			noun = "playlist"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", f.Name, n, noun)
		for _, id := range f.PlaylistIDs {
			title := titles[id]
			if title == "" {
				title = id
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", title, PlaylistURL(id))
		}
	}
	return b.String()
}
