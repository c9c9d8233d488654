package syncer

import (
	"strings"
	"time"

	"github.com/kalambet/jopper/internal/joplin"
)

const untitled = "Untitled"

// noteTitle returns the note's title, or "Untitled" when it has none.
func noteTitle(n joplin.Note) string {
	if n.Title == "" {
		return untitled
	}
	return n.Title
}

// Render produces the markdown uploaded for a note and hashed for change
// detection. notebook is the parent folder's title, or "" to omit it.
//
// A "# <title>" heading is prepended unless the body already starts with
// one. A footer carries the last-modified time when the note has one.
func Render(n joplin.Note, notebook string) string {
	title := noteTitle(n)

	var b strings.Builder
	if !strings.HasPrefix(strings.TrimSpace(n.Body), "# "+title) {
		b.WriteString("# " + title + "\n\n")
	}
	b.WriteString(n.Body)

	if !n.UpdatedTime.IsZero() {
		b.WriteString("\n\n---\n*Last updated: " + n.UpdatedTime.UTC().Format(time.RFC3339) + "*\n")
	}
	if notebook != "" {
		b.WriteString("*Notebook: " + notebook + "*\n")
	}
	return b.String()
}
