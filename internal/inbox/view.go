package inbox

import (
	"strings"

	"github.com/matheus3301/smsinbox/internal/store"
)

// Entry is a contact annotated for display.
type Entry struct {
	store.Contact
	Folder store.Folder
	Unread int
}

// FilterContacts computes the visible list: folder membership first, then a
// case-insensitive substring match on name or number. It never mutates its inputs.
func FilterContacts(contacts []store.Contact, fs *store.FolderState, unread map[string]int, folder store.Folder, search string) []Entry {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]Entry, 0, len(contacts))
	for _, c := range contacts {
		if fs.IsDeleted(c.Number) {
			continue
		}
		f := fs.Classify(c.Number)
		if f != folder {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(strings.ToLower(c.Number), needle) {
			continue
		}
		out = append(out, Entry{Contact: c, Folder: f, Unread: unread[c.Number]})
	}
	return out
}
