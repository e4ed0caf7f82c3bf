package store

import "time"

var timeNow = time.Now

// Folder is the local classification of a contact within an account.
type Folder string

const (
	FolderInbox    Folder = "inbox"
	FolderFavorite Folder = "favorite"
	FolderArchived Folder = "archived"
)

// ParseFolder maps a user-supplied folder name to a Folder. Empty means inbox.
func ParseFolder(s string) (Folder, bool) {
	switch Folder(s) {
	case "", FolderInbox:
		return FolderInbox, true
	case FolderFavorite, FolderArchived:
		return Folder(s), true
	}
	return "", false
}

// Contact is a counterpart number scoped to one account.
type Contact struct {
	Account    string
	Number     string
	Name       string
	Discovered bool // synthesized from a message, not from the server list
}

// Message is an SMS stored under the account it belongs to.
type Message struct {
	Seq       int64 // local arrival order
	Account   string
	ID        string
	From      string
	To        string
	Text      string
	CreatedAt time.Time
}

// Counterpart returns the side of the message that is not the account.
func (m *Message) Counterpart() string {
	if m.From == m.Account {
		return m.To
	}
	return m.From
}

// FolderState is the full set of local overrides for one account.
type FolderState struct {
	Archived map[string]struct{}
	Favorite map[string]struct{}
	Deleted  map[string]struct{}
}

// Classify returns the folder for number. Deleted numbers have no folder.
func (f *FolderState) Classify(number string) Folder {
	if _, ok := f.Archived[number]; ok {
		return FolderArchived
	}
	if _, ok := f.Favorite[number]; ok {
		return FolderFavorite
	}
	return FolderInbox
}

// IsDeleted reports whether number was deleted for the account.
func (f *FolderState) IsDeleted(number string) bool {
	_, ok := f.Deleted[number]
	return ok
}
