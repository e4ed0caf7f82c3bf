package inbox

import (
	"fmt"

	"github.com/matheus3301/smsinbox/internal/store"
)

// OverrideStore holds the local, durable folder and deletion overrides.
// It is the only authority on whether a number is visible.
type OverrideStore struct {
	db *store.DB
}

// NewOverrideStore creates an override store backed by db.
func NewOverrideStore(db *store.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

// Archive moves number to the archived folder, taking it out of favorites.
func (s *OverrideStore) Archive(account, number string) error {
	if err := s.db.SetFolder(account, number, store.FolderArchived); err != nil {
		return fmt.Errorf("archive %s: %w", number, err)
	}
	return nil
}

func (s *OverrideStore) Unarchive(account, number string) error {
	if err := s.db.ClearFolder(account, number, store.FolderArchived); err != nil {
		return fmt.Errorf("unarchive %s: %w", number, err)
	}
	return nil
}

// Favorite moves number to the favorite folder, taking it out of the archive.
func (s *OverrideStore) Favorite(account, number string) error {
	if err := s.db.SetFolder(account, number, store.FolderFavorite); err != nil {
		return fmt.Errorf("favorite %s: %w", number, err)
	}
	return nil
}

func (s *OverrideStore) Unfavorite(account, number string) error {
	if err := s.db.ClearFolder(account, number, store.FolderFavorite); err != nil {
		return fmt.Errorf("unfavorite %s: %w", number, err)
	}
	return nil
}

// Delete excludes number from the account for good. There is no undelete.
func (s *OverrideStore) Delete(account, number string) error {
	if err := s.db.MarkDeleted(account, number); err != nil {
		return fmt.Errorf("delete %s: %w", number, err)
	}
	return nil
}

func (s *OverrideStore) Classify(account, number string) (store.Folder, error) {
	return s.db.FolderOf(account, number)
}

func (s *OverrideStore) IsDeleted(account, number string) (bool, error) {
	return s.db.IsDeleted(account, number)
}

// State loads every override of the account at once, for read-time joins.
func (s *OverrideStore) State(account string) (*store.FolderState, error) {
	fs, err := s.db.LoadFolderState(account)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	return fs, nil
}
