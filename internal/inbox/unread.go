package inbox

import (
	"fmt"

	"github.com/matheus3301/smsinbox/internal/store"
)

// UnreadTracker keeps per-contact unread counters. Deleted contacts never count.
type UnreadTracker struct {
	db        *store.DB
	overrides *OverrideStore
}

func NewUnreadTracker(db *store.DB, overrides *OverrideStore) *UnreadTracker {
	return &UnreadTracker{db: db, overrides: overrides}
}

// Increment bumps the counter and returns its new value.
func (u *UnreadTracker) Increment(account, contact string) (int, error) {
	deleted, err := u.overrides.IsDeleted(account, contact)
	if err != nil || deleted {
		return 0, err
	}
	n, err := u.db.IncrementUnread(account, contact)
	if err != nil {
		return 0, fmt.Errorf("increment unread: %w", err)
	}
	return n, nil
}

// Reset zeroes the counter (mark as read).
func (u *UnreadTracker) Reset(account, contact string) error {
	if err := u.db.SetUnread(account, contact, 0); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (u *UnreadTracker) Get(account, contact string) (int, error) {
	deleted, err := u.overrides.IsDeleted(account, contact)
	if err != nil || deleted {
		return 0, err
	}
	return u.db.UnreadCount(account, contact)
}

// RefreshFromBackend overwrites local counters with server values.
func (u *UnreadTracker) RefreshFromBackend(account string, counts map[string]int) error {
	fs, err := u.overrides.State(account)
	if err != nil {
		return err
	}
	kept := make(map[string]int, len(counts))
	for contact, n := range counts {
		if fs.IsDeleted(contact) {
			continue
		}
		kept[contact] = n
	}
	if err := u.db.SetUnreadBatch(account, kept); err != nil {
		return fmt.Errorf("refresh unread: %w", err)
	}
	return nil
}

// Counts returns the non-zero counters of visible contacts.
func (u *UnreadTracker) Counts(account string) (map[string]int, error) {
	counts, err := u.db.UnreadCounts(account)
	if err != nil {
		return nil, err
	}
	fs, err := u.overrides.State(account)
	if err != nil {
		return nil, err
	}
	for contact := range counts {
		if fs.IsDeleted(contact) {
			delete(counts, contact)
		}
	}
	return counts, nil
}
