package inbox

import (
	"fmt"

	"github.com/matheus3301/smsinbox/internal/store"
)

// ConversationStore owns message content and order for every account.
type ConversationStore struct {
	db *store.DB
}

func NewConversationStore(db *store.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Append stores m under account unless a message with the same id is already there.
// The same message reaches us through both the snapshot and the push channel.
func (s *ConversationStore) Append(account string, m *store.Message) (bool, error) {
	if m.ID == "" {
		return false, ErrMissingID
	}
	m.Account = account
	inserted, err := s.db.AppendMessage(m)
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return inserted, nil
}

// ThreadWith returns the messages exchanged with contact, in arrival order.
// Visibility overrides do not apply: a deleted contact's thread still exists.
func (s *ConversationStore) ThreadWith(account, contact string) ([]store.Message, error) {
	msgs, err := s.db.ThreadMessages(account, contact)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return msgs, nil
}

// Clear drops the account's messages.
func (s *ConversationStore) Clear(account string) error {
	return s.db.ClearMessages(account)
}
