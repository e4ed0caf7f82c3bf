package inbox

import (
	"fmt"
	"strings"

	"github.com/matheus3301/smsinbox/internal/store"
)

// ContactDirectory is the per-account contact list: the server's list joined
// with contacts discovered from messages, minus deleted numbers.
type ContactDirectory struct {
	db        *store.DB
	overrides *OverrideStore
}

func NewContactDirectory(db *store.DB, overrides *OverrideStore) *ContactDirectory {
	return &ContactDirectory{db: db, overrides: overrides}
}

// SetExplicit replaces the server-provided list. Deleted numbers and repeated
// numbers are dropped; the first occurrence wins.
func (d *ContactDirectory) SetExplicit(account string, contacts []store.Contact) error {
	fs, err := d.overrides.State(account)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(contacts))
	kept := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		number := strings.TrimSpace(c.Number)
		if number == "" || fs.IsDeleted(number) {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = number
		}
		kept = append(kept, store.Contact{Account: account, Number: number, Name: name})
	}
	if err := d.db.ReplaceContacts(account, kept); err != nil {
		return fmt.Errorf("replace contacts: %w", err)
	}
	return nil
}

// Prepare validates a new contact for account without storing it.
func (d *ContactDirectory) Prepare(account, name, number string) (store.Contact, error) {
	name, number, err := ValidateContact(name, number)
	if err != nil {
		return store.Contact{}, err
	}
	deleted, err := d.overrides.IsDeleted(account, number)
	if err != nil {
		return store.Contact{}, err
	}
	if deleted {
		return store.Contact{}, ErrContactDeleted
	}
	known, err := d.db.HasContact(account, number)
	if err != nil {
		return store.Contact{}, err
	}
	if known {
		return store.Contact{}, ErrAlreadyExists
	}
	return store.Contact{Account: account, Number: number, Name: name}, nil
}

// AddExplicit validates c and appends it to the account's list.
func (d *ContactDirectory) AddExplicit(account string, c store.Contact) (store.Contact, error) {
	c, err := d.Prepare(account, c.Name, c.Number)
	if err != nil {
		return store.Contact{}, err
	}
	if err := d.db.AppendContact(&c); err != nil {
		return store.Contact{}, fmt.Errorf("add contact: %w", err)
	}
	return c, nil
}

// DiscoverFromMessage records the counterpart(s) of m that the account does
// not know yet. Deleted numbers are never brought back. Returns the numbers added.
func (d *ContactDirectory) DiscoverFromMessage(account string, m *store.Message) ([]string, error) {
	var added []string
	for _, number := range []string{m.From, m.To} {
		if number == "" || number == account {
			continue
		}
		deleted, err := d.overrides.IsDeleted(account, number)
		if err != nil {
			return added, err
		}
		if deleted {
			continue
		}
		known, err := d.db.HasContact(account, number)
		if err != nil {
			return added, err
		}
		if known {
			continue
		}
		ok, err := d.db.AddDiscovered(account, number)
		if err != nil {
			return added, fmt.Errorf("discover %s: %w", number, err)
		}
		if ok {
			added = append(added, number)
		}
	}
	return added, nil
}

// Remove drops number from the directory and deletes it permanently through the override store.
func (d *ContactDirectory) Remove(account, number string) error {
	if err := d.db.DeleteContact(account, number); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	return d.overrides.Delete(account, number)
}

// List returns the visible contacts of the account.
func (d *ContactDirectory) List(account string) ([]store.Contact, error) {
	contacts, err := d.db.ListContacts(account)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}
