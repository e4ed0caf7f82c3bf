package store

import (
	"database/sql"
	"fmt"
)

// ReplaceContacts replaces the server-provided contact list of an account.
// Discovered contacts are kept in their own table and are not touched.
func (db *DB) ReplaceContacts(account string, contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts WHERE account = ?`, account); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	now := nowMillis()
	for i, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (account, number, name, position, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(account, number) DO UPDATE SET
				name = excluded.name,
				updated_at = excluded.updated_at`,
			account, c.Number, c.Name, i, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.Number, err)
		}
	}
	return tx.Commit()
}

// AppendContact adds one server-known contact at the end of the account's list.
func (db *DB) AppendContact(c *Contact) error {
	_, err := db.Exec(`
		INSERT INTO contacts (account, number, name, position, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM contacts WHERE account = ?), ?)`,
		c.Account, c.Number, c.Name, c.Account, nowMillis())
	return err
}

// AddDiscovered records a number seen in a message. Returns false if it was already recorded.
func (db *DB) AddDiscovered(account, number string) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO discovered_contacts (account, number, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account, number) DO NOTHING`,
		account, number, nowMillis())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteContact removes number from both the server list and discovered contacts.
func (db *DB) DeleteContact(account, number string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts WHERE account = ? AND number = ?`, account, number); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM discovered_contacts WHERE account = ? AND number = ?`, account, number); err != nil {
		return fmt.Errorf("delete discovered contact: %w", err)
	}
	return tx.Commit()
}

// ClearContacts drops the server-provided list for an account.
func (db *DB) ClearContacts(account string) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE account = ?`, account)
	return err
}

// HasContact reports whether number is known to the account, either explicitly or by discovery.
func (db *DB) HasContact(account, number string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM contacts WHERE account = ? AND number = ?
		UNION ALL
		SELECT 1 FROM discovered_contacts WHERE account = ? AND number = ?
		LIMIT 1`, account, number, account, number).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListContacts joins the server list with discovered contacts and removes deleted numbers.
// Server contacts come first in server order, then discovered ones in discovery order.
func (db *DB) ListContacts(account string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT number, name, discovered FROM (
			SELECT c.number, c.name, 0 AS discovered, c.position AS ord
			FROM contacts c
			WHERE c.account = ?
			UNION ALL
			SELECT d.number, d.number, 1, d.id
			FROM discovered_contacts d
			WHERE d.account = ?
			  AND NOT EXISTS (SELECT 1 FROM contacts c WHERE c.account = d.account AND c.number = d.number)
		) x
		WHERE NOT EXISTS (SELECT 1 FROM deleted_numbers dn WHERE dn.account = ? AND dn.number = x.number)
		ORDER BY discovered ASC, ord ASC`, account, account, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		c := Contact{Account: account}
		if err := rows.Scan(&c.Number, &c.Name, &c.Discovered); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactCount returns the number of visible contacts across all accounts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM contacts c WHERE NOT EXISTS
				(SELECT 1 FROM deleted_numbers dn WHERE dn.account = c.account AND dn.number = c.number))
			+
			(SELECT COUNT(*) FROM discovered_contacts d WHERE NOT EXISTS
				(SELECT 1 FROM contacts c WHERE c.account = d.account AND c.number = d.number)
				AND NOT EXISTS
				(SELECT 1 FROM deleted_numbers dn WHERE dn.account = d.account AND dn.number = d.number))`).Scan(&count)
	return count, err
}
