package store

import "fmt"

// IncrementUnread adds one to the unread counter and returns the new value.
func (db *DB) IncrementUnread(account, contact string) (int, error) {
	now := nowMillis()
	if _, err := db.Exec(`
		INSERT INTO unread_counts (account, contact, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(account, contact) DO UPDATE SET
			count = unread_counts.count + 1,
			updated_at = excluded.updated_at`,
		account, contact, now); err != nil {
		return 0, err
	}
	return db.UnreadCount(account, contact)
}

// SetUnread overwrites one unread counter.
func (db *DB) SetUnread(account, contact string, count int) error {
	if count < 0 {
		count = 0
	}
	_, err := db.Exec(`
		INSERT INTO unread_counts (account, contact, count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, contact) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at`,
		account, contact, count, nowMillis())
	return err
}

// SetUnreadBatch overwrites several counters of one account in a single transaction.
func (db *DB) SetUnreadBatch(account string, counts map[string]int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	for contact, count := range counts {
		if count < 0 {
			count = 0
		}
		if _, err := tx.Exec(`
			INSERT INTO unread_counts (account, contact, count, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account, contact) DO UPDATE SET
				count = excluded.count,
				updated_at = excluded.updated_at`,
			account, contact, count, now); err != nil {
			return fmt.Errorf("set unread %q: %w", contact, err)
		}
	}
	return tx.Commit()
}

// UnreadCount returns the counter for a contact, zero if none was recorded.
func (db *DB) UnreadCount(account, contact string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COALESCE(MAX(count), 0) FROM unread_counts WHERE account = ? AND contact = ?`,
		account, contact).Scan(&count)
	return count, err
}

// UnreadCounts returns every non-zero counter of an account.
func (db *DB) UnreadCounts(account string) (map[string]int, error) {
	rows, err := db.Query(`SELECT contact, count FROM unread_counts WHERE account = ? AND count > 0`, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var contact string
		var count int
		if err := rows.Scan(&contact, &count); err != nil {
			return nil, err
		}
		out[contact] = count
	}
	return out, rows.Err()
}
