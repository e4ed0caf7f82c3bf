package store

import (
	"fmt"
	"time"
)

// AppendMessage stores m if no message with the same id exists for the account.
// Returns true when a row was inserted; m.Seq is set to its arrival position.
func (db *DB) AppendMessage(m *Message) (bool, error) {
	var createdAt int64
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt.UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO messages (account, msg_id, sender, recipient, body, created_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, msg_id) DO NOTHING`,
		m.Account, m.ID, m.From, m.To, m.Text, createdAt, nowMillis())
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return true, nil
}

// ThreadMessages returns the messages exchanged between account and contact in arrival order.
func (db *DB) ThreadMessages(account, contact string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT seq, account, msg_id, sender, recipient, body, created_at
		FROM messages
		WHERE account = ? AND (sender = ? OR recipient = ?)
		ORDER BY seq ASC`, account, contact, contact)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.Seq, &m.Account, &m.ID, &m.From, &m.To, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		if createdAt > 0 {
			m.CreatedAt = time.UnixMilli(createdAt).UTC()
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearMessages drops every stored message of an account.
func (db *DB) ClearMessages(account string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE account = ?`, account)
	return err
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
