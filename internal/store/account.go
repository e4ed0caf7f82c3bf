package store

import "fmt"

// ReplaceAccounts replaces the set of owned numbers, preserving the given order.
func (db *DB) ReplaceAccounts(numbers []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	now := nowMillis()
	for i, n := range numbers {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO accounts (number, position, created_at) VALUES (?, ?, ?)`, n, i, now); err != nil {
			return fmt.Errorf("insert account %q: %w", n, err)
		}
	}
	return tx.Commit()
}

// ListAccounts returns owned numbers in server order.
func (db *DB) ListAccounts() ([]string, error) {
	rows, err := db.Query(`SELECT number FROM accounts ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
