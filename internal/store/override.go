package store

import (
	"database/sql"
	"fmt"
)

// SetFolder files number under folder. A number has at most one override row,
// so moving it to one folder removes it from the other. Deleted numbers are ignored.
func (db *DB) SetFolder(account, number string, folder Folder) error {
	if folder != FolderArchived && folder != FolderFavorite {
		return fmt.Errorf("invalid folder %q", folder)
	}
	_, err := db.Exec(`
		INSERT INTO overrides (account, number, folder, updated_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM deleted_numbers WHERE account = ? AND number = ?)
		ON CONFLICT(account, number) DO UPDATE SET
			folder = excluded.folder,
			updated_at = excluded.updated_at`,
		account, number, string(folder), nowMillis(), account, number)
	return err
}

// ClearFolder removes number from folder if it is currently filed there.
func (db *DB) ClearFolder(account, number string, folder Folder) error {
	_, err := db.Exec(`DELETE FROM overrides WHERE account = ? AND number = ? AND folder = ?`,
		account, number, string(folder))
	return err
}

// MarkDeleted permanently excludes number from the account and drops its folder override.
func (db *DB) MarkDeleted(account, number string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO deleted_numbers (account, number, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(account, number) DO NOTHING`,
		account, number, nowMillis()); err != nil {
		return fmt.Errorf("insert deleted number: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM overrides WHERE account = ? AND number = ?`, account, number); err != nil {
		return fmt.Errorf("drop override: %w", err)
	}
	return tx.Commit()
}

// FolderOf returns the folder number is filed under. Numbers without an override are in the inbox.
func (db *DB) FolderOf(account, number string) (Folder, error) {
	var folder string
	err := db.QueryRow(`SELECT folder FROM overrides WHERE account = ? AND number = ?`, account, number).Scan(&folder)
	if err == sql.ErrNoRows {
		return FolderInbox, nil
	}
	if err != nil {
		return "", err
	}
	return Folder(folder), nil
}

// IsDeleted reports whether number was deleted for the account.
func (db *DB) IsDeleted(account, number string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM deleted_numbers WHERE account = ? AND number = ?`, account, number).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LoadFolderState returns every override recorded for the account.
func (db *DB) LoadFolderState(account string) (*FolderState, error) {
	fs := &FolderState{
		Archived: make(map[string]struct{}),
		Favorite: make(map[string]struct{}),
		Deleted:  make(map[string]struct{}),
	}

	rows, err := db.Query(`SELECT number, folder FROM overrides WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var number, folder string
		if err := rows.Scan(&number, &folder); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch Folder(folder) {
		case FolderArchived:
			fs.Archived[number] = struct{}{}
		case FolderFavorite:
			fs.Favorite[number] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = db.Query(`SELECT number FROM deleted_numbers WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		fs.Deleted[number] = struct{}{}
	}
	return fs, rows.Err()
}
