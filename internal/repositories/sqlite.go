package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/vidfriends/mutualsync/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_friends (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    can_message INTEGER NOT NULL DEFAULT 0,
    photo_ref TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sync_groups (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    photo_ref TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sync_memberships (
    group_id TEXT NOT NULL,
    friend_id TEXT NOT NULL,
    PRIMARY KEY (group_id, friend_id)
);
CREATE INDEX IF NOT EXISTS sync_memberships_friend_idx ON sync_memberships (friend_id);
`

// SQLiteStore persists the membership cache to a local SQLite file, for
// deployments without a database server.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveFriends replaces the cached friend list.
func (s *SQLiteStore) SaveFriends(ctx context.Context, friends []models.Person) error {
	return s.inTx(ctx, "save friends", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_friends`); err != nil {
			return fmt.Errorf("delete friends: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sync_friends (id, seq, first_name, last_name, can_message, photo_ref) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert friend: %w", err)
		}
		defer stmt.Close()
		for i, p := range friends {
			if _, err := stmt.ExecContext(ctx, p.ID, i, p.FirstName, p.LastName, p.CanMessage, p.PhotoRef); err != nil {
				return fmt.Errorf("insert friend %s: %w", p.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_memberships WHERE friend_id NOT IN (SELECT id FROM sync_friends)`); err != nil {
			return fmt.Errorf("prune memberships: %w", err)
		}
		return nil
	})
}

// SaveGroups replaces the cached group list.
func (s *SQLiteStore) SaveGroups(ctx context.Context, groups []models.Group) error {
	return s.inTx(ctx, "save groups", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_groups`); err != nil {
			return fmt.Errorf("delete groups: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sync_groups (id, seq, name, photo_ref) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert group: %w", err)
		}
		defer stmt.Close()
		for i, g := range groups {
			if _, err := stmt.ExecContext(ctx, g.ID, i, g.Name, g.PhotoRef); err != nil {
				return fmt.Errorf("insert group %s: %w", g.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_memberships WHERE group_id NOT IN (SELECT id FROM sync_groups)`); err != nil {
			return fmt.Errorf("prune memberships: %w", err)
		}
		return nil
	})
}

// SaveMembership records the pairs of one batch.
func (s *SQLiteStore) SaveMembership(ctx context.Context, members models.MembershipBatch) error {
	if len(members) == 0 {
		return nil
	}
	return s.inTx(ctx, "save membership", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO sync_memberships (group_id, friend_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert membership: %w", err)
		}
		defer stmt.Close()
		for groupID, friendIDs := range members {
			for _, friendID := range friendIDs {
				if _, err := stmt.ExecContext(ctx, groupID, friendID); err != nil {
					return fmt.Errorf("insert membership: %w", err)
				}
			}
		}
		return nil
	})
}

// Load returns the cached snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, first_name, last_name, can_message, photo_ref FROM sync_friends ORDER BY seq`)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query friends: %w", err)
	}
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.CanMessage, &p.PhotoRef); err != nil {
			rows.Close()
			return models.Snapshot{}, fmt.Errorf("scan friend: %w", err)
		}
		snap.Friends = append(snap.Friends, p)
	}
	if err := closeRows(rows); err != nil {
		return models.Snapshot{}, fmt.Errorf("iterate friends: %w", err)
	}

	rows, err = s.sqlDB.QueryContext(ctx, `SELECT id, name, photo_ref FROM sync_groups ORDER BY seq`)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query groups: %w", err)
	}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.PhotoRef); err != nil {
			rows.Close()
			return models.Snapshot{}, fmt.Errorf("scan group: %w", err)
		}
		snap.Groups = append(snap.Groups, g)
	}
	if err := closeRows(rows); err != nil {
		return models.Snapshot{}, fmt.Errorf("iterate groups: %w", err)
	}

	rows, err = s.sqlDB.QueryContext(ctx, `
		SELECT m.group_id, m.friend_id
		FROM sync_memberships m
		JOIN sync_friends f ON f.id = m.friend_id
		JOIN sync_groups g ON g.id = m.group_id
		ORDER BY m.group_id, m.friend_id`)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query memberships: %w", err)
	}
	snap.Memberships = make(models.MembershipBatch)
	for rows.Next() {
		var groupID, friendID string
		if err := rows.Scan(&groupID, &friendID); err != nil {
			rows.Close()
			return models.Snapshot{}, fmt.Errorf("scan membership: %w", err)
		}
		snap.Memberships[groupID] = append(snap.Memberships[groupID], friendID)
	}
	if err := closeRows(rows); err != nil {
		return models.Snapshot{}, fmt.Errorf("iterate memberships: %w", err)
	}
	return snap, nil
}

// Clear removes every cached record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, "clear", func(tx *sql.Tx) error {
		for _, table := range []string{"sync_memberships", "sync_friends", "sync_groups"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
