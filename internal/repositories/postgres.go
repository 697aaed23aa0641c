package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/mutualsync/internal/db"
	"github.com/vidfriends/mutualsync/internal/models"
)

// PostgresStore persists the membership cache to PostgreSQL.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore constructs a store backed by PostgreSQL. The schema comes
// from the migrations directory.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveFriends replaces the cached friend list and drops memberships of
// friends no longer listed.
func (s *PostgresStore) SaveFriends(ctx context.Context, friends []models.Person) error {
	return s.inTx(ctx, "save friends", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sync_friends`); err != nil {
			return fmt.Errorf("delete friends: %w", err)
		}
		batch := &pgx.Batch{}
		for i, p := range friends {
			batch.Queue(`
                INSERT INTO sync_friends (id, seq, first_name, last_name, can_message, photo_ref)
                VALUES ($1, $2, $3, $4, $5, $6)
            `, p.ID, i, p.FirstName, p.LastName, p.CanMessage, p.PhotoRef)
		}
		batch.Queue(`DELETE FROM sync_memberships WHERE friend_id NOT IN (SELECT id FROM sync_friends)`)
		return sendBatch(ctx, tx, batch, "insert friend")
	})
}

// SaveGroups replaces the cached group list and drops memberships of groups
// no longer listed.
func (s *PostgresStore) SaveGroups(ctx context.Context, groups []models.Group) error {
	return s.inTx(ctx, "save groups", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sync_groups`); err != nil {
			return fmt.Errorf("delete groups: %w", err)
		}
		batch := &pgx.Batch{}
		for i, g := range groups {
			batch.Queue(`
                INSERT INTO sync_groups (id, seq, name, photo_ref)
                VALUES ($1, $2, $3, $4)
            `, g.ID, i, g.Name, g.PhotoRef)
		}
		batch.Queue(`DELETE FROM sync_memberships WHERE group_id NOT IN (SELECT id FROM sync_groups)`)
		return sendBatch(ctx, tx, batch, "insert group")
	})
}

// SaveMembership records the pairs of one batch. Pairs already stored are
// ignored.
func (s *PostgresStore) SaveMembership(ctx context.Context, members models.MembershipBatch) error {
	if len(members) == 0 {
		return nil
	}
	return s.inTx(ctx, "save membership", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for groupID, friendIDs := range members {
			for _, friendID := range friendIDs {
				batch.Queue(`
                    INSERT INTO sync_memberships (group_id, friend_id)
                    VALUES ($1, $2)
                    ON CONFLICT DO NOTHING
                `, groupID, friendID)
			}
		}
		return sendBatch(ctx, tx, batch, "insert membership")
	})
}

// Load returns the cached snapshot. Memberships naming an id that is not
// cached are skipped.
func (s *PostgresStore) Load(ctx context.Context) (models.Snapshot, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var snap models.Snapshot

	rows, err := conn.Query(ctx, `
        SELECT id, first_name, last_name, can_message, photo_ref
        FROM sync_friends
        ORDER BY seq
    `)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query friends: %w", err)
	}
	snap.Friends, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Person, error) {
		var p models.Person
		err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.CanMessage, &p.PhotoRef)
		return p, err
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("scan friends: %w", err)
	}

	rows, err = conn.Query(ctx, `
        SELECT id, name, photo_ref
        FROM sync_groups
        ORDER BY seq
    `)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query groups: %w", err)
	}
	snap.Groups, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Group, error) {
		var g models.Group
		err := row.Scan(&g.ID, &g.Name, &g.PhotoRef)
		return g, err
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("scan groups: %w", err)
	}

	rows, err = conn.Query(ctx, `
        SELECT m.group_id, m.friend_id
        FROM sync_memberships m
        JOIN sync_friends f ON f.id = m.friend_id
        JOIN sync_groups g ON g.id = m.group_id
        ORDER BY m.group_id, m.friend_id
    `)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	snap.Memberships = make(models.MembershipBatch)
	for rows.Next() {
		var groupID, friendID string
		if err := rows.Scan(&groupID, &friendID); err != nil {
			return models.Snapshot{}, fmt.Errorf("scan membership: %w", err)
		}
		snap.Memberships[groupID] = append(snap.Memberships[groupID], friendID)
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("iterate memberships: %w", err)
	}

	return snap, nil
}

// Clear removes every cached record.
func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, "clear", func(tx pgx.Tx) error {
		for _, table := range []string{"sync_memberships", "sync_friends", "sync_groups"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, what string) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	return results.Close()
}

