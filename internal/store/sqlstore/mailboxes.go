package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
)

func (s *Store) CreateMailbox(ctx context.Context, mb *models.Mailbox) error {
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO mailboxes (id, owner, name, owner_is_group, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		mb.ID, mb.Owner, mb.Name, mb.OwnerIsGroup, mb.CreatedAt.Unix(),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetMailboxByID(ctx context.Context, id uuid.UUID) (*models.Mailbox, error) {
	mb := &models.Mailbox{}
	var created int64
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, owner, name, owner_is_group, created_at
		 FROM mailboxes WHERE id = $1`), id,
	).Scan(&mb.ID, &mb.Owner, &mb.Name, &mb.OwnerIsGroup, &created)
	if err != nil {
		return nil, notFound(err)
	}
	mb.CreatedAt = time.Unix(created, 0).UTC()
	return mb, nil
}

func (s *Store) GetMailboxesByOwner(ctx context.Context, owner string) ([]models.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, owner, name, owner_is_group, created_at
		 FROM mailboxes WHERE owner = $1 ORDER BY name`), owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mailboxes []models.Mailbox
	for rows.Next() {
		var mb models.Mailbox
		var created int64
		if err := rows.Scan(&mb.ID, &mb.Owner, &mb.Name, &mb.OwnerIsGroup, &created); err != nil {
			return nil, err
		}
		mb.CreatedAt = time.Unix(created, 0).UTC()
		mailboxes = append(mailboxes, mb)
	}
	return mailboxes, rows.Err()
}

// DeleteMailbox removes the mailbox and every row keyed by it.
func (s *Store) DeleteMailbox(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM message_id_index WHERE mailbox_id = $1`,
		`DELETE FROM message_uid_index WHERE mailbox_id = $1`,
		`DELETE FROM message_metadata WHERE mailbox_id = $1`,
		`DELETE FROM mailbox_counters WHERE mailbox_id = $1`,
		`DELETE FROM mailbox_sequences WHERE mailbox_id = $1`,
		`DELETE FROM mailbox_acls WHERE mailbox_id = $1`,
		`DELETE FROM mailboxes WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
