package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
)

func (s *Store) GetACLRow(ctx context.Context, mailboxID uuid.UUID) (*models.ACLRow, error) {
	row := &models.ACLRow{MailboxID: mailboxID}
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT acl, version FROM mailbox_acls WHERE mailbox_id = $1`), mailboxID,
	).Scan(&row.Data, &row.Version)
	if err != nil {
		return nil, notFound(err)
	}
	return row, nil
}

func (s *Store) InsertACLRow(ctx context.Context, mailboxID uuid.UUID, data []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO mailbox_acls (mailbox_id, acl, version)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (mailbox_id) DO NOTHING`),
		mailboxID, string(data),
	)
	if err != nil {
		return false, err
	}
	return applied(res)
}

func (s *Store) UpdateACLRow(ctx context.Context, mailboxID uuid.UUID, data []byte, expectedVersion int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE mailbox_acls
		 SET acl = $1, version = version + 1
		 WHERE mailbox_id = $2 AND version = $3`),
		string(data), mailboxID, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return applied(res)
}
