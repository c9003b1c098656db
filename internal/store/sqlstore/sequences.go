package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
)

func (s *Store) NextUID(ctx context.Context, mailboxID uuid.UUID) (models.UID, error) {
	var uid int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO mailbox_sequences (mailbox_id, last_uid, last_mod_seq)
		 VALUES ($1, 1, 0)
		 ON CONFLICT (mailbox_id) DO UPDATE
		 SET last_uid = mailbox_sequences.last_uid + 1
		 RETURNING last_uid`), mailboxID,
	).Scan(&uid)
	return models.UID(uid), err
}

func (s *Store) NextModSeq(ctx context.Context, mailboxID uuid.UUID) (models.ModSeq, error) {
	var modSeq int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO mailbox_sequences (mailbox_id, last_uid, last_mod_seq)
		 VALUES ($1, 0, 1)
		 ON CONFLICT (mailbox_id) DO UPDATE
		 SET last_mod_seq = mailbox_sequences.last_mod_seq + 1
		 RETURNING last_mod_seq`), mailboxID,
	).Scan(&modSeq)
	return models.ModSeq(modSeq), err
}
