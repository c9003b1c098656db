package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
)

func (s *Store) GetCounters(ctx context.Context, mailboxID uuid.UUID) (models.MailboxCounters, error) {
	c := models.MailboxCounters{MailboxID: mailboxID}
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT total, unseen FROM mailbox_counters WHERE mailbox_id = $1`), mailboxID,
	).Scan(&c.Total, &c.Unseen)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return c, err
	}
	return c, nil
}

// AddCounters applies the deltas without reading first, so concurrent
// callers never conflict.
func (s *Store) AddCounters(ctx context.Context, mailboxID uuid.UUID, total, unseen int64) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO mailbox_counters (mailbox_id, total, unseen)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (mailbox_id) DO UPDATE
		 SET total = mailbox_counters.total + excluded.total,
		     unseen = mailbox_counters.unseen + excluded.unseen`),
		mailboxID, total, unseen,
	)
	return err
}
