package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
)

const messageColumns = `mailbox_id, uid, message_id, mod_seq, flags, keywords, internal_date, size, header_size, content_key`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (models.MessageMetadata, error) {
	var (
		m        models.MessageMetadata
		uid      int64
		flags    int64
		keywords string
		date     int64
	)
	err := row.Scan(&m.MailboxID, &uid, &m.MessageID, &m.ModSeq, &flags, &keywords, &date, &m.Size, &m.HeaderSize, &m.ContentKey)
	if err != nil {
		return m, err
	}
	var kw []string
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &kw); err != nil {
			return m, fmt.Errorf("decode keywords of uid %d: %w", uid, err)
		}
	}
	m.UID = models.UID(uid)
	m.Flags = models.NewFlags(models.SystemFlag(flags), kw...)
	m.InternalDate = time.UnixMilli(date).UTC()
	return m, nil
}

func encodeKeywords(keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "", nil
	}
	b, err := json.Marshal(keywords)
	return string(b), err
}

// InsertMessage writes the metadata row and both index rows in one
// transaction so a message is never findable through only one index.
func (s *Store) InsertMessage(ctx context.Context, m *models.MessageMetadata) error {
	keywords, err := encodeKeywords(m.Flags.Keywords)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO message_uid_index (mailbox_id, uid, message_id) VALUES ($1, $2, $3)`),
		m.MailboxID, int64(m.UID), m.MessageID,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO message_id_index (message_id, mailbox_id, uid) VALUES ($1, $2, $3)`),
		m.MessageID, m.MailboxID, int64(m.UID),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO message_metadata (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		m.MailboxID, int64(m.UID), m.MessageID, int64(m.ModSeq), int64(m.Flags.System), keywords,
		m.InternalDate.UnixMilli(), m.Size, m.HeaderSize, m.ContentKey,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+messageColumns+` FROM message_metadata
		 WHERE mailbox_id = $1 AND uid = $2`), mailboxID, int64(uid)))
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, mailboxID uuid.UUID, from, to models.UID) ([]models.MessageMetadata, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+messageColumns+` FROM message_metadata
		 WHERE mailbox_id = $1 AND uid >= $2 AND uid <= $3
		 ORDER BY uid`), mailboxID, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.MessageMetadata
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) LookupUID(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT message_id FROM message_uid_index WHERE mailbox_id = $1 AND uid = $2`),
		mailboxID, int64(uid),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return id, nil
}

func (s *Store) LookupMessageID(ctx context.Context, messageID uuid.UUID) ([]models.MessageLocation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT mailbox_id, uid FROM message_id_index WHERE message_id = $1
		 ORDER BY mailbox_id, uid`), messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.MessageLocation
	for rows.Next() {
		var loc models.MessageLocation
		var uid int64
		if err := rows.Scan(&loc.MailboxID, &uid); err != nil {
			return nil, err
		}
		loc.UID = models.UID(uid)
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *Store) UpdateFlags(ctx context.Context, mailboxID uuid.UUID, uid models.UID, expected, next models.ModSeq, flags models.Flags) (bool, error) {
	keywords, err := encodeKeywords(flags.Keywords)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE message_metadata
		 SET mod_seq = $1, flags = $2, keywords = $3
		 WHERE mailbox_id = $4 AND uid = $5 AND mod_seq = $6`),
		int64(next), int64(flags.System), keywords, mailboxID, int64(uid), int64(expected),
	)
	if err != nil {
		return false, err
	}
	return applied(res)
}

// DeleteMessage removes the metadata row with RETURNING so the caller gets
// the flags the row had when it went away, not a snapshot read earlier.
func (s *Store) DeleteMessage(ctx context.Context, mailboxID uuid.UUID, uid models.UID, messageID uuid.UUID) (*models.MessageMetadata, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := scanMessage(tx.QueryRowContext(ctx, s.q(
		`DELETE FROM message_metadata WHERE mailbox_id = $1 AND uid = $2
		 RETURNING `+messageColumns), mailboxID, int64(uid)))
	if err != nil {
		return nil, notFound(err)
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`DELETE FROM message_uid_index WHERE mailbox_id = $1 AND uid = $2`), mailboxID, int64(uid)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`DELETE FROM message_id_index WHERE message_id = $1 AND mailbox_id = $2 AND uid = $3`),
		messageID, mailboxID, int64(uid)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}
