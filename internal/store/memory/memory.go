// Package memory is an in-process Backend. Every method locks the whole
// store, which gives the same per-row atomicity the SQL backends provide.
// It is meant for tests and single-process development setups.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
)

type msgKey struct {
	mailboxID uuid.UUID
	uid       models.UID
}

type idKey struct {
	messageID uuid.UUID
	mailboxID uuid.UUID
	uid       models.UID
}

type sequences struct {
	lastUID    models.UID
	lastModSeq models.ModSeq
}

type Store struct {
	mu        sync.Mutex
	mailboxes map[uuid.UUID]models.Mailbox
	acls      map[uuid.UUID]models.ACLRow
	messages  map[msgKey]models.MessageMetadata
	uidIndex  map[msgKey]uuid.UUID
	idIndex   map[idKey]struct{}
	counters  map[uuid.UUID]models.MailboxCounters
	sequences map[uuid.UUID]sequences
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		mailboxes: make(map[uuid.UUID]models.Mailbox),
		acls:      make(map[uuid.UUID]models.ACLRow),
		messages:  make(map[msgKey]models.MessageMetadata),
		uidIndex:  make(map[msgKey]uuid.UUID),
		idIndex:   make(map[idKey]struct{}),
		counters:  make(map[uuid.UUID]models.MailboxCounters),
		sequences: make(map[uuid.UUID]sequences),
	}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateMailbox(_ context.Context, mb *models.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[mb.ID]; ok {
		return store.ErrConflict
	}
	for _, other := range s.mailboxes {
		if other.Owner == mb.Owner && other.Name == mb.Name {
			return store.ErrConflict
		}
	}
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now().UTC()
	}
	s.mailboxes[mb.ID] = *mb
	return nil
}

func (s *Store) GetMailboxByID(_ context.Context, id uuid.UUID) (*models.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &mb, nil
}

func (s *Store) GetMailboxesByOwner(_ context.Context, owner string) ([]models.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l []models.Mailbox
	for _, mb := range s.mailboxes {
		if mb.Owner == owner {
			l = append(l, mb)
		}
	}
	sort.Slice(l, func(i, j int) bool { return l[i].Name < l[j].Name })
	return l, nil
}

func (s *Store) DeleteMailbox(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mailboxes, id)
	delete(s.acls, id)
	delete(s.counters, id)
	delete(s.sequences, id)
	for k, m := range s.messages {
		if k.mailboxID == id {
			delete(s.messages, k)
			delete(s.uidIndex, k)
			delete(s.idIndex, idKey{m.MessageID, k.mailboxID, k.uid})
		}
	}
	return nil
}

func (s *Store) GetACLRow(_ context.Context, mailboxID uuid.UUID) (*models.ACLRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.acls[mailboxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	row.Data = slices.Clone(row.Data)
	return &row, nil
}

func (s *Store) InsertACLRow(_ context.Context, mailboxID uuid.UUID, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acls[mailboxID]; ok {
		return false, nil
	}
	s.acls[mailboxID] = models.ACLRow{MailboxID: mailboxID, Data: slices.Clone(data), Version: 0}
	return true, nil
}

func (s *Store) UpdateACLRow(_ context.Context, mailboxID uuid.UUID, data []byte, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.acls[mailboxID]
	if !ok || row.Version != expectedVersion {
		return false, nil
	}
	row.Data = slices.Clone(data)
	row.Version++
	s.acls[mailboxID] = row
	return true, nil
}

func cloneMessage(m models.MessageMetadata) models.MessageMetadata {
	m.Flags.Keywords = slices.Clone(m.Flags.Keywords)
	return m
}

func (s *Store) InsertMessage(_ context.Context, m *models.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := msgKey{m.MailboxID, m.UID}
	if _, ok := s.uidIndex[k]; ok {
		return store.ErrConflict
	}
	s.messages[k] = cloneMessage(*m)
	s.uidIndex[k] = m.MessageID
	s.idIndex[idKey{m.MessageID, m.MailboxID, m.UID}] = struct{}{}
	return nil
}

func (s *Store) GetMessage(_ context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgKey{mailboxID, uid}]
	if !ok {
		return nil, store.ErrNotFound
	}
	m = cloneMessage(m)
	return &m, nil
}

func (s *Store) ListMessages(_ context.Context, mailboxID uuid.UUID, from, to models.UID) ([]models.MessageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l []models.MessageMetadata
	for k, m := range s.messages {
		if k.mailboxID == mailboxID && k.uid >= from && k.uid <= to {
			l = append(l, cloneMessage(m))
		}
	}
	sort.Slice(l, func(i, j int) bool { return l[i].UID < l[j].UID })
	return l, nil
}

func (s *Store) LookupUID(_ context.Context, mailboxID uuid.UUID, uid models.UID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.uidIndex[msgKey{mailboxID, uid}]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

func (s *Store) LookupMessageID(_ context.Context, messageID uuid.UUID) ([]models.MessageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l []models.MessageLocation
	for k := range s.idIndex {
		if k.messageID == messageID {
			l = append(l, models.MessageLocation{MailboxID: k.mailboxID, UID: k.uid})
		}
	}
	sort.Slice(l, func(i, j int) bool {
		if l[i].MailboxID != l[j].MailboxID {
			return l[i].MailboxID.String() < l[j].MailboxID.String()
		}
		return l[i].UID < l[j].UID
	})
	return l, nil
}

func (s *Store) UpdateFlags(_ context.Context, mailboxID uuid.UUID, uid models.UID, expected, next models.ModSeq, flags models.Flags) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := msgKey{mailboxID, uid}
	m, ok := s.messages[k]
	if !ok || m.ModSeq != expected {
		return false, nil
	}
	m.ModSeq = next
	m.Flags = models.NewFlags(flags.System, flags.Keywords...)
	s.messages[k] = m
	return true, nil
}

func (s *Store) DeleteMessage(_ context.Context, mailboxID uuid.UUID, uid models.UID, messageID uuid.UUID) (*models.MessageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := msgKey{mailboxID, uid}
	m, ok := s.messages[k]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.messages, k)
	delete(s.uidIndex, k)
	delete(s.idIndex, idKey{messageID, mailboxID, uid})
	m.Flags = models.NewFlags(m.Flags.System, m.Flags.Keywords...)
	return &m, nil
}

func (s *Store) GetCounters(_ context.Context, mailboxID uuid.UUID) (models.MailboxCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[mailboxID]
	if !ok {
		return models.MailboxCounters{MailboxID: mailboxID}, nil
	}
	return c, nil
}

func (s *Store) AddCounters(_ context.Context, mailboxID uuid.UUID, total, unseen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[mailboxID]
	c.MailboxID = mailboxID
	c.Total += total
	c.Unseen += unseen
	s.counters[mailboxID] = c
	return nil
}

func (s *Store) NextUID(_ context.Context, mailboxID uuid.UUID) (models.UID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[mailboxID]
	seq.lastUID++
	s.sequences[mailboxID] = seq
	return seq.lastUID, nil
}

func (s *Store) NextModSeq(_ context.Context, mailboxID uuid.UUID) (models.ModSeq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[mailboxID]
	seq.lastModSeq++
	s.sequences[mailboxID] = seq
	return seq.lastModSeq, nil
}
