package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
)

var (
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrMailboxExists   = errors.New("mailbox already exists")
	ErrInvalidName     = errors.New("invalid mailbox name")
)

// Store is the subset of the backend the mailbox service needs.
type Store interface {
	store.MailboxStore
	store.CounterStore
}

type Service struct {
	mailboxes Store
}

func NewService(mailboxes Store) *Service {
	return &Service{mailboxes: mailboxes}
}

func (s *Service) Create(ctx context.Context, owner, name string, ownerIsGroup bool) (*models.Mailbox, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner must not be empty", ErrInvalidName)
	}

	mb := &models.Mailbox{
		ID:           uuid.New(),
		Owner:        owner,
		Name:         name,
		OwnerIsGroup: ownerIsGroup,
	}
	if err := s.mailboxes.CreateMailbox(ctx, mb); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrMailboxExists
		}
		return nil, fmt.Errorf("create mailbox: %w", err)
	}
	return mb, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Mailbox, error) {
	mb, err := s.mailboxes.GetMailboxByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMailboxNotFound
	}
	return mb, err
}

func (s *Service) ListByOwner(ctx context.Context, owner string) ([]models.Mailbox, error) {
	return s.mailboxes.GetMailboxesByOwner(ctx, owner)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mailboxes.DeleteMailbox(ctx, id)
}

// Counters returns the message counters of a mailbox. A mailbox without a
// counter row has zero messages.
func (s *Service) Counters(ctx context.Context, id uuid.UUID) (models.MailboxCounters, error) {
	return s.mailboxes.GetCounters(ctx, id)
}
