package handlers

import (
	"net/http"
	"strings"

	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/mailbox"
	"github.com/znz-systems/boxmeta/internal/message"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/web/middleware"
)

// MailboxHandler serves mailbox creation, status and deletion.
type MailboxHandler struct {
	mailboxes *mailbox.Service
	messages  *message.Service
	checker   *authz.Checker
}

func NewMailboxHandler(mailboxes *mailbox.Service, messages *message.Service, checker *authz.Checker) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		messages:  messages,
		checker:   checker,
	}
}

type mailboxView struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	OwnerIsGroup bool   `json:"owner_is_group"`
	Total        *int64 `json:"total,omitempty"`
	Unseen       *int64 `json:"unseen,omitempty"`
	MyRights     string `json:"myrights,omitempty"`
}

func newMailboxView(mb *models.Mailbox) mailboxView {
	return mailboxView{
		ID:           mb.ID.String(),
		Owner:        mb.Owner,
		Name:         mb.Name,
		OwnerIsGroup: mb.OwnerIsGroup,
	}
}

// HandleCreate creates a mailbox owned by the caller, or by a group the
// caller belongs to.
func (h *MailboxHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())

	var payload struct {
		Name         string `json:"name"`
		Owner        string `json:"owner"`
		OwnerIsGroup bool   `json:"owner_is_group"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	owner := strings.TrimSpace(payload.Owner)
	if owner == "" {
		if payload.OwnerIsGroup {
			writeError(w, r, badRequest("owner is required for group mailboxes"))
			return
		}
		owner = principal
	}
	allowed, err := h.checker.CanOwn(r.Context(), principal, owner, payload.OwnerIsGroup)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, jsonResponse{Error: "cannot create mailboxes for " + owner})
		return
	}

	mb, err := h.mailboxes.Create(r.Context(), owner, payload.Name, payload.OwnerIsGroup)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMailboxView(mb))
}

// HandleList lists the mailboxes the caller owns directly.
func (h *MailboxHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == authz.Anonymous {
		writeJSON(w, http.StatusOK, []mailboxView{})
		return
	}
	list, err := h.mailboxes.ListByOwner(r.Context(), principal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]mailboxView, 0, len(list))
	for i := range list {
		views = append(views, newMailboxView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleStatus returns the mailbox with its counters and the caller's rights.
func (h *MailboxHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.Lookup, rights.Read))
	if err != nil {
		writeError(w, r, err)
		return
	}
	counters, err := h.mailboxes.Counters(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := newMailboxView(acc.Mailbox)
	view.Total = &counters.Total
	view.Unseen = &counters.Unseen
	view.MyRights = acc.Rights.String()
	writeJSON(w, http.StatusOK, view)
}

// HandleDelete removes the mailbox and all of its messages.
func (h *MailboxHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.DeleteMailbox)); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.messages.Purge(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.mailboxes.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}
