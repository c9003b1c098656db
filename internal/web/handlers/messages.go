package handlers

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/message"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/web/middleware"
)

const defaultMaxMessageBytes int64 = 25 * 1024 * 1024

// MessageHandler serves message append, listing and mutation.
type MessageHandler struct {
	messages        *message.Service
	checker         *authz.Checker
	maxMessageBytes int64
}

func NewMessageHandler(messages *message.Service, checker *authz.Checker, maxMessageBytes int64) *MessageHandler {
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	return &MessageHandler{
		messages:        messages,
		checker:         checker,
		maxMessageBytes: maxMessageBytes,
	}
}

// flagRights returns the rights needed to set or clear the given flags.
func flagRights(f models.Flags) rights.Rights {
	var need rights.Rights
	if f.Has(models.FlagSeen) {
		need = need.Union(rights.NewRights(rights.WriteSeen))
	}
	if f.Has(models.FlagDeleted) {
		need = need.Union(rights.NewRights(rights.DeleteMessages))
	}
	if f.System&^(models.FlagSeen|models.FlagDeleted|models.FlagRecent) != 0 || len(f.Keywords) > 0 {
		need = need.Union(rights.NewRights(rights.Write))
	}
	return need
}

// permittedFlags drops the flags have does not allow setting.
func permittedFlags(have rights.Rights, f models.Flags) models.Flags {
	out := f
	if !have.Contains(rights.WriteSeen) {
		out.System &^= models.FlagSeen
	}
	if !have.Contains(rights.DeleteMessages) {
		out.System &^= models.FlagDeleted
	}
	if !have.Contains(rights.Write) {
		out.System &= models.FlagSeen | models.FlagDeleted | models.FlagRecent
		out.Keywords = nil
	}
	return out
}

// HandleAppend stores the raw request body as a new message.
//
// Query parameters:
//
//	flag  (repeatable, e.g. \Seen or a keyword)
//	date  (optional internal date, RFC 3339)
//
// Flags the caller has no right to set are ignored.
func (h *MessageHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.Insert))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var date time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		date, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, badRequest("invalid date %q", v))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxMessageBytes)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "message too large"})
			return
		}
		writeError(w, r, badRequest("unreadable body"))
		return
	}
	if len(content) == 0 {
		writeError(w, r, badRequest("message content is required"))
		return
	}

	flags := permittedFlags(acc.Rights, models.ParseFlags(r.URL.Query()["flag"]))
	m, err := h.messages.AddMessage(r.Context(), id, message.NewMessage{
		Content:      content,
		Flags:        flags,
		InternalDate: date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageView(m))
}

// HandleList lists message metadata in the optional ?from=&to= UID range.
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rng, err := uidRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.Read)); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.messages.List(r.Context(), id, rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]messageView, 0, len(list))
	for i := range list {
		views = append(views, newMessageView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleContent writes the stored message as message/rfc822.
func (h *MessageHandler) HandleContent(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid, err := uidParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.Read)); err != nil {
		writeError(w, r, err)
		return
	}

	m, body, err := h.messages.Content(r.Context(), id, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Header-Size", strconv.FormatInt(m.HeaderSize, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleDelete removes one message. Deleting a message that is already gone
// succeeds.
func (h *MessageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid, err := uidParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	need := rights.NewRights(rights.DeleteMessages, rights.PerformExpunge)
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, need); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.messages.DeleteMessage(r.Context(), id, uid); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleFlags updates the flags of a UID range.
//
// Expected JSON body:
//
//	{"from": 1, "to": 10, "mode": "add", "flags": ["\\Seen", "work"]}
//
// Missing bounds cover the whole mailbox. The response lists the messages
// whose flags changed.
func (h *MessageHandler) HandleFlags(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload struct {
		From  models.UID `json:"from"`
		To    models.UID `json:"to"`
		Mode  string     `json:"mode"`
		Flags []string   `json:"flags"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	rng := message.All()
	if payload.From != 0 {
		rng.From = payload.From
	}
	if payload.To != 0 {
		rng.To = payload.To
	}
	if err := rng.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := message.ParseFlagsMode(payload.Mode)
	if err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}
	flags := models.ParseFlags(payload.Flags)

	need := flagRights(flags)
	if mode == message.FlagsReplace {
		need = rights.NewRights(rights.WriteSeen, rights.Write, rights.DeleteMessages)
	}
	need = need.Union(rights.NewRights(rights.Read))
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, need); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := h.messages.UpdateFlags(r.Context(), id, rng, message.FlagsUpdate{Mode: mode, Flags: flags})
	if err != nil {
		writeError(w, r, err)
		return
	}

	type updateView struct {
		UID      models.UID    `json:"uid"`
		ModSeq   models.ModSeq `json:"modseq"`
		OldFlags []string      `json:"old_flags"`
		NewFlags []string      `json:"new_flags"`
	}
	views := make([]updateView, 0, len(updated))
	for _, u := range updated {
		views = append(views, updateView{
			UID:      u.UID,
			ModSeq:   u.ModSeq,
			OldFlags: u.OldFlags.Names(),
			NewFlags: u.NewFlags.Names(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleExpunge deletes the messages flagged \Deleted in an optional range.
//
// Expected JSON body (may be empty):
//
//	{"from": 1, "to": 10}
func (h *MessageHandler) HandleExpunge(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload struct {
		From models.UID `json:"from"`
		To   models.UID `json:"to"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &payload); err != nil {
			writeError(w, r, err)
			return
		}
	}
	rng := message.All()
	if payload.From != 0 {
		rng.From = payload.From
	}
	if payload.To != 0 {
		rng.To = payload.To
	}
	if err := rng.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.checker.Require(r.Context(), middleware.PrincipalFromContext(r.Context()), id, rights.NewRights(rights.PerformExpunge)); err != nil {
		writeError(w, r, err)
		return
	}

	expunged, err := h.messages.ExpungeMarkedForDeletion(r.Context(), id, rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uids := make([]models.UID, 0, len(expunged))
	for uid := range expunged {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	writeJSON(w, http.StatusOK, map[string][]models.UID{"expunged": uids})
}

// HandleCopy copies one message into the mailbox named by
// {"destination": "<uuid>"}.
func (h *MessageHandler) HandleCopy(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, false)
}

// HandleMove is HandleCopy followed by deleting the original.
func (h *MessageHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, true)
}

func (h *MessageHandler) transfer(w http.ResponseWriter, r *http.Request, move bool) {
	src, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid, err := uidParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload struct {
		Destination string `json:"destination"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	dst, err := uuid.Parse(payload.Destination)
	if err != nil {
		writeError(w, r, badRequest("invalid destination mailbox id"))
		return
	}

	principal := middleware.PrincipalFromContext(r.Context())
	need := rights.NewRights(rights.Read)
	if move {
		need = need.Union(rights.NewRights(rights.DeleteMessages, rights.PerformExpunge))
	}
	if _, err := h.checker.Require(r.Context(), principal, src, need); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.checker.Require(r.Context(), principal, dst, rights.NewRights(rights.Insert)); err != nil {
		writeError(w, r, err)
		return
	}

	var m *models.MessageMetadata
	if move {
		m, err = h.messages.Move(r.Context(), src, uid, dst)
	} else {
		m, err = h.messages.Copy(r.Context(), src, uid, dst)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageView(m))
}
