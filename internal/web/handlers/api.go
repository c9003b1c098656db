package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/mailbox"
	"github.com/znz-systems/boxmeta/internal/message"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/retry"
	"github.com/znz-systems/boxmeta/internal/rights"
)

const defaultMaxBodyBytes int64 = 1024 * 1024

// errBadRequest marks request parsing failures.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// jsonResponse is the envelope for simple API JSON responses.
type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retry.ErrConcurrencyExhausted):
		slog.Warn("too much contention", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: "too many concurrent modifications, retry later"})
	case errors.Is(err, errBadRequest),
		errors.Is(err, rights.ErrUnsupportedRight),
		errors.Is(err, rights.ErrMalformedCommand),
		errors.Is(err, rights.ErrInvalidEntryKey),
		errors.Is(err, message.ErrInvalidRange),
		errors.Is(err, mailbox.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
	case errors.Is(err, authz.ErrNotVisible), errors.Is(err, mailbox.ErrMailboxNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "mailbox not found"})
	case errors.Is(err, message.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "message not found"})
	case errors.Is(err, authz.ErrForbidden):
		writeJSON(w, http.StatusForbidden, jsonResponse{Error: err.Error()})
	case errors.Is(err, mailbox.ErrMailboxExists):
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "mailbox already exists"})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON payload")
	}
	return nil
}

func mailboxIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid mailbox id")
	}
	return id, nil
}

func uidParam(r *http.Request) (models.UID, error) {
	uid, err := parseUID(chi.URLParam(r, "uid"))
	if err != nil || uid == 0 {
		return 0, badRequest("invalid uid")
	}
	return uid, nil
}

func parseUID(s string) (models.UID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return models.UID(n), err
}

// uidRange reads an optional from/to pair. Missing bounds default to the
// whole mailbox.
func uidRange(from, to string) (message.Range, error) {
	r := message.All()
	if from != "" {
		uid, err := parseUID(from)
		if err != nil {
			return r, badRequest("invalid from %q", from)
		}
		r.From = uid
	}
	if to != "" {
		uid, err := parseUID(to)
		if err != nil {
			return r, badRequest("invalid to %q", to)
		}
		r.To = uid
	}
	return r, r.Validate()
}

// messageView is the JSON form of message metadata.
type messageView struct {
	UID          models.UID    `json:"uid"`
	MessageID    uuid.UUID     `json:"message_id"`
	ModSeq       models.ModSeq `json:"modseq"`
	Flags        []string      `json:"flags"`
	InternalDate string        `json:"internal_date"`
	Size         int64         `json:"size"`
	HeaderSize   int64         `json:"header_size"`
}

func newMessageView(m *models.MessageMetadata) messageView {
	flags := m.Flags.Names()
	if flags == nil {
		flags = []string{}
	}
	return messageView{
		UID:          m.UID,
		MessageID:    m.MessageID,
		ModSeq:       m.ModSeq,
		Flags:        flags,
		InternalDate: m.InternalDate.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Size:         m.Size,
		HeaderSize:   m.HeaderSize,
	}
}
