package handlers

import (
	"net/http"

	"github.com/znz-systems/boxmeta/internal/acl"
	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/web/middleware"
)

// ACLHandler serves the access control endpoints of a mailbox.
type ACLHandler struct {
	checker *authz.Checker
}

func NewACLHandler(checker *authz.Checker) *ACLHandler {
	return &ACLHandler{checker: checker}
}

type aclView struct {
	ACL     map[string]string `json:"acl"`
	Added   map[string]string `json:"added,omitempty"`
	Removed map[string]string `json:"removed,omitempty"`
	Changed map[string]string `json:"changed,omitempty"`
}

func newChangeView(change acl.Change) aclView {
	diff := change.Diff()
	return aclView{
		ACL:     change.After.Map(),
		Added:   entryMap(diff.Added),
		Removed: entryMap(diff.Removed),
		Changed: entryMap(diff.Changed),
	}
}

func entryMap(entries []rights.Entry) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key.String()] = e.Rights.String()
	}
	return m
}

func (h *ACLHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.checker.GetACL(r.Context(), middleware.PrincipalFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aclView{ACL: a.Map()})
}

// HandleSet replaces the whole ACL.
//
// Expected JSON body:
//
//	{"acl": {"bob": "lr", "-$interns": "w"}}
func (h *ACLHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload struct {
		ACL map[string]string `json:"acl"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	next, err := rights.FromMap(payload.ACL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	change, err := h.checker.SetACL(r.Context(), middleware.PrincipalFromContext(r.Context()), id, next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChangeView(change))
}

// HandleEdit applies one edit command.
//
// Expected JSON body:
//
//	{"key": "bob", "mode": "add", "rights": "lr"}
//
// mode is one of add, remove or replace.
func (h *ACLHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload struct {
		Key    string `json:"key"`
		Mode   string `json:"mode"`
		Rights string `json:"rights"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := rights.ParseEntryKey(payload.Key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := rights.ParseEditMode(payload.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	set, err := rights.ParseRights(payload.Rights)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cmd := rights.Command{Key: key, Mode: mode, Rights: set}
	change, err := h.checker.ApplyCommand(r.Context(), middleware.PrincipalFromContext(r.Context()), id, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChangeView(change))
}

// HandleMyRights returns the caller's effective rights. A caller without
// any right sees the mailbox as nonexistent.
func (h *ACLHandler) HandleMyRights(w http.ResponseWriter, r *http.Request) {
	id, err := mailboxIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	set, err := h.checker.MyRights(r.Context(), middleware.PrincipalFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if set.IsEmpty() {
		writeError(w, r, authz.ErrNotVisible)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rights": set.String()})
}
