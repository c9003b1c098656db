package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/znz-systems/boxmeta/internal/acl"
	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/blob"
	"github.com/znz-systems/boxmeta/internal/mailbox"
	"github.com/znz-systems/boxmeta/internal/message"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/store/memory"
	"github.com/znz-systems/boxmeta/internal/web/middleware"
)

// --- Shared fixture used by all handler tests ---

type testServer struct {
	t      *testing.T
	router *chi.Mux
}

// newTestServer wires the handlers over an in-memory backend. Members of
// the "admins" group (root) administer every mailbox through the global ACL.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := memory.New()
	groups := authz.NewStaticGroups(map[string][]string{
		"admins": {"root"},
		"sales":  {"carol", "dave"},
	})
	resolver := authz.NewResolver(rights.MustNew(rights.Entry{
		Key:    rights.GroupKey("admins", false),
		Rights: rights.All,
	}), groups)

	acls := acl.NewService(backend, acl.Options{})
	mailboxes := mailbox.NewService(backend)
	messages := message.NewService(backend, blob.NewMemoryStore(), message.Options{})
	checker := authz.NewChecker(resolver, mailboxes, acls, authz.CheckerOptions{})

	mh := NewMailboxHandler(mailboxes, messages, checker)
	ah := NewACLHandler(checker)
	msgh := NewMessageHandler(messages, checker, 0)

	r := chi.NewRouter()
	r.Use(middleware.Principal)
	r.Post("/mailboxes", mh.HandleCreate)
	r.Get("/mailboxes", mh.HandleList)
	r.Get("/mailboxes/{id}", mh.HandleStatus)
	r.Delete("/mailboxes/{id}", mh.HandleDelete)
	r.Get("/mailboxes/{id}/acl", ah.HandleGet)
	r.Put("/mailboxes/{id}/acl", ah.HandleSet)
	r.Patch("/mailboxes/{id}/acl", ah.HandleEdit)
	r.Get("/mailboxes/{id}/myrights", ah.HandleMyRights)
	r.Post("/mailboxes/{id}/messages", msgh.HandleAppend)
	r.Get("/mailboxes/{id}/messages", msgh.HandleList)
	r.Get("/mailboxes/{id}/messages/{uid}/content", msgh.HandleContent)
	r.Delete("/mailboxes/{id}/messages/{uid}", msgh.HandleDelete)
	r.Post("/mailboxes/{id}/messages/{uid}/copy", msgh.HandleCopy)
	r.Post("/mailboxes/{id}/messages/{uid}/move", msgh.HandleMove)
	r.Post("/mailboxes/{id}/flags", msgh.HandleFlags)
	r.Post("/mailboxes/{id}/expunge", msgh.HandleExpunge)

	return &testServer{t: t, router: r}
}

func (s *testServer) do(principal, method, target string, body []byte) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if principal != "" {
		req.Header.Set(middleware.PrincipalHeader, principal)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) doJSON(principal, method, target string, v any) *httptest.ResponseRecorder {
	s.t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		s.t.Fatal(err)
	}
	return s.do(principal, method, target, body)
}

// createMailbox creates a mailbox owned by owner and returns its id.
func (s *testServer) createMailbox(owner, name string) string {
	s.t.Helper()
	rr := s.doJSON(owner, http.MethodPost, "/mailboxes", map[string]any{"name": name})
	if rr.Code != http.StatusCreated {
		s.t.Fatalf("expected 201 creating mailbox, got %d: %s", rr.Code, rr.Body.String())
	}
	var mb struct {
		ID string `json:"id"`
	}
	decode(s.t, rr, &mb)
	return mb.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}
