package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestHandleCreate_OwnerAndGroup(t *testing.T) {
	s := newTestServer(t)

	if rr := s.doJSON("", http.MethodPost, "/mailboxes", map[string]any{"name": "INBOX"}); rr.Code != http.StatusForbidden {
		t.Errorf("expected anonymous create to be refused with 403, got %d", rr.Code)
	}
	if rr := s.doJSON("alice", http.MethodPost, "/mailboxes", map[string]any{"name": " "}); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank name, got %d", rr.Code)
	}

	rr := s.doJSON("carol", http.MethodPost, "/mailboxes", map[string]any{"name": "Leads", "owner": "sales", "owner_is_group": true})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected group member to create group mailbox, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.doJSON("alice", http.MethodPost, "/mailboxes", map[string]any{"name": "Other", "owner": "sales", "owner_is_group": true})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected non-member to be refused, got %d", rr.Code)
	}
	rr = s.doJSON("dave", http.MethodPost, "/mailboxes", map[string]any{"name": "Leads", "owner": "sales", "owner_is_group": true})
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate name, got %d", rr.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")

	// Owner rights alone (lookup, administer) do not include read.
	if rr := s.do("alice", http.MethodGet, "/mailboxes/"+id, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without read, got %d", rr.Code)
	}
	s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "owner", "mode": "add", "rights": "lrswitei"})
	s.do("alice", http.MethodPost, "/mailboxes/"+id+"/messages", []byte("Subject: a\r\n\r\nbody"))

	rr := s.do("alice", http.MethodGet, "/mailboxes/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view mailboxView
	decode(t, rr, &view)
	if view.Total == nil || *view.Total != 1 || view.Unseen == nil || *view.Unseen != 1 {
		t.Errorf("expected total=1 unseen=1, got %+v", view)
	}
	if view.MyRights != "lrswitea" {
		t.Errorf("unexpected rights %q", view.MyRights)
	}
}

func TestHandleStatus_HiddenFromStrangers(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")

	if rr := s.do("mallory", http.MethodGet, "/mailboxes/"+id, nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for principal without lookup, got %d", rr.Code)
	}
	if rr := s.do("alice", http.MethodGet, "/mailboxes/"+uuid.NewString(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown mailbox, got %d", rr.Code)
	}
	if rr := s.do("alice", http.MethodGet, "/mailboxes/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rr.Code)
	}
}

func TestHandleList_OwnMailboxes(t *testing.T) {
	s := newTestServer(t)
	s.createMailbox("alice", "INBOX")
	s.createMailbox("alice", "Sent")
	s.createMailbox("bob", "INBOX")

	var list []mailboxView
	decode(t, s.do("alice", http.MethodGet, "/mailboxes", nil), &list)
	if len(list) != 2 {
		t.Errorf("expected 2 mailboxes, got %d", len(list))
	}
}

func TestHandleDelete_RequiresDeleteRight(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")

	if rr := s.do("alice", http.MethodDelete, "/mailboxes/"+id, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without delete right, got %d", rr.Code)
	}
	if rr := s.do("root", http.MethodDelete, "/mailboxes/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected admin delete to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := s.do("root", http.MethodGet, "/mailboxes/"+id, nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}
