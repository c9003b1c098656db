package handlers

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestACL_EditAndRead(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")

	rr := s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "bob", "mode": "add", "rights": "lr"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view aclView
	decode(t, rr, &view)
	if d := cmp.Diff(map[string]string{"bob": "lr"}, view.Added); d != "" {
		t.Errorf("unexpected added entries (-want +got):\n%s", d)
	}

	rr = s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "bob", "mode": "+", "rights": "w"})
	decode(t, rr, &view)
	if d := cmp.Diff(map[string]string{"bob": "lrw"}, view.Changed); d != "" {
		t.Errorf("unexpected changed entries (-want +got):\n%s", d)
	}

	rr = s.do("alice", http.MethodGet, "/mailboxes/"+id+"/acl", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	view = aclView{}
	decode(t, rr, &view)
	if d := cmp.Diff(map[string]string{"bob": "lrw"}, view.ACL); d != "" {
		t.Errorf("unexpected acl (-want +got):\n%s", d)
	}
}

func TestACL_RequiresAdminister(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")
	s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "bob", "mode": "add", "rights": "lr"})

	if rr := s.do("bob", http.MethodGet, "/mailboxes/"+id+"/acl", nil); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for visible mailbox without administer, got %d", rr.Code)
	}
	if rr := s.do("mallory", http.MethodGet, "/mailboxes/"+id+"/acl", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for invisible mailbox, got %d", rr.Code)
	}
	rr := s.doJSON("bob", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "bob", "mode": "add", "rights": "a"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected bob unable to grant himself administer, got %d", rr.Code)
	}
}

func TestACL_BadInput(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")

	tests := []struct {
		name string
		body map[string]string
	}{
		{"unsupported right", map[string]string{"key": "bob", "mode": "add", "rights": "lz"}},
		{"unknown mode", map[string]string{"key": "bob", "mode": "merge", "rights": "l"}},
		{"bad key", map[string]string{"key": "", "mode": "add", "rights": "l"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestACL_SetReplacesWholesale(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")
	s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "bob", "mode": "add", "rights": "lr"})

	rr := s.doJSON("alice", http.MethodPut, "/mailboxes/"+id+"/acl", map[string]any{
		"acl": map[string]string{"anyone": "l", "-$interns": "r"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view aclView
	decode(t, rr, &view)
	if d := cmp.Diff(map[string]string{"anyone": "l", "-$interns": "r"}, view.ACL); d != "" {
		t.Errorf("unexpected acl (-want +got):\n%s", d)
	}
	if d := cmp.Diff(map[string]string{"bob": "lr"}, view.Removed); d != "" {
		t.Errorf("unexpected removed entries (-want +got):\n%s", d)
	}
}

func TestMyRights(t *testing.T) {
	s := newTestServer(t)
	id := s.createMailbox("alice", "INBOX")
	s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "anyone", "mode": "add", "rights": "lr"})
	s.doJSON("alice", http.MethodPatch, "/mailboxes/"+id+"/acl", map[string]string{"key": "-bob", "mode": "add", "rights": "r"})

	tests := []struct {
		principal string
		want      string
	}{
		{"alice", "lra"},
		{"bob", "l"},
		{"", "lr"},
		{"root", "lrswipkxtea"},
	}
	for _, tt := range tests {
		rr := s.do(tt.principal, http.MethodGet, "/mailboxes/"+id+"/myrights", nil)
		var got map[string]string
		decode(t, rr, &got)
		if got["rights"] != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.principal, tt.want, got["rights"])
		}
	}
}
