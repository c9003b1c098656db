package rights

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedACL is returned by Unmarshal for data that is not a valid
// persisted ACL.
var ErrMalformedACL = errors.New("malformed persisted ACL")

type persistedACL struct {
	Entries map[string]string `json:"entries"`
}

// Marshal encodes a for persistence.
func Marshal(a ACL) ([]byte, error) {
	p := persistedACL{Entries: make(map[string]string, a.Len())}
	for k, r := range a.entries {
		p.Entries[k.String()] = r.String()
	}
	return json.Marshal(p)
}

// Unmarshal decodes data written by Marshal. Any failure wraps ErrMalformedACL.
func Unmarshal(data []byte) (ACL, error) {
	var p persistedACL
	if err := json.Unmarshal(data, &p); err != nil {
		return Empty, fmt.Errorf("%w: %w", ErrMalformedACL, err)
	}
	entries := make([]Entry, 0, len(p.Entries))
	for keyText, rightsText := range p.Entries {
		key, err := ParseEntryKey(keyText)
		if err != nil {
			return Empty, fmt.Errorf("%w: %w", ErrMalformedACL, err)
		}
		r, err := ParseRights(rightsText)
		if err != nil {
			return Empty, fmt.Errorf("%w: %w", ErrMalformedACL, err)
		}
		entries = append(entries, Entry{Key: key, Rights: r})
	}
	a, err := New(entries...)
	if err != nil {
		return Empty, fmt.Errorf("%w: %w", ErrMalformedACL, err)
	}
	return a, nil
}

// Map returns the entries keyed by their textual form, as used in JSON APIs.
func (a ACL) Map() map[string]string {
	m := make(map[string]string, a.Len())
	for k, r := range a.entries {
		m[k.String()] = r.String()
	}
	return m
}

// FromMap is the inverse of ACL.Map.
func FromMap(m map[string]string) (ACL, error) {
	entries := make([]Entry, 0, len(m))
	for keyText, rightsText := range m {
		key, err := ParseEntryKey(keyText)
		if err != nil {
			return Empty, err
		}
		r, err := ParseRights(rightsText)
		if err != nil {
			return Empty, err
		}
		entries = append(entries, Entry{Key: key, Rights: r})
	}
	return New(entries...)
}
