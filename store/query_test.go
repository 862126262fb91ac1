package store

import (
	"errors"
	"testing"
)

func TestQueryFingerprintStable(t *testing.T) {
	a := Query{
		Terms:      map[string]string{"userId": "alice", "folderId": "inbox"},
		Text:       "invoice",
		TextFields: []string{"subject", "body"},
		SortBy:     "receivedAt",
		SortOrder:  SortDesc,
		Limit:      50,
	}
	b := Query{
		Terms:      map[string]string{"folderId": "inbox", "userId": "alice"},
		Text:       "invoice",
		TextFields: []string{"body", "subject"},
		SortBy:     "receivedAt",
		SortOrder:  SortDesc,
		Limit:      50,
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal queries produced different fingerprints")
	}
}

func TestQueryFingerprintDistinct(t *testing.T) {
	base := Query{Terms: map[string]string{"userId": "alice"}, Limit: 50}
	variants := []Query{
		{Terms: map[string]string{"userId": "bob"}, Limit: 50},
		{Terms: map[string]string{"userId": "alice"}, Limit: 25},
		{Terms: map[string]string{"userId": "alice"}, Limit: 50, Offset: 50},
		{Terms: map[string]string{"userId": "alice"}, Limit: 50, SortBy: "receivedAt"},
	}
	for i, v := range variants {
		if base.Fingerprint() == v.Fingerprint() {
			t.Errorf("variant %d produced same fingerprint as base", i)
		}
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"empty", Query{}, false},
		{"negative limit", Query{Limit: -1}, true},
		{"negative offset", Query{Offset: -1}, true},
		{"bad sort order", Query{SortOrder: "sideways"}, true},
		{"text without fields", Query{Text: "hello"}, true},
		{"text with fields", Query{Text: "hello", TextFields: []string{"subject"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrQueryInvalid) {
				t.Errorf("Validate() = %v, want ErrQueryInvalid", err)
			}
		})
	}
}
