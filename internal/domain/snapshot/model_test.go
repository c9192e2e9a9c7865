package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

var capturedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name       string
		capturedAt time.Time
		users      []UserRecord
		channels   []ChannelRecord
		storage    Storage
		wantErr    bool
	}{
		{
			name:       "valid",
			capturedAt: capturedAt,
			users:      []UserRecord{{ID: "U1"}, {ID: "U2"}},
			channels:   []ChannelRecord{{ID: "C1", Members: []string{"U1"}}},
			storage:    Storage{Used: 10, Limit: 100},
		},
		{
			name:    "missing captured_at",
			users:   []UserRecord{{ID: "U1"}},
			wantErr: true,
		},
		{
			name:       "empty user id",
			capturedAt: capturedAt,
			users:      []UserRecord{{ID: ""}},
			wantErr:    true,
		},
		{
			name:       "duplicate user id",
			capturedAt: capturedAt,
			users:      []UserRecord{{ID: "U1"}, {ID: "U1"}},
			wantErr:    true,
		},
		{
			name:       "duplicate channel id",
			capturedAt: capturedAt,
			channels:   []ChannelRecord{{ID: "C1"}, {ID: "C1"}},
			wantErr:    true,
		},
		{
			name:       "negative storage",
			capturedAt: capturedAt,
			storage:    Storage{Used: -1},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.capturedAt, tt.users, tt.channels, tt.storage)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.HasCode(err, errors.ErrCodeSnapshotMismatch) {
				t.Errorf("New() error code = %v, want %s", err, errors.ErrCodeSnapshotMismatch)
			}
		})
	}
}

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	snap, err := New(capturedAt, nil, []ChannelRecord{{ID: "C1", Members: []string{"U2", "U1", "U1"}}}, Storage{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, _ := snap.Channel("C1")
	if len(ch.Members) != 2 || ch.Members[0] != "U1" {
		t.Fatalf("members = %v, want sorted set [U1 U2]", ch.Members)
	}

	ch.Members[0] = "tampered"
	again, _ := snap.Channel("C1")
	if again.Members[0] != "U1" {
		t.Error("mutating a returned record changed the snapshot")
	}
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	doc := `{
		"captured_at": "2024-03-01T12:00:00Z",
		"users": {
			"U1": {"email": "a@example.com", "is_admin": true, "last_activity": "2024-02-01T00:00:00Z"},
			"U2": {"id": "U2", "is_guest": true}
		},
		"channels": {"C1": {"name": "general", "members": ["U2", "U1"]}},
		"storage": {"used": 50, "limit": 100}
	}`

	snap, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	u, ok := snap.User("U1")
	if !ok || u.ID != "U1" || !u.IsAdmin {
		t.Fatalf("User(U1) = %+v, %v", u, ok)
	}
	if got := snap.Storage().UsedPercent(); got != 50 {
		t.Errorf("UsedPercent() = %v, want 50", got)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	again, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(Marshal()) error = %v", err)
	}
	if again.UserCount() != 2 || again.ChannelCount() != 1 || !again.CapturedAt().Equal(capturedAt) {
		t.Errorf("round trip lost data: %d users, %d channels, %s", again.UserCount(), again.ChannelCount(), again.CapturedAt())
	}
}

func TestRecords_OmitZeroTimes(t *testing.T) {
	data, err := json.Marshal(UserRecord{ID: "U1"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "last_activity") {
		t.Errorf("zero last_activity encoded: %s", data)
	}

	data, err = json.Marshal(ChannelRecord{ID: "C1"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "created_at") {
		t.Errorf("zero created_at encoded: %s", data)
	}

	data, err = json.Marshal(UserRecord{ID: "U1", LastActivity: capturedAt})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"last_activity":"2024-03-01T12:00:00Z"`) {
		t.Errorf("last_activity missing: %s", data)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"no captured_at":  `{"users": {}, "channels": {}, "storage": {"used": 0, "limit": 0}}`,
		"no storage":      `{"captured_at": "2024-03-01T12:00:00Z"}`,
		"key id mismatch": `{"captured_at": "2024-03-01T12:00:00Z", "users": {"U1": {"id": "U9"}}, "storage": {"used": 0, "limit": 0}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			if !errors.HasCode(err, errors.ErrCodeSnapshotMismatch) {
				t.Errorf("Decode() error = %v, want snapshot mismatch", err)
			}
		})
	}
}

func TestFileCollector_PicksNewest(t *testing.T) {
	dir := t.TempDir()
	write := func(name, at string) {
		doc := `{"captured_at": "` + at + `", "users": {}, "channels": {}, "storage": {"used": 0, "limit": 0}}`
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("20240301T000000.json", "2024-03-01T00:00:00Z")
	write("20240302T000000.json", "2024-03-02T00:00:00Z")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := NewFileCollector(dir).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC); !snap.CapturedAt().Equal(want) {
		t.Errorf("CapturedAt() = %s, want %s", snap.CapturedAt(), want)
	}

	if _, err := NewFileCollector(t.TempDir()).Collect(context.Background()); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("empty spool error = %v, want not found", err)
	}
}
