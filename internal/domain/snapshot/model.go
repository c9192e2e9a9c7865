package snapshot

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/validator"
)

// UserRecord is one workspace member as captured by the collector.
type UserRecord struct {
	ID           string    `json:"id" yaml:"id" validate:"required"`
	Email        string    `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	DisplayName  string    `json:"display_name" yaml:"display_name"`
	IsAdmin      bool      `json:"is_admin" yaml:"is_admin"`
	IsOwner      bool      `json:"is_owner" yaml:"is_owner"`
	IsGuest      bool      `json:"is_guest" yaml:"is_guest"`
	IsBot        bool      `json:"is_bot" yaml:"is_bot"`
	Deactivated  bool      `json:"deactivated" yaml:"deactivated"`
	LastActivity time.Time `json:"last_activity,omitzero" yaml:"last_activity,omitempty"`
	Has2FA       bool      `json:"has_2fa" yaml:"has_2fa"`
}

// IsActive reports whether the user counts towards workspace population figures.
func (u UserRecord) IsActive() bool {
	return !u.IsBot && !u.Deactivated
}

// ChannelRecord is one conversation as captured by the collector.
type ChannelRecord struct {
	ID          string    `json:"id" yaml:"id" validate:"required"`
	Name        string    `json:"name" yaml:"name"`
	IsPrivate   bool      `json:"is_private" yaml:"is_private"`
	IsArchived  bool      `json:"is_archived" yaml:"is_archived"`
	IsExtShared bool      `json:"is_ext_shared" yaml:"is_ext_shared"`
	Members     []string  `json:"members" yaml:"members"`
	CreatedAt   time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

func (c ChannelRecord) clone() ChannelRecord {
	c.Members = slices.Clone(c.Members)
	return c
}

// Storage holds workspace file storage figures in bytes.
type Storage struct {
	Used  int64 `json:"used" yaml:"used" validate:"gte=0"`
	Limit int64 `json:"limit" yaml:"limit" validate:"gte=0"`
}

// UsedPercent returns used/limit as a percentage, or 0 when no limit is known.
func (s Storage) UsedPercent() float64 {
	if s.Limit <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Limit) * 100
}

// Snapshot is an immutable point-in-time capture of workspace state.
// Build one with New or by decoding JSON; there are no mutators.
type Snapshot struct {
	capturedAt time.Time
	users      map[string]UserRecord
	channels   map[string]ChannelRecord
	storage    Storage
}

// New validates the records and builds a Snapshot. Ids must be non-empty and unique
// per entity kind; channel members are stored as a sorted set.
func New(capturedAt time.Time, users []UserRecord, channels []ChannelRecord, storage Storage) (*Snapshot, error) {
	if capturedAt.IsZero() {
		return nil, errors.SnapshotMismatch("snapshot is missing captured_at", nil)
	}

	s := &Snapshot{
		capturedAt: capturedAt.UTC(),
		users:      make(map[string]UserRecord, len(users)),
		channels:   make(map[string]ChannelRecord, len(channels)),
		storage:    storage,
	}

	if problems := validator.Validate(storage); len(problems) > 0 {
		return nil, errors.SnapshotMismatch("invalid storage figures", nil).WithDetails(problems)
	}

	for i, u := range users {
		if problems := validator.Validate(u); len(problems) > 0 {
			return nil, errors.SnapshotMismatch(fmt.Sprintf("invalid user record at index %d", i), nil).WithDetails(problems)
		}
		if _, dup := s.users[u.ID]; dup {
			return nil, errors.SnapshotMismatch(fmt.Sprintf("duplicate user id %q", u.ID), nil)
		}
		if !u.LastActivity.IsZero() {
			u.LastActivity = u.LastActivity.UTC()
		}
		s.users[u.ID] = u
	}

	for i, c := range channels {
		if problems := validator.Validate(c); len(problems) > 0 {
			return nil, errors.SnapshotMismatch(fmt.Sprintf("invalid channel record at index %d", i), nil).WithDetails(problems)
		}
		if _, dup := s.channels[c.ID]; dup {
			return nil, errors.SnapshotMismatch(fmt.Sprintf("duplicate channel id %q", c.ID), nil)
		}
		c.Members = memberSet(c.Members)
		if !c.CreatedAt.IsZero() {
			c.CreatedAt = c.CreatedAt.UTC()
		}
		s.channels[c.ID] = c
	}

	return s, nil
}

func memberSet(members []string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != "" {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// CapturedAt returns the capture time in UTC.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

// Storage returns the storage figures.
func (s *Snapshot) Storage() Storage { return s.storage }

// User looks up a user by id.
func (s *Snapshot) User(id string) (UserRecord, bool) {
	u, ok := s.users[id]
	return u, ok
}

// Channel looks up a channel by id. The returned record owns its members slice.
func (s *Snapshot) Channel(id string) (ChannelRecord, bool) {
	c, ok := s.channels[id]
	if !ok {
		return ChannelRecord{}, false
	}
	return c.clone(), true
}

// UserCount returns the number of users in the capture.
func (s *Snapshot) UserCount() int { return len(s.users) }

// ChannelCount returns the number of channels in the capture.
func (s *Snapshot) ChannelCount() int { return len(s.channels) }

// UserIDs returns all user ids in ascending order.
func (s *Snapshot) UserIDs() []string {
	return sortedKeys(s.users)
}

// ChannelIDs returns all channel ids in ascending order.
func (s *Snapshot) ChannelIDs() []string {
	return sortedKeys(s.channels)
}

// Users returns copies of all user records ordered by id.
func (s *Snapshot) Users() []UserRecord {
	out := make([]UserRecord, 0, len(s.users))
	for _, id := range s.UserIDs() {
		out = append(out, s.users[id])
	}
	return out
}

// Channels returns copies of all channel records ordered by id.
func (s *Snapshot) Channels() []ChannelRecord {
	out := make([]ChannelRecord, 0, len(s.channels))
	for _, id := range s.ChannelIDs() {
		out = append(out, s.channels[id].clone())
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// document is the JSON boundary shape produced by collectors.
type document struct {
	CapturedAt *time.Time               `json:"captured_at"`
	Users      map[string]UserRecord    `json:"users"`
	Channels   map[string]ChannelRecord `json:"channels"`
	Storage    *Storage                 `json:"storage"`
}

// MarshalJSON encodes the snapshot in the collector document shape.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	capturedAt := s.capturedAt
	storage := s.storage
	users := make(map[string]UserRecord, len(s.users))
	for id, u := range s.users {
		users[id] = u
	}
	channels := make(map[string]ChannelRecord, len(s.channels))
	for id, c := range s.channels {
		channels[id] = c.clone()
	}
	return json.Marshal(document{
		CapturedAt: &capturedAt,
		Users:      users,
		Channels:   channels,
		Storage:    &storage,
	})
}

// UnmarshalJSON decodes and validates a collector document. A record whose id is
// empty inherits its map key; a record whose id disagrees with its key is rejected.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.SnapshotMismatch("snapshot document is not valid JSON", err)
	}
	if doc.CapturedAt == nil {
		return errors.SnapshotMismatch("snapshot is missing captured_at", nil)
	}
	if doc.Storage == nil {
		return errors.SnapshotMismatch("snapshot is missing storage", nil)
	}

	users := make([]UserRecord, 0, len(doc.Users))
	for _, key := range sortedKeys(doc.Users) {
		u := doc.Users[key]
		if u.ID == "" {
			u.ID = key
		}
		if u.ID != key {
			return errors.SnapshotMismatch(fmt.Sprintf("user key %q does not match record id %q", key, u.ID), nil)
		}
		users = append(users, u)
	}

	channels := make([]ChannelRecord, 0, len(doc.Channels))
	for _, key := range sortedKeys(doc.Channels) {
		c := doc.Channels[key]
		if c.ID == "" {
			c.ID = key
		}
		if c.ID != key {
			return errors.SnapshotMismatch(fmt.Sprintf("channel key %q does not match record id %q", key, c.ID), nil)
		}
		channels = append(channels, c)
	}

	built, err := New(*doc.CapturedAt, users, channels, *doc.Storage)
	if err != nil {
		return err
	}
	*s = *built
	return nil
}

// Decode parses a collector document.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &s, nil
}
