package drift

import (
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
)

// FieldChange is one attribute that differs between two captures of the same entity.
type FieldChange struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

// UserChange pairs the previous and current record of a modified user.
type UserChange struct {
	ID      string              `json:"id"`
	Old     snapshot.UserRecord `json:"old"`
	New     snapshot.UserRecord `json:"new"`
	Changes []FieldChange       `json:"changes"`
}

// Changed reports whether field is among the recorded changes.
func (c UserChange) Changed(field string) bool {
	return hasField(c.Changes, field)
}

// ChannelChange pairs the previous and current record of a modified channel.
type ChannelChange struct {
	ID      string                 `json:"id"`
	Old     snapshot.ChannelRecord `json:"old"`
	New     snapshot.ChannelRecord `json:"new"`
	Changes []FieldChange          `json:"changes"`
}

// Changed reports whether field is among the recorded changes.
func (c ChannelChange) Changed(field string) bool {
	return hasField(c.Changes, field)
}

func hasField(changes []FieldChange, field string) bool {
	for _, ch := range changes {
		if ch.Field == field {
			return true
		}
	}
	return false
}

// UserDiff groups user ids by change kind. An id appears in at most one list.
type UserDiff struct {
	Added    []snapshot.UserRecord `json:"added"`
	Removed  []snapshot.UserRecord `json:"removed"`
	Modified []UserChange          `json:"modified"`
}

// ChannelDiff groups channel ids by change kind. An id appears in at most one list.
type ChannelDiff struct {
	Added    []snapshot.ChannelRecord `json:"added"`
	Removed  []snapshot.ChannelRecord `json:"removed"`
	Modified []ChannelChange          `json:"modified"`
}

// StorageDelta describes storage growth between captures.
type StorageDelta struct {
	PreviousUsed int64   `json:"previous_used"`
	CurrentUsed  int64   `json:"current_used"`
	UsedDelta    int64   `json:"used_delta"`
	Limit        int64   `json:"limit"`
	PercentDelta float64 `json:"percent_delta"`
}

// Result is the structured difference between two snapshots.
type Result struct {
	Baseline           bool         `json:"baseline"`
	PreviousCapturedAt *time.Time   `json:"previous_captured_at,omitempty"`
	CurrentCapturedAt  time.Time    `json:"current_captured_at"`
	Users              UserDiff     `json:"users"`
	Channels           ChannelDiff  `json:"channels"`
	Storage            StorageDelta `json:"storage"`
}

// Empty reports whether nothing changed between the captures.
func (r *Result) Empty() bool {
	return len(r.Users.Added)+len(r.Users.Removed)+len(r.Users.Modified)+
		len(r.Channels.Added)+len(r.Channels.Removed)+len(r.Channels.Modified) == 0 &&
		r.Storage.UsedDelta == 0
}

// Counts summarises the result for logs and reports.
type Counts struct {
	UsersAdded       int `json:"users_added"`
	UsersRemoved     int `json:"users_removed"`
	UsersModified    int `json:"users_modified"`
	ChannelsAdded    int `json:"channels_added"`
	ChannelsRemoved  int `json:"channels_removed"`
	ChannelsModified int `json:"channels_modified"`
}

// Counts returns the size of every change list.
func (r *Result) Counts() Counts {
	return Counts{
		UsersAdded:       len(r.Users.Added),
		UsersRemoved:     len(r.Users.Removed),
		UsersModified:    len(r.Users.Modified),
		ChannelsAdded:    len(r.Channels.Added),
		ChannelsRemoved:  len(r.Channels.Removed),
		ChannelsModified: len(r.Channels.Modified),
	}
}

// Attribute names used in FieldChange.Field.
const (
	FieldEmail        = "email"
	FieldDisplayName  = "display_name"
	FieldIsAdmin      = "is_admin"
	FieldIsOwner      = "is_owner"
	FieldIsGuest      = "is_guest"
	FieldIsBot        = "is_bot"
	FieldDeactivated  = "deactivated"
	FieldLastActivity = "last_activity"
	FieldHas2FA       = "has_2fa"

	FieldName        = "name"
	FieldIsPrivate   = "is_private"
	FieldIsArchived  = "is_archived"
	FieldIsExtShared = "is_ext_shared"
	FieldMembers     = "members"
	FieldCreatedAt   = "created_at"
)
