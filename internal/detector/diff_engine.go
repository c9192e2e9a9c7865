package detector

import (
	"fmt"
	"slices"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

type userField struct {
	name string
	get  func(snapshot.UserRecord) interface{}
}

type channelField struct {
	name string
	get  func(snapshot.ChannelRecord) interface{}
}

var userFields = []userField{
	{drift.FieldEmail, func(u snapshot.UserRecord) interface{} { return u.Email }},
	{drift.FieldDisplayName, func(u snapshot.UserRecord) interface{} { return u.DisplayName }},
	{drift.FieldIsAdmin, func(u snapshot.UserRecord) interface{} { return u.IsAdmin }},
	{drift.FieldIsOwner, func(u snapshot.UserRecord) interface{} { return u.IsOwner }},
	{drift.FieldIsGuest, func(u snapshot.UserRecord) interface{} { return u.IsGuest }},
	{drift.FieldIsBot, func(u snapshot.UserRecord) interface{} { return u.IsBot }},
	{drift.FieldDeactivated, func(u snapshot.UserRecord) interface{} { return u.Deactivated }},
	{drift.FieldLastActivity, func(u snapshot.UserRecord) interface{} { return u.LastActivity }},
	{drift.FieldHas2FA, func(u snapshot.UserRecord) interface{} { return u.Has2FA }},
}

var channelFields = []channelField{
	{drift.FieldName, func(c snapshot.ChannelRecord) interface{} { return c.Name }},
	{drift.FieldIsPrivate, func(c snapshot.ChannelRecord) interface{} { return c.IsPrivate }},
	{drift.FieldIsArchived, func(c snapshot.ChannelRecord) interface{} { return c.IsArchived }},
	{drift.FieldIsExtShared, func(c snapshot.ChannelRecord) interface{} { return c.IsExtShared }},
	{drift.FieldMembers, func(c snapshot.ChannelRecord) interface{} { return c.Members }},
	{drift.FieldCreatedAt, func(c snapshot.ChannelRecord) interface{} { return c.CreatedAt }},
}

// DiffEngine computes the structured difference between two snapshots.
// It holds no state between calls and is safe for concurrent use.
type DiffEngine struct {
	ignoredUser    map[string]bool
	ignoredChannel map[string]bool
}

// DiffOption customises a DiffEngine.
type DiffOption func(*DiffEngine)

// WithIgnoredUserFields excludes user attributes from modification detection.
func WithIgnoredUserFields(fields ...string) DiffOption {
	return func(e *DiffEngine) {
		for _, f := range fields {
			e.ignoredUser[f] = true
		}
	}
}

// WithIgnoredChannelFields excludes channel attributes from modification detection.
func WithIgnoredChannelFields(fields ...string) DiffOption {
	return func(e *DiffEngine) {
		for _, f := range fields {
			e.ignoredChannel[f] = true
		}
	}
}

// NewDiffEngine creates a diff engine that compares every attribute unless told otherwise.
func NewDiffEngine(opts ...DiffOption) *DiffEngine {
	e := &DiffEngine{
		ignoredUser:    make(map[string]bool),
		ignoredChannel: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diff compares previous against current. A nil previous yields a baseline
// result in which every current entity is reported as added.
func (e *DiffEngine) Diff(previous, current *snapshot.Snapshot) (*drift.Result, error) {
	if current == nil {
		return nil, errors.SnapshotMismatch("current snapshot is required", nil)
	}

	result := &drift.Result{
		CurrentCapturedAt: current.CapturedAt(),
		Users: drift.UserDiff{
			Added:    []snapshot.UserRecord{},
			Removed:  []snapshot.UserRecord{},
			Modified: []drift.UserChange{},
		},
		Channels: drift.ChannelDiff{
			Added:    []snapshot.ChannelRecord{},
			Removed:  []snapshot.ChannelRecord{},
			Modified: []drift.ChannelChange{},
		},
	}

	var prevStorage snapshot.Storage
	if previous == nil {
		result.Baseline = true
		result.Users.Added = current.Users()
		result.Channels.Added = current.Channels()
	} else {
		at := previous.CapturedAt()
		result.PreviousCapturedAt = &at
		prevStorage = previous.Storage()
		e.diffUsers(previous, current, result)
		e.diffChannels(previous, current, result)
	}

	cur := current.Storage()
	result.Storage = drift.StorageDelta{
		PreviousUsed: prevStorage.Used,
		CurrentUsed:  cur.Used,
		UsedDelta:    cur.Used - prevStorage.Used,
		Limit:        cur.Limit,
	}
	if cur.Limit > 0 {
		result.Storage.PercentDelta = float64(result.Storage.UsedDelta) / float64(cur.Limit) * 100
	}

	return result, nil
}

// diffUsers walks both id lists in ascending order so every output list is sorted.
func (e *DiffEngine) diffUsers(previous, current *snapshot.Snapshot, result *drift.Result) {
	for _, id := range previous.UserIDs() {
		old, _ := previous.User(id)
		cur, ok := current.User(id)
		if !ok {
			result.Users.Removed = append(result.Users.Removed, old)
			continue
		}
		if changes := e.compareUsers(old, cur); len(changes) > 0 {
			result.Users.Modified = append(result.Users.Modified, drift.UserChange{
				ID: id, Old: old, New: cur, Changes: changes,
			})
		}
	}
	for _, id := range current.UserIDs() {
		if _, ok := previous.User(id); !ok {
			cur, _ := current.User(id)
			result.Users.Added = append(result.Users.Added, cur)
		}
	}
}

func (e *DiffEngine) diffChannels(previous, current *snapshot.Snapshot, result *drift.Result) {
	for _, id := range previous.ChannelIDs() {
		old, _ := previous.Channel(id)
		cur, ok := current.Channel(id)
		if !ok {
			result.Channels.Removed = append(result.Channels.Removed, old)
			continue
		}
		if changes := e.compareChannels(old, cur); len(changes) > 0 {
			result.Channels.Modified = append(result.Channels.Modified, drift.ChannelChange{
				ID: id, Old: old, New: cur, Changes: changes,
			})
		}
	}
	for _, id := range current.ChannelIDs() {
		if _, ok := previous.Channel(id); !ok {
			cur, _ := current.Channel(id)
			result.Channels.Added = append(result.Channels.Added, cur)
		}
	}
}

func (e *DiffEngine) compareUsers(old, cur snapshot.UserRecord) []drift.FieldChange {
	var changes []drift.FieldChange
	for _, f := range userFields {
		if e.ignoredUser[f.name] {
			continue
		}
		if ov, nv := f.get(old), f.get(cur); !valuesEqual(ov, nv) {
			changes = append(changes, drift.FieldChange{Field: f.name, Old: ov, New: nv})
		}
	}
	return changes
}

func (e *DiffEngine) compareChannels(old, cur snapshot.ChannelRecord) []drift.FieldChange {
	var changes []drift.FieldChange
	for _, f := range channelFields {
		if e.ignoredChannel[f.name] {
			continue
		}
		if ov, nv := f.get(old), f.get(cur); !valuesEqual(ov, nv) {
			changes = append(changes, drift.FieldChange{Field: f.name, Old: ov, New: nv})
		}
	}
	return changes
}

// valuesEqual compares attribute values produced by the field tables.
func valuesEqual(v1, v2 interface{}) bool {
	switch a := v1.(type) {
	case time.Time:
		b, ok := v2.(time.Time)
		return ok && a.Equal(b)
	case []string:
		b, ok := v2.([]string)
		return ok && slices.Equal(a, b)
	default:
		return v1 == v2
	}
}

// UserFieldNames lists the attributes compared for users.
func UserFieldNames() []string {
	names := make([]string, len(userFields))
	for i, f := range userFields {
		names[i] = f.name
	}
	return names
}

// ChannelFieldNames lists the attributes compared for channels.
func ChannelFieldNames() []string {
	names := make([]string, len(channelFields))
	for i, f := range channelFields {
		names[i] = f.name
	}
	return names
}

// Fields whose transitions drive alert rules. Ignoring them would silently
// disable permission-change, new-admin-without-2fa, admin-churn,
// deactivation-spike and mass-archival.
var (
	ruleUserFields    = []string{drift.FieldIsAdmin, drift.FieldIsOwner, drift.FieldDeactivated}
	ruleChannelFields = []string{drift.FieldIsArchived}
)

// CheckIgnoredFields rejects ignore lists that name unknown attributes or
// attributes alert rules depend on.
func CheckIgnoredFields(userFields, channelFields []string) error {
	if err := checkIgnored("user", userFields, UserFieldNames(), ruleUserFields); err != nil {
		return err
	}
	return checkIgnored("channel", channelFields, ChannelFieldNames(), ruleChannelFields)
}

func checkIgnored(kind string, fields, known, required []string) error {
	for _, f := range fields {
		if !slices.Contains(known, f) {
			return errors.ConfigurationError(fmt.Sprintf("unknown %s field %q in ignore list", kind, f), known)
		}
		if slices.Contains(required, f) {
			return errors.ConfigurationError(fmt.Sprintf("%s field %q is used by alert rules and cannot be ignored", kind, f), required)
		}
	}
	return nil
}
