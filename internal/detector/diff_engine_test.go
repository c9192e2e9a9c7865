package detector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func mustSnapshot(t *testing.T, at time.Time, users []snapshot.UserRecord, channels []snapshot.ChannelRecord, storage snapshot.Storage) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.New(at, users, channels, storage)
	require.NoError(t, err)
	return s
}

func pairOfSnapshots(t *testing.T) (*snapshot.Snapshot, *snapshot.Snapshot) {
	prev := mustSnapshot(t, t0,
		[]snapshot.UserRecord{
			{ID: "U1", Email: "ann@example.com"},
			{ID: "U2", Email: "bob@example.com"},
			{ID: "U3", Email: "cy@example.com", IsAdmin: true},
		},
		[]snapshot.ChannelRecord{
			{ID: "C1", Name: "general", Members: []string{"U1", "U2"}},
			{ID: "C2", Name: "random"},
		},
		snapshot.Storage{Used: 400, Limit: 1000},
	)
	cur := mustSnapshot(t, t1,
		[]snapshot.UserRecord{
			{ID: "U1", Email: "ann@example.com", IsAdmin: true},
			{ID: "U3", Email: "cy@example.com", IsAdmin: true},
			{ID: "U4", Email: "dee@example.com"},
		},
		[]snapshot.ChannelRecord{
			{ID: "C1", Name: "general", Members: []string{"U1", "U4"}},
			{ID: "C2", Name: "random", IsArchived: true},
			{ID: "C3", Name: "new"},
		},
		snapshot.Storage{Used: 600, Limit: 1000},
	)
	return prev, cur
}

func TestDiffEngine_Diff(t *testing.T) {
	prev, cur := pairOfSnapshots(t)

	result, err := NewDiffEngine().Diff(prev, cur)
	require.NoError(t, err)

	assert.False(t, result.Baseline)
	require.NotNil(t, result.PreviousCapturedAt)
	assert.True(t, result.PreviousCapturedAt.Equal(t0))

	require.Len(t, result.Users.Added, 1)
	assert.Equal(t, "U4", result.Users.Added[0].ID)
	require.Len(t, result.Users.Removed, 1)
	assert.Equal(t, "U2", result.Users.Removed[0].ID)
	require.Len(t, result.Users.Modified, 1)
	assert.Equal(t, "U1", result.Users.Modified[0].ID)
	assert.Equal(t, []drift.FieldChange{{Field: drift.FieldIsAdmin, Old: false, New: true}}, result.Users.Modified[0].Changes)

	require.Len(t, result.Channels.Added, 1)
	assert.Equal(t, "C3", result.Channels.Added[0].ID)
	require.Len(t, result.Channels.Modified, 2)
	assert.Equal(t, "C1", result.Channels.Modified[0].ID)
	assert.True(t, result.Channels.Modified[0].Changed(drift.FieldMembers))
	assert.Equal(t, "C2", result.Channels.Modified[1].ID)
	assert.True(t, result.Channels.Modified[1].Changed(drift.FieldIsArchived))

	assert.Equal(t, int64(200), result.Storage.UsedDelta)
	assert.InDelta(t, 20.0, result.Storage.PercentDelta, 0.0001)
}

func TestDiffEngine_Symmetry(t *testing.T) {
	prev, cur := pairOfSnapshots(t)
	engine := NewDiffEngine()

	forward, err := engine.Diff(prev, cur)
	require.NoError(t, err)
	backward, err := engine.Diff(cur, prev)
	require.NoError(t, err)

	assert.Equal(t, forward.Users.Added, backward.Users.Removed)
	assert.Equal(t, forward.Users.Removed, backward.Users.Added)
	assert.Equal(t, forward.Channels.Added, backward.Channels.Removed)
	assert.Equal(t, forward.Channels.Removed, backward.Channels.Added)

	require.Equal(t, len(forward.Users.Modified), len(backward.Users.Modified))
	for i, f := range forward.Users.Modified {
		b := backward.Users.Modified[i]
		assert.Equal(t, f.ID, b.ID)
		assert.Equal(t, f.Old, b.New)
		assert.Equal(t, f.New, b.Old)
	}
	assert.Equal(t, -forward.Storage.UsedDelta, backward.Storage.UsedDelta)
}

func TestDiffEngine_Identity(t *testing.T) {
	prev, _ := pairOfSnapshots(t)

	result, err := NewDiffEngine().Diff(prev, prev)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Equal(t, drift.Counts{}, result.Counts())
}

func TestDiffEngine_Baseline(t *testing.T) {
	_, cur := pairOfSnapshots(t)

	result, err := NewDiffEngine().Diff(nil, cur)
	require.NoError(t, err)
	assert.True(t, result.Baseline)
	assert.Nil(t, result.PreviousCapturedAt)
	assert.Len(t, result.Users.Added, 3)
	assert.Len(t, result.Channels.Added, 3)
	assert.Empty(t, result.Users.Removed)
	assert.Empty(t, result.Users.Modified)
	assert.Equal(t, int64(600), result.Storage.UsedDelta)
}

func TestDiffEngine_NilCurrent(t *testing.T) {
	prev, _ := pairOfSnapshots(t)

	_, err := NewDiffEngine().Diff(prev, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotMismatch))
}

func TestDiffEngine_IgnoredFields(t *testing.T) {
	prev := mustSnapshot(t, t0, []snapshot.UserRecord{{ID: "U1", LastActivity: t0.Add(-time.Hour)}}, nil, snapshot.Storage{})
	cur := mustSnapshot(t, t1, []snapshot.UserRecord{{ID: "U1", LastActivity: t1.Add(-time.Hour)}}, nil, snapshot.Storage{})

	full, err := NewDiffEngine().Diff(prev, cur)
	require.NoError(t, err)
	assert.Len(t, full.Users.Modified, 1)

	quiet, err := NewDiffEngine(WithIgnoredUserFields(drift.FieldLastActivity)).Diff(prev, cur)
	require.NoError(t, err)
	assert.Empty(t, quiet.Users.Modified)
}

func TestCheckIgnoredFields(t *testing.T) {
	tests := []struct {
		name    string
		user    []string
		channel []string
		wantErr bool
	}{
		{name: "none"},
		{name: "cosmetic", user: []string{drift.FieldLastActivity, drift.FieldEmail}, channel: []string{drift.FieldMembers}},
		{name: "typo", user: []string{"last_activty"}, wantErr: true},
		{name: "owner flag", user: []string{drift.FieldIsOwner}, wantErr: true},
		{name: "archival", channel: []string{drift.FieldIsArchived}, wantErr: true},
		{name: "user field on channels", channel: []string{drift.FieldEmail}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIgnoredFields(tt.user, tt.channel)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration), "err = %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDiffEngine_ResultIsJSON(t *testing.T) {
	prev, cur := pairOfSnapshots(t)
	result, err := NewDiffEngine().Diff(prev, cur)
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "users")
	assert.Contains(t, decoded, "storage")
}
