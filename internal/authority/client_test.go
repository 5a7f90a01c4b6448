package authority_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tapgate/tapgate/internal/authority"
	"github.com/tapgate/tapgate/internal/authority/authoritytest"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

func newClientPair(t *testing.T) (*authority.Client, *authoritytest.Server) {
	t.Helper()
	srv := authoritytest.New()
	t.Cleanup(srv.Close)
	return authority.NewClient(srv.URL(), 2*time.Second, zerolog.Nop()), srv
}

func TestClient_Validate(t *testing.T) {
	client, srv := newClientPair(t)
	ctx := context.Background()

	// Holder 7 may pass control point 1 at any time of day.
	srv.SetHolder(7, []int64{10}, []types.AccessRule{
		{ControlPointID: 1, RoleIDs: []int64{10}},
	}, nil)

	d, err := client.Validate(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, d.Granted)
	require.Equal(t, types.ReasonScheduleMatch, d.Reason)

	d, err = client.Validate(ctx, 7, 2)
	require.NoError(t, err)
	require.False(t, d.Granted)
}

func TestClient_FetchRules(t *testing.T) {
	client, srv := newClientPair(t)
	ctx := context.Background()

	srv.SetHolder(7, nil, nil, []types.CachedRule{
		{
			HolderID:       7,
			ControlPointID: 1,
			AllowedDays:    types.NewDaySet(1, 2, 3, 4, 5),
			Start:          8 * 60,
			End:            18 * 60,
		},
	})

	rules, err := client.FetchRules(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	require.Equal(t, int64(7), r.HolderID)
	require.Equal(t, int64(1), r.ControlPointID)
	require.Equal(t, []int{1, 2, 3, 4, 5}, r.AllowedDays.Days())
	require.Equal(t, 8*60, r.Start)
	require.Equal(t, 18*60, r.End)
	require.False(t, r.LastSyncedAt.IsZero())
}

func TestClient_PushEvent_DedupsOnUID(t *testing.T) {
	client, srv := newClientPair(t)
	ctx := context.Background()

	ev := types.AccessEvent{
		UID:            "uid-1",
		HolderID:       7,
		ControlPointID: 1,
		OccurredAt:     time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC),
		Granted:        true,
		Reason:         types.ReasonScheduleMatch,
	}

	id1, err := client.PushEvent(ctx, ev)
	require.NoError(t, err)

	id2, err := client.PushEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, srv.EventCount())
}

func TestClient_FetchEvents_RoundTrip(t *testing.T) {
	client, _ := newClientPair(t)
	ctx := context.Background()

	occurred := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	id, err := client.PushEvent(ctx, types.AccessEvent{
		UID:            "uid-1",
		HolderID:       7,
		ControlPointID: 1,
		OccurredAt:     occurred,
		Granted:        false,
		Reason:         types.ReasonOutsideSchedule,
	})
	require.NoError(t, err)

	evs, err := client.FetchEvents(ctx, 7)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	got := evs[0]
	require.Equal(t, "uid-1", got.UID)
	require.NotNil(t, got.BackendID)
	require.Equal(t, id, *got.BackendID)
	require.True(t, got.OccurredAt.Equal(occurred))
	require.False(t, got.Granted)
	require.True(t, got.Synced)

	// Other holders' history is not mixed in.
	evs, err = client.FetchEvents(ctx, 99)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestClient_OfflineAuthority(t *testing.T) {
	client, srv := newClientPair(t)
	ctx := context.Background()

	srv.SetOffline(true)

	require.Error(t, client.Ping(ctx))

	_, err := client.Validate(ctx, 7, 1)
	require.Error(t, err)

	_, err = client.FetchRules(ctx, 7)
	require.Error(t, err)

	_, err = client.PushEvent(ctx, types.AccessEvent{UID: "uid-1", HolderID: 7})
	require.Error(t, err)

	srv.SetOffline(false)
	require.NoError(t, client.Ping(ctx))
}
