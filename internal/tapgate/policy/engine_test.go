package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

func at(hour, min int) time.Time {
	// 2026-02-16 is a Monday.
	return time.Date(2026, 2, 16, hour, min, 0, 0, time.UTC)
}

func TestTimeWindow_CrossesMidnight(t *testing.T) {
	w := types.TimeWindow{Start: 22 * 60, End: 2 * 60}

	require.True(t, w.Contains(types.MinuteOfDay(at(23, 30))))
	require.True(t, w.Contains(types.MinuteOfDay(at(1, 0))))
	require.False(t, w.Contains(types.MinuteOfDay(at(12, 0))))
}

func TestTimeWindow_NonCrossing_InclusiveEnds(t *testing.T) {
	w := types.TimeWindow{Start: 8 * 60, End: 18 * 60}

	require.True(t, w.Contains(types.MinuteOfDay(at(8, 0))))
	require.True(t, w.Contains(types.MinuteOfDay(at(18, 0))))
	require.False(t, w.Contains(types.MinuteOfDay(at(18, 1))))
	require.False(t, w.Contains(types.MinuteOfDay(at(7, 59))))
}

func TestEvaluate_GrantSimpleWindow(t *testing.T) {
	rules := []types.AccessRule{{
		ControlPointID: 1,
		RoleIDs:        []int64{10},
		TimeWindow:     &types.TimeWindow{Start: 9 * 60, End: 17 * 60},
	}}

	d := Evaluate(rules, []int64{10}, 1, at(10, 0))
	require.True(t, d.Granted)
	require.Equal(t, types.ReasonScheduleMatch, d.Reason)
}

func TestEvaluate_FirstFullMatchWins(t *testing.T) {
	// One rule matches role but not time; the other matches both. The
	// engine grants as soon as any single rule fully matches.
	rules := []types.AccessRule{
		{
			ControlPointID: 1,
			RoleIDs:        []int64{10},
			TimeWindow:     &types.TimeWindow{Start: 0, End: 1 * 60},
		},
		{
			ControlPointID: 1,
			RoleIDs:        []int64{10},
			TimeWindow:     &types.TimeWindow{Start: 9 * 60, End: 17 * 60},
		},
	}

	d := Evaluate(rules, []int64{10}, 1, at(10, 0))
	require.True(t, d.Granted)
}

func TestEvaluate_PartialMatchesDeny(t *testing.T) {
	// Role matches on one rule, time on another; no single rule matches
	// both, so the request is denied.
	rules := []types.AccessRule{
		{
			ControlPointID: 1,
			RoleIDs:        []int64{10},
			TimeWindow:     &types.TimeWindow{Start: 0, End: 1 * 60},
		},
		{
			ControlPointID: 1,
			RoleIDs:        []int64{99},
			TimeWindow:     &types.TimeWindow{Start: 9 * 60, End: 17 * 60},
		},
	}

	d := Evaluate(rules, []int64{10}, 1, at(10, 0))
	require.False(t, d.Granted)
	require.Equal(t, types.ReasonOutsideSchedule, d.Reason)
}

func TestEvaluate_NilWindowsAlwaysMatch(t *testing.T) {
	rules := []types.AccessRule{{ControlPointID: 1, RoleIDs: []int64{10}}}

	d := Evaluate(rules, []int64{10}, 1, at(3, 0))
	require.True(t, d.Granted)
}

func TestEvaluate_DateWindow(t *testing.T) {
	rules := []types.AccessRule{{
		ControlPointID: 1,
		RoleIDs:        []int64{10},
		DateWindow: &types.DateWindow{
			Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}}

	require.True(t, Evaluate(rules, []int64{10}, 1, at(10, 0)).Granted)

	march := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.False(t, Evaluate(rules, []int64{10}, 1, march).Granted)
}

func TestEvaluate_OtherControlPointIgnored(t *testing.T) {
	rules := []types.AccessRule{{ControlPointID: 2, RoleIDs: []int64{10}}}

	d := Evaluate(rules, []int64{10}, 1, at(10, 0))
	require.False(t, d.Granted)
}

func TestEvaluateCached_NoRules(t *testing.T) {
	d := EvaluateCached(nil, at(10, 0))
	require.False(t, d.Granted)
	require.Equal(t, types.ReasonNoCachedRules, d.Reason)
}

func TestEvaluateCached_WrongDay(t *testing.T) {
	rules := []types.CachedRule{{
		AllowedDays: types.NewDaySet(1, 2, 3, 4, 5), // weekdays
		Start:       0,
		End:         23*60 + 59,
	}}

	saturday := time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC)
	d := EvaluateCached(rules, saturday)
	require.False(t, d.Granted)
	require.Contains(t, d.Reason, "offline")
}

func TestEvaluateCached_GrantOnMatchingDayAndWindow(t *testing.T) {
	rules := []types.CachedRule{{
		AllowedDays: types.NewDaySet(1), // Monday
		Start:       9 * 60,
		End:         17 * 60,
	}}

	d := EvaluateCached(rules, at(10, 0))
	require.True(t, d.Granted)
	require.Equal(t, types.ReasonScheduleMatchOffline, d.Reason)
}

func TestEvaluateCached_MidnightCrossingWindow(t *testing.T) {
	rules := []types.CachedRule{{
		AllowedDays: types.NewDaySet(0, 1, 2, 3, 4, 5, 6),
		Start:       22 * 60,
		End:         2 * 60,
	}}

	require.True(t, EvaluateCached(rules, at(23, 30)).Granted)
	require.True(t, EvaluateCached(rules, at(1, 0)).Granted)
	require.False(t, EvaluateCached(rules, at(12, 0)).Granted)
}

func TestEvaluateCached_ExhaustedRulesDeny(t *testing.T) {
	rules := []types.CachedRule{
		{AllowedDays: types.NewDaySet(1), Start: 0, End: 60},
		{AllowedDays: types.NewDaySet(6), Start: 9 * 60, End: 17 * 60},
	}

	d := EvaluateCached(rules, at(10, 0))
	require.False(t, d.Granted)
	require.Equal(t, types.ReasonOutsideScheduleOffline, d.Reason)
}
