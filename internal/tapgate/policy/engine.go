// Package policy evaluates access rules against a point in time. All
// functions are pure; recording the outcome is the caller's job.
package policy

import (
	"time"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// Evaluate applies the authoritative rule set for one control point.
// The first rule that matches the control point, intersects the
// holder's roles, and contains now in both its date and time windows
// grants. A rule with a nil window is unconstrained on that axis.
func Evaluate(rules []types.AccessRule, holderRoles []int64, controlPointID int64, now time.Time) types.Decision {
	for _, r := range rules {
		if r.ControlPointID != controlPointID {
			continue
		}
		if !rolesIntersect(r.RoleIDs, holderRoles) {
			continue
		}
		if r.DateWindow != nil && !r.DateWindow.Contains(now) {
			continue
		}
		if r.TimeWindow != nil && !r.TimeWindow.Contains(types.MinuteOfDay(now)) {
			continue
		}
		return types.Decision{Granted: true, Reason: types.ReasonScheduleMatch}
	}
	return types.Decision{Granted: false, Reason: types.ReasonOutsideSchedule}
}

// EvaluateCached applies the offline projection. The day-of-week check
// runs before the time-window check; the first rule passing both
// grants. An empty rule slice is the distinct "nothing cached" deny.
func EvaluateCached(rules []types.CachedRule, now time.Time) types.Decision {
	if len(rules) == 0 {
		return types.Decision{Granted: false, Reason: types.ReasonNoCachedRules}
	}
	for _, r := range rules {
		if !r.AllowedDays.Contains(now.Weekday()) {
			continue
		}
		if !r.Window().Contains(types.MinuteOfDay(now)) {
			continue
		}
		return types.Decision{Granted: true, Reason: types.ReasonScheduleMatchOffline}
	}
	return types.Decision{Granted: false, Reason: types.ReasonOutsideScheduleOffline}
}

func rolesIntersect(a, b []int64) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
