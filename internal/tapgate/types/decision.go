package types

// Decision is the outcome of evaluating a passage request.
type Decision struct {
	Granted bool
	Reason  string
}

// Decision reasons. The offline variants carry the "(offline)" suffix so
// an operator reading the event log can tell which rule source produced
// the outcome.
const (
	ReasonScheduleMatch          = "within permitted schedule"
	ReasonScheduleMatchOffline   = "within permitted schedule (offline)"
	ReasonOutsideSchedule        = "outside permitted schedule"
	ReasonOutsideScheduleOffline = "outside permitted schedule (offline)"
	ReasonNoCachedRules          = "no cached rules (offline)"
)
