package gate

// Stage is a position in the admission state machine.
//
// A request moves forward through the stages in declaration order until it
// is forwarded and completed. Any failing gate moves it to StageRejected,
// which is terminal.
type Stage int

const (
	StageStart Stage = iota
	StageRateChecked
	StageStaticAuthChecked
	StageBodySizeChecked
	StageSignatureVerified
	StageGuardChecked
	StageForwarded
	StageComplete
	StageRejected
)

var stageNames = [...]string{
	StageStart:             "START",
	StageRateChecked:       "RATE_CHECKED",
	StageStaticAuthChecked: "STATIC_AUTH_CHECKED",
	StageBodySizeChecked:   "BODY_SIZE_CHECKED",
	StageSignatureVerified: "SIGNATURE_VERIFIED",
	StageGuardChecked:      "GUARD_CHECKED",
	StageForwarded:         "FORWARDED",
	StageComplete:          "COMPLETE",
	StageRejected:          "REJECTED",
}

// String returns the stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageRejected
}

// Next returns the stage that follows s on the success path.
// Terminal stages return themselves.
func (s Stage) Next() Stage {
	if s.Terminal() || s >= StageComplete {
		return s
	}
	return s + 1
}
