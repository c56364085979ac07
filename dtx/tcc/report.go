package tcc

// Phase identifies which second-phase operation produced a report.
type Phase string

const (
	PhaseConfirm Phase = "confirm"
	PhaseCancel  Phase = "cancel"
)

// Outcome is the result of driving one branch through a phase.
type Outcome struct {
	BranchID string
	Err      error
}

// Report captures the per-branch results of one Commit or Rollback sweep.
//
// The default caller may ignore it; stricter callers can inspect Failed to
// react to partial failure, which the coordinator itself never retries.
type Report struct {
	TxID     string
	Phase    Phase
	Missing  bool
	Outcomes []Outcome
}

// OK reports whether the context existed and every branch succeeded.
func (r Report) OK() bool {
	if r.Missing {
		return false
	}

	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			return false
		}
	}

	return true
}

// Failed returns the outcomes of branches whose phase call returned an error.
func (r Report) Failed() []Outcome {
	var failed []Outcome

	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}

	return failed
}
