package validation

import "strings"

// Mode selects the scoring procedure applied to a submission.
type Mode string

const (
	ModeAutomated   Mode = "automated"
	ModeManual      Mode = "manual"
	ModePerformance Mode = "performance"
	ModeSafety      Mode = "safety"
)

// Modes lists every supported validation mode.
var Modes = []Mode{ModeAutomated, ModeManual, ModePerformance, ModeSafety}

// ParseMode normalises a raw mode value and reports whether it is supported.
func ParseMode(raw string) (Mode, bool) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	return mode, mode.Valid()
}

// Valid reports whether the mode is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeAutomated, ModeManual, ModePerformance, ModeSafety:
		return true
	default:
		return false
	}
}

// TotalTestCases returns the fixed number of test cases a mode accounts for.
func (m Mode) TotalTestCases() int {
	switch m {
	case ModeAutomated:
		return 10
	case ModePerformance:
		return 20
	case ModeSafety:
		return 15
	case ModeManual:
		return 5
	default:
		return 0
	}
}

// Verdict classifies a single validation run.
type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictPassed  Verdict = "passed"
	VerdictWarning Verdict = "warning"
	VerdictFailed  Verdict = "failed"
)

const (
	passThreshold    = 80.0
	warningThreshold = 60.0
)

// VerdictForScore maps a composite score onto a verdict.
func VerdictForScore(score float64) Verdict {
	switch {
	case score >= passThreshold:
		return VerdictPassed
	case score >= warningThreshold:
		return VerdictWarning
	default:
		return VerdictFailed
	}
}

// SubmissionStatus is the lifecycle state of a published configuration.
type SubmissionStatus string

const (
	StatusPending       SubmissionStatus = "pending"
	StatusValidating    SubmissionStatus = "validating"
	StatusApproved      SubmissionStatus = "approved"
	StatusNeedsRevision SubmissionStatus = "needs_revision"
	StatusRejected      SubmissionStatus = "rejected"
)

// DeriveSubmissionStatus computes the submission status after a run.
// Structural errors reject regardless of the score; only automated runs produce them.
func DeriveSubmissionStatus(verdict Verdict, errs []string) SubmissionStatus {
	switch {
	case verdict == VerdictFailed || len(errs) > 0:
		return StatusRejected
	case verdict == VerdictWarning:
		return StatusNeedsRevision
	default:
		return StatusApproved
	}
}
