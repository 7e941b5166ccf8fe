package pipeline

import (
	"time"

	"pixelgrid/pkg/types"
)

// OutcomeKind classifies the result of one submission.
type OutcomeKind int

const (
	// OutcomeRejectedSilently covers malformed input and banned users.
	// Nothing is changed and nothing is sent to the submitter.
	OutcomeRejectedSilently OutcomeKind = iota
	// OutcomeAccepted means the placement was logged and applied. It is
	// broadcast unless a later placement on the same cell was applied first,
	// in which case subscribers only see the newer color.
	OutcomeAccepted
	// OutcomeCooldown means the submitter was told to wait, either for the
	// rate-limit window or for the no-credit nudge.
	OutcomeCooldown
	// OutcomeFailed means a collaborator failed and the submitter received a
	// generic error notice.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRejectedSilently:
		return "rejected"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of Pipeline.Submit.
type Outcome struct {
	Kind OutcomeKind

	// Placement is the logged record when Kind is OutcomeAccepted.
	Placement *types.Placement

	// MsRemaining is the advertised wait when Kind is OutcomeCooldown.
	MsRemaining int64

	// NoCredit marks a cooldown caused by an empty balance rather than the
	// rate-limit window. Clients never see this distinction.
	NoCredit bool

	// Err holds the collaborator error when Kind is OutcomeFailed.
	Err error
}

func accepted(p *types.Placement) Outcome {
	return Outcome{Kind: OutcomeAccepted, Placement: p}
}

func rejected() Outcome {
	return Outcome{Kind: OutcomeRejectedSilently}
}

func cooldown(wait time.Duration, noCredit bool) Outcome {
	return Outcome{Kind: OutcomeCooldown, MsRemaining: ceilMillis(wait), NoCredit: noCredit}
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// ceilMillis rounds up so a positive wait is never reported as 0 ms.
func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
