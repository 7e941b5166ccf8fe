package pipeline

import "errors"

var (
	ErrMissingCollaborator = errors.New("pipeline collaborator cannot be nil")
	ErrInvalidCooldown     = errors.New("cooldown cannot be negative")
	ErrInvalidNudge        = errors.New("credit nudge must be positive")
)

// genericFailureMessage is the only failure text a client ever sees.
const genericFailureMessage = "placement failed, try again later"
