package rencontre

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound       = errors.New("no onboarding session for user")
	ErrSessionActive         = errors.New("onboarding session already active")
	ErrCooldownActive        = errors.New("speed dating cooldown active")
	ErrNotEnoughParticipants = errors.New("not enough participants")
	ErrProfileNotFound       = errors.New("profile not found")
	ErrUserBanned            = errors.New("user is banned")
)

// CollaboratorError reports a failed call to an external collaborator
// (discord, the store). Callers decide whether to log and continue.
type CollaboratorError struct {
	// Op is the attempted operation, ex: "create_conversation"
	Op string

	// Target identifies what the operation was applied to (a channel,
	// a thread, a user)
	Target string
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func collaboratorErr(op string, target string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Target: target, Err: err}
}

// CooldownError is returned when a speed dating run is requested
// before the cooldown window has elapsed. It matches ErrCooldownActive
// with errors.Is.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s (%s remaining)", ErrCooldownActive, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}
