package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrValidation marks malformed input. The action is rejected and nothing is written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown user, course, lesson, badge or notification reference.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a storage failure or timeout. Nothing was partially applied and the
	// caller may retry; idempotency keys make the retry safe.
	ErrTransient = errors.New("temporary storage failure")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// storeErr classifies a gorm error. Already classified errors pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrTransient):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: timed out", op, ErrTransient)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
}

// ConsistencyError reports a derived progress row that disagreed with a replay of the event
// log. It is logged and repaired, never returned to end users.
type ConsistencyError struct {
	UserID          uint
	StoredXP        int
	RecomputedXP    int
	StoredLevel     int
	RecomputedLevel int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("user %d progress drift: stored xp=%d level=%d, event log xp=%d level=%d",
		e.UserID, e.StoredXP, e.StoredLevel, e.RecomputedXP, e.RecomputedLevel)
}
