package leaderboard

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUserExists        = errors.New("user already registered")
	ErrInvalidUsername   = errors.New("username must not be empty")
	ErrInvalidProfileURL = errors.New("invalid GitHub profile URL")
)

// SnapshotFetchError reports that the GitHub data source could not produce a
// snapshot for a user. The user's stored score is left untouched.
type SnapshotFetchError struct {
	Username string
	Err      error
}

func (e *SnapshotFetchError) Error() string {
	return fmt.Sprintf("could not fetch snapshot for %s: %v", e.Username, e.Err)
}

func (e *SnapshotFetchError) Unwrap() error { return e.Err }

// StoreUnavailableError reports that the score store failed. Nothing was written.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	var sue *StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}
