// internal/storage/errors.go
package storage

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidTimeZone    = errors.New("invalid time zone")
)

type PersistKind string

const (
	// KindInvalid means the payload was rejected before storage was touched.
	KindInvalid PersistKind = "invalid"
	// KindStorage means the transaction failed and was rolled back.
	KindStorage PersistKind = "storage"
)

// PersistError is returned by the meal transaction. For KindInvalid the
// wrapped error is a *schema.SchemaError.
type PersistError struct {
	Kind PersistKind
	Err  error
}

func (e *PersistError) Error() string {
	if e.Kind == KindInvalid {
		return fmt.Sprintf("meal rejected: %v", e.Err)
	}
	return fmt.Sprintf("failed to save meal: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
