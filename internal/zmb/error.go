package zmb

import (
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Common Errors

// ArgumentError is returned by functions when a value of an argument is
// invalid.
type ArgumentError struct {
	// Name is the name of the argument.
	Name string

	// Message is an optional additional message.
	Message string
}

// Error implements the error interface for *ArgumentError.
func (err *ArgumentError) Error() (msg string) {
	if err.Message == "" {
		return fmt.Sprintf("argument %s is invalid", err.Name)
	}

	return fmt.Sprintf("argument %s is invalid: %s", err.Name, err.Message)
}

// NotFoundError is an error returned by lookup methods when an entity is not
// found.
type NotFoundError struct {
	// Kind is the entity kind, for example "test" or "batch".
	Kind string

	// ID is the identifier that was looked up.
	ID string
}

// Error implements the error interface for *NotFoundError.
func (err *NotFoundError) Error() (msg string) {
	return fmt.Sprintf("%s %q not found", err.Kind, err.ID)
}

// AuthError is returned when user credentials are missing or do not match.
// It is a user error: the client can fix the request.
type AuthError struct {
	// Username is the name the credentials were presented for.
	Username string
}

// Error implements the error interface for *AuthError.
func (err *AuthError) Error() (msg string) {
	return fmt.Sprintf("unauthorized user %q", err.Username)
}

// BatchOpenError is returned when a user tries to create a batch while a
// previous one still has unfinished tests.
type BatchOpenError struct {
	// CreatedAt is the creation time of the open batch.
	CreatedAt time.Time

	// BatchID is the identifier of the open batch.
	BatchID uint64
}

// Error implements the error interface for *BatchOpenError.
func (err *BatchOpenError) Error() (msg string) {
	return fmt.Sprintf("batch job %d is still running", err.BatchID)
}

// UserExistsError is returned when a user is added with a key different from
// the stored one.
type UserExistsError struct {
	// Username is the conflicting name.
	Username string
}

// Error implements the error interface for *UserExistsError.
func (err *UserExistsError) Error() (msg string) {
	return fmt.Sprintf("user %q already exists", err.Username)
}

// ErrNotStarted is returned when results are stored for a test that was never
// claimed.  It is an internal error: agents only learn of tests through
// claims.
const ErrNotStarted errors.Error = "test is not started"
