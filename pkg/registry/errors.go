package registry

import (
	"errors"
	"fmt"

	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/resolver"
)

var (
	ErrClaimAlreadyExists = errors.New("claim already exists")
	ErrClaimNotFound      = errors.New("claim not found")
	ErrNotClaimOwner      = errors.New("not claim owner")
	ErrClaimTooLarge      = errors.New("claim too large")
	ErrEmptyClaim         = errors.New("empty claim")
	ErrInvalidDestination = resolver.ErrInvalidDestination
	ErrUnauthenticated    = origin.ErrUnauthenticated
)

// Error is a registry operation failure. It matches the corresponding
// sentinel error with [errors.Is].
type Error struct {
	name        string
	fingerprint []byte
	err         error
}

func (e Error) Name() string {
	return e.name
}

// Fingerprint is the claim the failed operation was for.
func (e Error) Fingerprint() []byte {
	return e.fingerprint
}

func (e Error) Error() string {
	if len(e.fingerprint) == 0 {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: 0x%x", e.err.Error(), e.fingerprint)
}

func (e Error) Unwrap() error {
	return e.err
}

func NewClaimAlreadyExistsError(fp []byte) Error {
	return Error{"ClaimAlreadyExists", fp, ErrClaimAlreadyExists}
}

func NewClaimNotFoundError(fp []byte) Error {
	return Error{"ClaimNotFound", fp, ErrClaimNotFound}
}

func NewNotClaimOwnerError(fp []byte) Error {
	return Error{"NotClaimOwner", fp, ErrNotClaimOwner}
}

func NewClaimTooLargeError(fp []byte, max int) Error {
	return Error{"ClaimTooLarge", nil, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrClaimTooLarge, len(fp), max)}
}

func NewEmptyClaimError() Error {
	return Error{"EmptyClaim", nil, ErrEmptyClaim}
}

// NewInvalidDestinationError wraps a resolution failure. The cause should
// match [resolver.ErrInvalidDestination].
func NewInvalidDestinationError(fp []byte, cause error) Error {
	if !errors.Is(cause, ErrInvalidDestination) {
		cause = fmt.Errorf("%w: %s", ErrInvalidDestination, cause)
	}
	return Error{"InvalidDestination", fp, cause}
}

// NewUnauthenticatedError wraps an authentication failure. The cause should
// match [origin.ErrUnauthenticated].
func NewUnauthenticatedError(cause error) Error {
	if !errors.Is(cause, ErrUnauthenticated) {
		cause = fmt.Errorf("%w: %s", ErrUnauthenticated, cause)
	}
	return Error{"Unauthenticated", nil, cause}
}

// ErrorName returns the name of a registry error, or an empty string when
// err is not one.
func ErrorName(err error) string {
	var re Error
	if errors.As(err, &re) {
		return re.Name()
	}
	return ""
}
