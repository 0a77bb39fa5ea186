package errors

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/Conte777/tg-session-migrator/pkg/errors"
)

var (
	ErrMissingPhone        = pkgerrors.NewValidationError("phone number is missing from account record")
	ErrIncompleteIdentity  = pkgerrors.NewValidationError("client identity is incomplete: app_id and app_hash must both be set")
	ErrSessionFileMissing  = pkgerrors.NewNotFoundError("session file not found")
	ErrRecordNotFound      = pkgerrors.NewNotFoundError("account record not found")
	ErrCodeNotProvided     = pkgerrors.NewValidationError("login code was not provided")
	ErrBatchAlreadyRunning = pkgerrors.NewConflictError("batch is already running")
	ErrNoAccounts          = pkgerrors.NewNotFoundError("no account records found")
	ErrNotConnected        = pkgerrors.NewInternalError("not connected to Telegram")
	ErrSignInUnconfirmed   = pkgerrors.NewUnauthorizedError("new session is not authorized after sign-in")
	ErrNoSecretOnRecord    = pkgerrors.NewUnauthorizedError("2fa password required but none on record")
	ErrOldSessionInvalid   = pkgerrors.NewUnauthorizedError("old session is not authorized")
	ErrJournalDisabled     = pkgerrors.NewServiceUnavailableError("migration journal is not configured")
	ErrRunNotFound         = pkgerrors.NewNotFoundError("run not found")
	ErrEmptyRunID          = pkgerrors.NewValidationError("run id is required")
)

// Kind is the category of a failure reported by the messaging client.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindUnauthorized
	KindRateLimited
	KindInvalidCredential
	KindInvalidCode
	KindCodeExpired
	KindPasswordNeeded
	KindPasswordRequired
	KindDeliveryExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindInvalidCode:
		return "invalid_code"
	case KindCodeExpired:
		return "code_expired"
	case KindPasswordNeeded:
		return "password_needed"
	case KindPasswordRequired:
		return "password_required"
	case KindDeliveryExhausted:
		return "delivery_exhausted"
	default:
		return "unknown"
	}
}

// ClientError is returned by every messaging client operation. Kind drives the
// retry policy of the migration state machine; Wait is set for KindRateLimited.
type ClientError struct {
	Kind Kind
	Wait time.Duration
	Err  error
}

func (e *ClientError) Error() string {
	if e.Kind == KindRateLimited {
		return fmt.Sprintf("%s (wait %s): %v", e.Kind, e.Wait, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// NewClientError wraps err into a ClientError of the given kind.
func NewClientError(kind Kind, err error) *ClientError {
	return &ClientError{Kind: kind, Err: err}
}

// NewRateLimitError builds a KindRateLimited error carrying the required wait.
func NewRateLimitError(wait time.Duration, err error) *ClientError {
	return &ClientError{Kind: KindRateLimited, Wait: wait, Err: err}
}

// KindOf returns the kind of err, KindUnknown when err is not a ClientError.
func KindOf(err error) Kind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a ClientError of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// RateLimitWait returns the wait carried by a rate-limit error.
func RateLimitWait(err error) (time.Duration, bool) {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Kind == KindRateLimited {
		return ce.Wait, true
	}
	return 0, false
}
