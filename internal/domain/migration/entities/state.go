package entities

// State is a step of the per-account migration
type State string

const (
	StateIdle                State = "idle"
	StateOldConnected        State = "old_connected"
	StateOldAuthorized       State = "old_authorized"
	StateSecretRotated       State = "secret_rotated"
	StateNewSessionRequested State = "new_session_requested"
	StateCodeObtained        State = "code_obtained"
	StateNewSignedIn         State = "new_signed_in"
	StateFinalized           State = "finalized"
	StateFailed              State = "failed"
)

// Reason explains why a migration ended in StateFailed
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonLoadFailed               Reason = "load_failed"
	ReasonInvalidRecord            Reason = "invalid_record"
	ReasonSessionMissing           Reason = "session_missing"
	ReasonConnectFailed            Reason = "connect_failed"
	ReasonUnauthorized             Reason = "unauthorized"
	ReasonInvalidSecret            Reason = "invalid_secret"
	ReasonSecretRequired           Reason = "secret_required"
	ReasonRotationFailed           Reason = "rotation_failed"
	ReasonRateLimited              Reason = "rate_limited"
	ReasonDeliveryExhausted        Reason = "delivery_exhausted"
	ReasonCodeNotReceived          Reason = "code_not_received"
	ReasonInvalidCode              Reason = "invalid_code"
	ReasonCodeExpired              Reason = "code_expired"
	ReasonSecretRejected           Reason = "secret_rejected"
	ReasonSecretUnexpectedlyNeeded Reason = "secret_unexpectedly_required"
	ReasonAttemptsExhausted        Reason = "attempts_exhausted"
	ReasonSignInUnconfirmed        Reason = "sign_in_unconfirmed"
	ReasonPersistFailed            Reason = "persist_failed"
	ReasonUnknown                  Reason = "unknown"
	ReasonPanic                    Reason = "panic"
)
