package business

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

// closeTimeout bounds how long closing a client may take after the
// migration context has already been cancelled
const closeTimeout = 10 * time.Second

// MigratorConfig holds static migration policy
type MigratorConfig struct {
	// MaxAttempts caps the code request and sign-in cycles per account
	MaxAttempts int
}

// MigratorDeps are the collaborators of a Migrator
type MigratorDeps struct {
	Store      deps.RecordStore
	Clients    deps.ClientFactory
	Proxies    deps.ProxyPool
	Identities deps.IdentityGenerator
	Rotator    *CredentialRotator
	Codes      *CodeRetriever
	// Archiver is optional
	Archiver deps.SessionArchiver
	Reporter deps.Reporter
	Sleep    SleepFunc
	Logger   zerolog.Logger
}

// Migrator moves one account from its old session to a freshly
// fingerprinted one.
type Migrator struct {
	cfg        MigratorConfig
	store      deps.RecordStore
	clients    deps.ClientFactory
	proxies    deps.ProxyPool
	identities deps.IdentityGenerator
	rotator    *CredentialRotator
	codes      *CodeRetriever
	archiver   deps.SessionArchiver
	reporter   deps.Reporter
	sleep      SleepFunc
	now        func() time.Time
	logger     zerolog.Logger
}

// NewMigrator creates a migrator
func NewMigrator(cfg MigratorConfig, d MigratorDeps) *Migrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if d.Sleep == nil {
		d.Sleep = SleepContext
	}
	if d.Reporter == nil {
		d.Reporter = Reporters{}
	}
	if d.Rotator == nil {
		d.Rotator = NewCredentialRotator(nil, d.Logger)
	}
	if d.Codes == nil {
		d.Codes = NewCodeRetriever(CodeRetrieverConfig{PollAttempts: 3, PollWait: time.Minute}, nil, d.Sleep, d.Logger)
	}

	return &Migrator{
		cfg:        cfg,
		store:      d.Store,
		clients:    d.Clients,
		proxies:    d.Proxies,
		identities: d.Identities,
		rotator:    d.Rotator,
		codes:      d.Codes,
		archiver:   d.Archiver,
		reporter:   d.Reporter,
		sleep:      d.Sleep,
		now:        time.Now,
		logger:     d.Logger.With().Str("component", "migrator").Logger(),
	}
}

// migration is the state of one account while Migrate runs
type migration struct {
	m        *Migrator
	runID    string
	settings entities.BatchSettings
	logger   zerolog.Logger
	outcome  entities.Outcome

	rec    *entities.AccountRecord
	newRec *entities.AccountRecord
	secret string

	oldClient deps.MessagingClient
	newClient deps.MessagingClient
	newOpen   bool

	// codeMark is the newest login code notification seen so far; retried
	// cycles only accept codes above it
	codeMark entities.MessageMark
	marked   bool
}

// Migrate runs the whole state machine for the record stored under key. It
// never returns an error: every failure, including a panic, ends up in the
// outcome. Both clients are closed before Migrate returns.
func (m *Migrator) Migrate(ctx context.Context, runID, key string, settings entities.BatchSettings) (outcome entities.Outcome) {
	mg := &migration{
		m:        m,
		runID:    runID,
		settings: settings.Normalize(),
		logger:   m.logger.With().Str("run_id", runID).Str("key", key).Logger(),
		outcome: entities.Outcome{
			Key:       key,
			State:     entities.StateIdle,
			StartedAt: m.now(),
		},
	}

	defer func() {
		if r := recover(); r != nil {
			mg.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Migration panic recovered")
			mg.fail(entities.ReasonPanic, fmt.Errorf("panic: %v", r))
		}
		mg.closeClients()

		mg.outcome.FinishedAt = m.now()
		finished := entities.Event{
			Type:          entities.EventAccountFinished,
			State:         mg.outcome.State,
			Reason:        mg.outcome.Reason,
			Error:         mg.outcome.ErrorString(),
			Wait:          mg.outcome.RateLimitWait,
			Attempt:       mg.outcome.Attempts,
			Success:       mg.outcome.Success,
			Duration:      mg.outcome.Duration(),
			SecretRotated: mg.outcome.SecretRotated,
		}
		if mg.outcome.RetireErr != nil {
			finished.RetireErr = mg.outcome.RetireErr.Error()
		}
		mg.report(ctx, finished)
		outcome = mg.outcome
	}()

	mg.run(ctx)
	return mg.outcome
}

func (mg *migration) run(ctx context.Context) {
	if !mg.prepare(ctx) {
		return
	}
	if !mg.openOld(ctx) {
		return
	}
	if !mg.rotateSecret(ctx) {
		return
	}
	if !mg.prepareNew(ctx) {
		return
	}
	if !mg.signInNew(ctx) {
		return
	}
	mg.finalize(ctx)
}

// prepare loads and validates the record before any network action
func (mg *migration) prepare(ctx context.Context) bool {
	rec, err := mg.m.store.Load(ctx, mg.outcome.Key)
	if err != nil {
		if errors.Is(err, migerrors.ErrIncompleteIdentity) || errors.Is(err, migerrors.ErrMissingPhone) {
			return mg.fail(entities.ReasonInvalidRecord, err)
		}
		return mg.fail(entities.ReasonLoadFailed, err)
	}

	mg.rec = rec
	mg.outcome.Phone = rec.Phone
	mg.logger = mg.logger.With().Str("phone", utils.MaskPhoneNumber(rec.Phone)).Logger()

	if err := rec.Validate(); err != nil {
		return mg.fail(entities.ReasonInvalidRecord, err)
	}
	if !mg.m.store.SessionExists(rec) {
		return mg.fail(entities.ReasonSessionMissing,
			fmt.Errorf("%w: %s", migerrors.ErrSessionFileMissing, mg.m.store.SessionPath(rec)))
	}

	mg.secret = rec.Secret()
	return true
}

// openOld connects the old session and checks it is still authorized
func (mg *migration) openOld(ctx context.Context) bool {
	proxy := mg.m.proxies.Random()
	mg.logProxy("old", proxy)

	client, err := mg.m.clients.New(entities.ClientOptions{
		Phone:       mg.rec.Phone,
		SessionPath: mg.m.store.SessionPath(mg.rec),
		Identity:    mg.rec.Identity,
		Proxy:       proxy,
	})
	if err != nil {
		return mg.fail(entities.ReasonConnectFailed, err)
	}
	mg.oldClient = client

	if err := client.Connect(ctx); err != nil {
		if migerrors.IsKind(err, migerrors.KindUnauthorized) {
			return mg.fail(entities.ReasonUnauthorized, err)
		}
		return mg.fail(entities.ReasonConnectFailed, err)
	}
	mg.setState(ctx, entities.StateOldConnected)

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		if migerrors.IsKind(err, migerrors.KindUnauthorized) {
			return mg.fail(entities.ReasonUnauthorized, err)
		}
		return mg.fail(entities.ReasonConnectFailed, err)
	}
	if !authorized {
		return mg.fail(entities.ReasonUnauthorized, migerrors.ErrOldSessionInvalid)
	}
	mg.setState(ctx, entities.StateOldAuthorized)

	return true
}

// rotateSecret replaces the 2FA password when enabled and persists it
// before anything else touches the network
func (mg *migration) rotateSecret(ctx context.Context) bool {
	if !mg.settings.Change2FA {
		mg.setState(ctx, entities.StateSecretRotated)
		return true
	}

	newSecret, err := mg.m.rotator.Rotate(ctx, mg.oldClient, mg.secret)
	if err != nil {
		switch migerrors.KindOf(err) {
		case migerrors.KindInvalidCredential:
			return mg.fail(entities.ReasonInvalidSecret, err)
		case migerrors.KindPasswordRequired, migerrors.KindPasswordNeeded:
			return mg.fail(entities.ReasonSecretRequired, err)
		case migerrors.KindRateLimited:
			return mg.failRateLimited(err)
		case migerrors.KindUnauthorized:
			return mg.fail(entities.ReasonUnauthorized, err)
		default:
			return mg.fail(entities.ReasonRotationFailed, err)
		}
	}

	mg.outcome.SecretRotated = true
	updated := mg.rec.Clone()
	updated.SetSecret(newSecret)
	if err := mg.m.store.Save(ctx, updated); err != nil {
		mg.outcome.UnsavedSecret = newSecret
		mg.logger.Error().
			Err(err).
			Str("secret", utils.MaskSecret(newSecret)).
			Msg("2FA password changed remotely but could not be saved")
		return mg.fail(entities.ReasonPersistFailed, err)
	}
	mg.rec = updated
	mg.secret = newSecret
	mg.setState(ctx, entities.StateSecretRotated)

	mg.logger.Info().
		Dur("delay", mg.settings.RetryDelay).
		Msg("Waiting for the new 2FA password to propagate")
	if err := mg.m.sleep(ctx, mg.settings.RetryDelay); err != nil {
		return mg.fail(entities.ReasonUnknown, err)
	}

	return true
}

// prepareNew derives the target record, persists it and creates the new client
func (mg *migration) prepareNew(ctx context.Context) bool {
	identity := entities.ClientIdentity{}
	existing, err := mg.m.store.LoadNew(ctx, mg.outcome.Key)
	switch {
	case err == nil && existing.Identity.Complete():
		identity = existing.Identity
		mg.logger.Info().Msg("Resuming with the identity of a previous attempt")
	case err != nil && !errors.Is(err, migerrors.ErrRecordNotFound):
		mg.logger.Warn().Err(err).Msg("Ignoring unreadable new session record")
	}
	if !identity.Complete() {
		identity = mg.m.identities.Generate(mg.rec.SessionName())
	}

	mg.newRec = mg.rec.ForNewSession(identity)
	if err := mg.m.store.SaveNew(ctx, mg.newRec); err != nil {
		return mg.fail(entities.ReasonPersistFailed, err)
	}

	proxy := mg.m.proxies.Random()
	mg.logProxy("new", proxy)

	client, err := mg.m.clients.New(entities.ClientOptions{
		Phone:       mg.newRec.Phone,
		SessionPath: mg.m.store.NewSessionPath(mg.newRec),
		Identity:    mg.newRec.Identity,
		Proxy:       proxy,
	})
	if err != nil {
		return mg.fail(entities.ReasonConnectFailed, err)
	}
	mg.newClient = client

	return true
}

// signInNew runs the bounded code request and sign-in cycle
func (mg *migration) signInNew(ctx context.Context) bool {
	maxAttempts := mg.m.cfg.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		mg.outcome.Attempts = attempt

		if !mg.newOpen {
			if err := mg.newClient.Connect(ctx); err != nil {
				return mg.fail(entities.ReasonConnectFailed, err)
			}
			mg.newOpen = true

			authorized, err := mg.newClient.IsAuthorized(ctx)
			if err == nil && authorized {
				mg.logger.Info().Msg("New session is already authorized")
				mg.setState(ctx, entities.StateNewSignedIn)
				return true
			}
		}

		reason, err := mg.attemptSignIn(ctx)
		if err == nil {
			mg.setState(ctx, entities.StateNewSignedIn)
			return true
		}
		if reason != entities.ReasonNone {
			if reason == entities.ReasonRateLimited {
				return mg.failRateLimited(err)
			}
			return mg.fail(reason, err)
		}

		lastErr = err
		mg.report(ctx, entities.Event{
			Type:    entities.EventAttemptFailed,
			State:   mg.outcome.State,
			Attempt: attempt,
			Error:   err.Error(),
		})

		if attempt < maxAttempts {
			if err := mg.m.sleep(ctx, mg.settings.RetryDelay); err != nil {
				return mg.fail(entities.ReasonUnknown, err)
			}
		}
	}

	return mg.fail(entities.ReasonAttemptsExhausted,
		fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr))
}

// attemptSignIn performs one request-code/obtain/sign-in cycle. A non-empty
// reason marks the error as fatal; an empty reason means it may be retried.
func (mg *migration) attemptSignIn(ctx context.Context) (entities.Reason, error) {
	if !mg.marked {
		mg.codeMark = mg.m.codes.Mark(ctx, mg.oldClient)
		mg.marked = true
	}

	hash, requestedAt, err := mg.m.codes.RequestCode(ctx, mg.newClient, mg.newRec.Phone)
	if err != nil {
		return classifyAttemptError(ctx, err), err
	}
	mg.newRec.PendingCodeHash = hash
	mg.setState(ctx, entities.StateNewSessionRequested)

	code, manual, err := mg.m.codes.Obtain(ctx, mg.oldClient, mg.newRec.Phone, requestedAt, &mg.codeMark, mg.settings.RetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return entities.ReasonUnknown, err
		}
		return entities.ReasonCodeNotReceived, err
	}
	mg.newRec.PendingCode = code
	mg.setState(ctx, entities.StateCodeObtained)
	mg.logger.Debug().Bool("manual", manual).Msg("Login code obtained")

	err = mg.newClient.SignIn(ctx, mg.newRec.Phone, code, hash)
	if migerrors.IsKind(err, migerrors.KindPasswordNeeded) {
		if mg.secret == "" {
			return entities.ReasonSecretUnexpectedlyNeeded, fmt.Errorf("%w: %v", migerrors.ErrNoSecretOnRecord, err)
		}
		err = mg.newClient.CheckPassword(ctx, mg.secret)
		switch migerrors.KindOf(err) {
		case migerrors.KindInvalidCredential, migerrors.KindPasswordNeeded:
			return entities.ReasonSecretRejected, err
		}
	}
	if err != nil {
		return classifyAttemptError(ctx, err), err
	}

	authorized, err := mg.newClient.IsAuthorized(ctx)
	if err != nil {
		return classifyAttemptError(ctx, err), err
	}
	if !authorized {
		return entities.ReasonSignInUnconfirmed, migerrors.ErrSignInUnconfirmed
	}

	return entities.ReasonNone, nil
}

// classifyAttemptError maps a client error of the sign-in cycle to a fatal
// reason, or ReasonNone when the cycle may be retried
func classifyAttemptError(ctx context.Context, err error) entities.Reason {
	if ctx.Err() != nil {
		return entities.ReasonUnknown
	}
	switch migerrors.KindOf(err) {
	case migerrors.KindRateLimited:
		return entities.ReasonRateLimited
	case migerrors.KindDeliveryExhausted:
		return entities.ReasonDeliveryExhausted
	case migerrors.KindInvalidCode:
		return entities.ReasonInvalidCode
	case migerrors.KindCodeExpired:
		return entities.ReasonCodeExpired
	case migerrors.KindInvalidCredential:
		return entities.ReasonSecretRejected
	case migerrors.KindUnauthorized:
		return entities.ReasonUnauthorized
	default:
		return entities.ReasonNone
	}
}

// finalize persists the target record and retires the old session
func (mg *migration) finalize(ctx context.Context) {
	mg.newRec.ClearPending()
	if err := mg.m.store.SaveNew(ctx, mg.newRec); err != nil {
		mg.fail(entities.ReasonPersistFailed, err)
		return
	}

	mg.outcome.Success = true
	mg.outcome.Reason = entities.ReasonNone

	if mg.settings.LogoutOldSession {
		if err := mg.retireOld(ctx); err != nil {
			mg.outcome.RetireErr = err
			mg.logger.Warn().Err(err).Msg("Old session retirement failed")
		}
	}

	mg.setState(ctx, entities.StateFinalized)
}

// retireOld signs the old session out, archives and deletes its files.
// Files are kept when sign-out or archiving fails.
func (mg *migration) retireOld(ctx context.Context) error {
	if err := mg.oldClient.LogOut(ctx); err != nil {
		return fmt.Errorf("log out old session: %w", err)
	}
	mg.logger.Info().Msg("Old session logged out")

	if mg.m.archiver != nil {
		if err := mg.m.archiver.Archive(ctx, mg.rec.Phone,
			mg.m.store.SessionPath(mg.rec),
			mg.m.store.RecordPath(mg.outcome.Key),
		); err != nil {
			return fmt.Errorf("archive old session: %w", err)
		}
	}

	if err := mg.m.store.Delete(ctx, mg.rec); err != nil {
		return fmt.Errorf("delete old session files: %w", err)
	}
	mg.logger.Info().Msg("Old session files deleted")

	return nil
}

func (mg *migration) closeClients() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	for name, client := range map[string]deps.MessagingClient{"old": mg.oldClient, "new": mg.newClient} {
		if client == nil {
			continue
		}
		if err := client.Close(ctx); err != nil {
			mg.logger.Warn().Err(err).Str("session", name).Msg("Failed to close client")
		}
	}
}

func (mg *migration) setState(ctx context.Context, state entities.State) {
	mg.outcome.State = state
	mg.report(ctx, entities.Event{Type: entities.EventStateChanged, State: state})
}

func (mg *migration) fail(reason entities.Reason, err error) bool {
	mg.outcome.Success = false
	mg.outcome.Reason = reason
	mg.outcome.Err = err
	mg.outcome.State = entities.StateFailed
	return false
}

func (mg *migration) failRateLimited(err error) bool {
	if wait, ok := migerrors.RateLimitWait(err); ok {
		mg.outcome.RateLimitWait = wait
	}
	return mg.fail(entities.ReasonRateLimited, err)
}

func (mg *migration) report(ctx context.Context, e entities.Event) {
	e.RunID = mg.runID
	e.Key = mg.outcome.Key
	e.Phone = utils.MaskPhoneNumber(mg.outcome.Phone)
	e.Time = mg.m.now()
	mg.m.reporter.Report(ctx, e)
}

func (mg *migration) logProxy(session string, proxy *entities.ProxyEndpoint) {
	if proxy == nil {
		mg.logger.Info().Str("session", session).Msg("No proxy, connecting directly")
		return
	}
	mg.logger.Info().Str("session", session).Str("proxy", proxy.String()).Msg("Using proxy")
}
