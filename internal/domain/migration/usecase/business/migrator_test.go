package business

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
)

const testPhone = "79001234567"

func transient() error {
	return migerrors.NewClientError(migerrors.KindTransient, errNetwork)
}

func TestMigrate_Success(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "old-pass", "old-pass")

	outcome := h.migrate(testPhone, testSettings())

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, entities.StateFinalized, outcome.State)
	assert.Equal(t, entities.ReasonNone, outcome.Reason)
	assert.Equal(t, 1, outcome.Attempts)
	assert.True(t, outcome.SecretRotated)
	assert.NoError(t, outcome.RetireErr)
	assert.Equal(t, testPhone, outcome.Phone)

	newRec, err := h.store.LoadNew(context.Background(), testPhone)
	require.NoError(t, err)
	assert.NotEqual(t, "old-pass", newRec.Secret())
	assert.Equal(t, acc.password, newRec.Secret())
	assert.Equal(t, seededIdentities{}.Generate(testPhone), newRec.Identity)
	assert.Empty(t, newRec.PendingCodeHash)
	assert.Empty(t, newRec.PendingCode)

	assert.False(t, h.exists(filepath.Join(h.sessions, testPhone+".json")))
	assert.False(t, h.exists(filepath.Join(h.sessions, testPhone+".session")))
	assert.True(t, acc.loggedOut)

	assert.Equal(t, []time.Duration{20 * time.Second}, h.sleeps.recorded())
	assert.Equal(t, 2, h.tg.clientCount())
	assert.Zero(t, h.tg.openTotal, "all clients must be closed")
	assert.Equal(t, 1, h.tg.checks)
}

func TestMigrate_StateSequence(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "old-pass", "old-pass")

	outcome := h.migrate(testPhone, testSettings())
	require.True(t, outcome.Success)

	var states []entities.State
	for _, e := range h.events.ofType(entities.EventStateChanged) {
		states = append(states, e.State)
		assert.Equal(t, "run-test", e.RunID)
		assert.Equal(t, testPhone, e.Key)
		assert.NotEqual(t, testPhone, e.Phone, "phone must be masked in events")
	}
	assert.Equal(t, []entities.State{
		entities.StateOldConnected,
		entities.StateOldAuthorized,
		entities.StateSecretRotated,
		entities.StateNewSessionRequested,
		entities.StateCodeObtained,
		entities.StateNewSignedIn,
		entities.StateFinalized,
	}, states)

	finished := h.events.ofType(entities.EventAccountFinished)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Success)
}

func TestMigrate_WrongSecretLeavesRecordsUntouched(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "wrong", "real")

	outcome := h.migrate(testPhone, testSettings())

	assert.False(t, outcome.Success)
	assert.Equal(t, entities.StateFailed, outcome.State)
	assert.Equal(t, entities.ReasonInvalidSecret, outcome.Reason)
	assert.False(t, outcome.SecretRotated)
	assert.Equal(t, "real", acc.password)

	assert.False(t, h.exists(filepath.Join(h.newSessions, testPhone+".json")))
	assert.Equal(t, "wrong", h.oldRecordSecret(testPhone))
	assert.True(t, h.exists(filepath.Join(h.sessions, testPhone+".session")))
	assert.Zero(t, h.tg.sendCodes)
	assert.Zero(t, h.tg.openTotal)
}

func TestMigrate_SecretRequiredForRotation(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "", "real")

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonSecretRequired, outcome.Reason)
	assert.Equal(t, 1, h.tg.updates)
	assert.Zero(t, h.tg.sendCodes)
}

func TestMigrate_SecretUnexpectedlyRequired(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "", "real")

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonSecretUnexpectedlyNeeded, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrNoSecretOnRecord)
	assert.Equal(t, 1, h.tg.signIns)
	assert.Zero(t, h.tg.checks)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestMigrate_SecretRejectedAtSignIn(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "wrong", "real")

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonSecretRejected, outcome.Reason)
	assert.Equal(t, 1, h.tg.checks)
	assert.Equal(t, 1, h.tg.sendCodes)
}

func TestMigrate_RetryBound(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.sendCodeErrors = []error{transient(), transient(), transient(), transient()}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.False(t, outcome.Success)
	assert.Equal(t, entities.ReasonAttemptsExhausted, outcome.Reason)
	assert.Equal(t, 3, outcome.Attempts)
	assert.ErrorIs(t, outcome.Err, errNetwork)
	assert.Equal(t, 3, h.tg.sendCodes)
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, h.sleeps.recorded())
	assert.Len(t, h.events.ofType(entities.EventAttemptFailed), 3)
	assert.Equal(t, 2, h.tg.clientCount(), "the new client is created once")
	assert.Zero(t, h.tg.openTotal)
}

func TestMigrate_RetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.sendCodeErrors = []error{transient(), transient()}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, h.tg.sendCodes)
	assert.Equal(t, 1, h.tg.signIns)
}

func TestMigrate_RetryWaitsForFreshCode(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.distinctCodes = true
	acc.signInErrors = []error{transient()}
	acc.deliveryLag = []int{0, 1}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, []string{"11111", "22222"}, h.tg.signInCodes, "the second cycle must not reuse the first code")
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, h.sleeps.recorded())
	assert.Zero(t, h.input.calls)
}

func TestMigrate_IgnoresCodeOfPreviousRun(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.distinctCodes = true
	acc.lastID = 1
	acc.messages = []entities.ServiceMessage{{
		ID:   1,
		Text: "Login code: 99999. Do not give this code to anyone.",
		Date: time.Now().Add(-10 * time.Second),
	}}
	acc.deliveryLag = []int{1}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, []string{"11111"}, h.tg.signInCodes)
}

func TestMigrate_RateLimitShortCircuits(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.sendCodeErrors = []error{
		migerrors.NewRateLimitError(time.Hour, errors.New("FLOOD_WAIT_3600")),
	}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonRateLimited, outcome.Reason)
	assert.Equal(t, time.Hour, outcome.RateLimitWait)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, h.tg.sendCodes)
	assert.Empty(t, h.sleeps.recorded())
}

func TestMigrate_RateLimitDuringRotation(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "old-pass", "old-pass")
	acc.updatePwErr = migerrors.NewRateLimitError(90*time.Second, errors.New("FLOOD_WAIT_90"))

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonRateLimited, outcome.Reason)
	assert.Equal(t, 90*time.Second, outcome.RateLimitWait)
	assert.Zero(t, h.tg.sendCodes)
	assert.Equal(t, "old-pass", h.oldRecordSecret(testPhone))
}

func TestMigrate_DeliveryExhausted(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.sendCodeErrors = []error{
		migerrors.NewClientError(migerrors.KindDeliveryExhausted, errors.New("all available options for this type of number were already used")),
	}

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonDeliveryExhausted, outcome.Reason)
	assert.Equal(t, 1, h.tg.sendCodes)
}

func TestMigrate_InvalidCodeIsFatal(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.wrongCode = true

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonInvalidCode, outcome.Reason)
	assert.Equal(t, 1, h.tg.sendCodes)
	assert.Equal(t, []string{"11111"}, h.tg.signInCodes)
}

func TestMigrate_ManualFallback(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.deliverCodes = false
	h.input.code = " 54321\n"

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, 1, h.input.calls)
	assert.Equal(t, []string{"54321"}, h.tg.signInCodes)
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, h.sleeps.recorded(),
		"three polls are separated by two retry delays")
}

func TestMigrate_ManualFallbackEmpty(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.deliverCodes = false
	h.input.code = "   "

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonCodeNotReceived, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrCodeNotProvided)
	assert.Equal(t, 1, h.input.calls)
	assert.Zero(t, h.tg.signIns)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestMigrate_ManualFallbackInputError(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.deliverCodes = false
	h.input.err = errors.New("stdin closed")

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)

	assert.Equal(t, entities.ReasonCodeNotReceived, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrCodeNotProvided)
	assert.Zero(t, h.tg.signIns)
}

func TestMigrate_UnauthorizedOldSession(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "old-pass", "old-pass")
	acc.oldAuthorized = false

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonUnauthorized, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrOldSessionInvalid)
	assert.Zero(t, h.tg.updates)
	assert.Equal(t, 1, h.tg.clientCount())
	assert.Zero(t, h.tg.openTotal)
}

func TestMigrate_SessionMissing(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "old-pass", "old-pass")
	require.NoError(t, os.Remove(filepath.Join(h.sessions, testPhone+".session")))

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonSessionMissing, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrSessionFileMissing)
	assert.Zero(t, h.tg.clientCount())
}

func TestMigrate_MalformedRecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.sessions, "broken.json"), []byte("{"), 0o600))

	outcome := h.migrate("broken", testSettings())

	assert.Equal(t, entities.ReasonLoadFailed, outcome.Reason)
	assert.Equal(t, entities.StateFailed, outcome.State)
	assert.Zero(t, h.tg.clientCount())
}

func TestMigrate_HalfIdentityIsInvalidRecord(t *testing.T) {
	h := newHarness(t)
	record := `{"phone":"79001234567","app_id":611335}`
	require.NoError(t, os.WriteFile(filepath.Join(h.sessions, testPhone+".json"), []byte(record), 0o600))

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonInvalidRecord, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrIncompleteIdentity)
}

func TestMigrate_MissingPhoneIsInvalidRecord(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.sessions, testPhone+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"app_id":611335}`), 0o600))

	outcome := h.migrate(testPhone, testSettings())

	assert.Equal(t, entities.ReasonInvalidRecord, outcome.Reason)
	assert.ErrorIs(t, outcome.Err, migerrors.ErrMissingPhone)
	assert.Zero(t, h.tg.clientCount())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"app_id":611335}`, string(data))
}

func TestMigrate_RetireFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "old-pass", "old-pass")
	acc.logOutErr = errors.New("RPC_CALL_FAIL")

	outcome := h.migrate(testPhone, testSettings())

	require.True(t, outcome.Success)
	assert.Equal(t, entities.StateFinalized, outcome.State)
	require.Error(t, outcome.RetireErr)
	assert.Contains(t, outcome.RetireErr.Error(), "RPC_CALL_FAIL")
	assert.True(t, h.exists(filepath.Join(h.sessions, testPhone+".json")))
	assert.True(t, h.exists(filepath.Join(h.sessions, testPhone+".session")))
	assert.True(t, h.exists(filepath.Join(h.newSessions, testPhone+".json")))
}

func TestMigrate_KeepOldSession(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "old-pass", "old-pass")

	settings := testSettings()
	settings.LogoutOldSession = false
	outcome := h.migrate(testPhone, settings)

	require.True(t, outcome.Success)
	assert.False(t, acc.loggedOut)
	assert.True(t, h.exists(filepath.Join(h.sessions, testPhone+".session")))
	// the old record carries the rotated secret
	assert.Equal(t, acc.password, h.oldRecordSecret(testPhone))
}

func TestMigrate_ArchivesBeforeDelete(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "old-pass", "old-pass")

	archiver := &fakeArchiver{}
	h.migrator.archiver = archiver

	outcome := h.migrate(testPhone, testSettings())

	require.True(t, outcome.Success)
	require.NoError(t, outcome.RetireErr)
	assert.Equal(t, testPhone, archiver.phone)
	assert.Equal(t, []string{
		filepath.Join(h.sessions, testPhone+".session"),
		filepath.Join(h.sessions, testPhone+".json"),
	}, archiver.paths)
	assert.True(t, archiver.existed, "files must exist while being archived")
}

func TestMigrate_ResumeReusesIdentity(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "", "")

	previous := seededIdentities{}.Generate("previous-attempt")
	require.NoError(t, h.store.SaveNew(context.Background(), &entities.AccountRecord{
		Key:      testPhone,
		Phone:    testPhone,
		Identity: previous,
	}))

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrate(testPhone, settings)
	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)

	newRec, err := h.store.LoadNew(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, previous, newRec.Identity)
}

func TestMigrate_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.addAccount(testPhone, "", "")
	h.migrator.clients = panicFactory{}

	var outcome entities.Outcome
	assert.NotPanics(t, func() {
		outcome = h.migrate(testPhone, testSettings())
	})
	assert.Equal(t, entities.ReasonPanic, outcome.Reason)
	assert.False(t, outcome.FinishedAt.IsZero())
}

func TestMigrate_CancelledContext(t *testing.T) {
	h := newHarness(t)
	acc := h.addAccount(testPhone, "", "")
	acc.sendCodeErrors = []error{transient()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	settings := testSettings()
	settings.Change2FA = false
	outcome := h.migrator.Migrate(ctx, "run-test", testPhone, settings)

	assert.False(t, outcome.Success)
	assert.Equal(t, entities.ReasonUnknown, outcome.Reason)
	assert.Zero(t, h.tg.openTotal)
}

type fakeArchiver struct {
	phone   string
	paths   []string
	existed bool
}

func (a *fakeArchiver) Archive(_ context.Context, phone string, paths ...string) error {
	a.phone = phone
	a.paths = paths
	a.existed = true
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			a.existed = false
		}
	}
	return nil
}

type panicFactory struct{}

func (panicFactory) New(entities.ClientOptions) (deps.MessagingClient, error) {
	panic("factory exploded")
}

func TestClassifyAttemptError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want entities.Reason
	}{
		{"transient", transient(), entities.ReasonNone},
		{"plain", errors.New("boom"), entities.ReasonNone},
		{"flood", migerrors.NewRateLimitError(time.Minute, errors.New("FLOOD_WAIT_60")), entities.ReasonRateLimited},
		{"invalid code", migerrors.NewClientError(migerrors.KindInvalidCode, errors.New("PHONE_CODE_INVALID")), entities.ReasonInvalidCode},
		{"expired", migerrors.NewClientError(migerrors.KindCodeExpired, errors.New("PHONE_CODE_EXPIRED")), entities.ReasonCodeExpired},
		{"unauthorized", migerrors.NewClientError(migerrors.KindUnauthorized, errors.New("AUTH_KEY_UNREGISTERED")), entities.ReasonUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyAttemptError(ctx, tt.err))
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, entities.ReasonUnknown, classifyAttemptError(cancelled, transient()))
}

func TestNewMigrator_Defaults(t *testing.T) {
	m := NewMigrator(MigratorConfig{}, MigratorDeps{Logger: zerolog.Nop()})
	assert.Equal(t, 1, m.cfg.MaxAttempts)
	assert.NotNil(t, m.sleep)
	assert.NotNil(t, m.rotator)
	assert.NotNil(t, m.codes)
	assert.NotNil(t, m.reporter)
}
