package business

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/repository/file"
)

var errNetwork = errors.New("connection reset by peer")

// remoteAccount is the server-side state of one phone in fakeTelegram
type remoteAccount struct {
	password       string
	oldAuthorized  bool
	deliverCodes   bool
	wrongCode      bool
	code           string
	codeHash       string
	messages       []entities.ServiceMessage
	loggedOut      bool
	sendCodeErrors []error
	signInErrors   []error
	logOutErr      error
	updatePwErr    error

	// distinctCodes makes every code request deliver a new code
	distinctCodes bool
	// deliveryLag[i] is the number of polls before the notification of the
	// i-th code request becomes visible
	deliveryLag []int
	pending     []pendingMessage
	sent        int
	lastID      int
}

// fakeTelegram simulates the remote service for every client it creates
type fakeTelegram struct {
	mu           sync.Mutex
	sessionsDir  string
	accounts     map[string]*remoteAccount
	clients      []*fakeClient
	connectDelay time.Duration

	sendCodes    int
	signIns      int
	signInCodes  []string
	checks       int
	updates      int
	openByPhone  map[string]int
	activePhones int
	maxActive    int
	openTotal    int
}

type pendingMessage struct {
	msg   entities.ServiceMessage
	polls int
}

func newFakeTelegram(sessionsDir string) *fakeTelegram {
	return &fakeTelegram{
		sessionsDir: sessionsDir,
		accounts:    make(map[string]*remoteAccount),
		openByPhone: make(map[string]int),
	}
}

func (f *fakeTelegram) account(phone string) *remoteAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[phone]
	if !ok {
		acc = &remoteAccount{oldAuthorized: true, deliverCodes: true}
		f.accounts[phone] = acc
	}
	return acc
}

// New implements deps.ClientFactory
func (f *fakeTelegram) New(opts entities.ClientOptions) (deps.MessagingClient, error) {
	c := &fakeClient{
		tg:   f,
		opts: opts,
		old:  filepath.Dir(opts.SessionPath) == f.sessionsDir,
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeTelegram) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

type fakeClient struct {
	tg       *fakeTelegram
	opts     entities.ClientOptions
	old      bool
	open     bool
	signedIn bool
	awaitPw  bool
}

func (c *fakeClient) remote() *remoteAccount {
	return c.tg.account(c.opts.Phone)
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.tg.connectDelay > 0 {
		time.Sleep(c.tg.connectDelay)
	}

	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	c.open = true
	c.tg.openTotal++
	if c.tg.openByPhone[c.opts.Phone] == 0 {
		c.tg.activePhones++
		if c.tg.activePhones > c.tg.maxActive {
			c.tg.maxActive = c.tg.activePhones
		}
	}
	c.tg.openByPhone[c.opts.Phone]++
	return nil
}

func (c *fakeClient) Close(ctx context.Context) error {
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.tg.openTotal--
	c.tg.openByPhone[c.opts.Phone]--
	if c.tg.openByPhone[c.opts.Phone] == 0 {
		c.tg.activePhones--
	}
	return nil
}

func (c *fakeClient) IsAuthorized(ctx context.Context) (bool, error) {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	if c.old {
		return acc.oldAuthorized && !acc.loggedOut, nil
	}
	return c.signedIn, nil
}

func (c *fakeClient) WaitServiceMessages(ctx context.Context, since time.Time, afterID int, wait time.Duration) ([]entities.ServiceMessage, error) {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()

	var waiting []pendingMessage
	for _, p := range acc.pending {
		if p.polls == 0 {
			acc.messages = append(acc.messages, p.msg)
			continue
		}
		p.polls--
		waiting = append(waiting, p)
	}
	acc.pending = waiting

	var out []entities.ServiceMessage
	for _, m := range acc.messages {
		if m.ID > afterID && !m.Date.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *fakeClient) SendCode(ctx context.Context, phone string) (string, error) {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	c.tg.sendCodes++

	if len(acc.sendCodeErrors) > 0 {
		err := acc.sendCodeErrors[0]
		acc.sendCodeErrors = acc.sendCodeErrors[1:]
		if err != nil {
			return "", err
		}
	}

	acc.sent++
	acc.code = "54321"
	if acc.distinctCodes {
		acc.code = fmt.Sprintf("%05d", 11111*acc.sent)
	}
	acc.codeHash = fmt.Sprintf("hash-%d", c.tg.sendCodes)
	if acc.deliverCodes {
		delivered := acc.code
		if acc.wrongCode {
			delivered = "11111"
		}
		acc.lastID++
		msg := entities.ServiceMessage{
			ID:   acc.lastID,
			Text: "Login code: " + delivered + ". Do not give this code to anyone.",
			Date: time.Now(),
		}
		if i := acc.sent - 1; i < len(acc.deliveryLag) && acc.deliveryLag[i] > 0 {
			acc.pending = append(acc.pending, pendingMessage{msg: msg, polls: acc.deliveryLag[i]})
		} else {
			acc.messages = append(acc.messages, msg)
		}
	}
	return acc.codeHash, nil
}

func (c *fakeClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	c.tg.signIns++
	c.tg.signInCodes = append(c.tg.signInCodes, code)

	if len(acc.signInErrors) > 0 {
		err := acc.signInErrors[0]
		acc.signInErrors = acc.signInErrors[1:]
		if err != nil {
			return err
		}
	}
	if codeHash != acc.codeHash {
		return migerrors.NewClientError(migerrors.KindCodeExpired, errors.New("PHONE_CODE_EXPIRED"))
	}
	if code != acc.code {
		return migerrors.NewClientError(migerrors.KindInvalidCode, errors.New("PHONE_CODE_INVALID"))
	}
	if acc.password != "" {
		c.awaitPw = true
		return migerrors.NewClientError(migerrors.KindPasswordNeeded, errors.New("SESSION_PASSWORD_NEEDED"))
	}
	c.signedIn = true
	return nil
}

func (c *fakeClient) CheckPassword(ctx context.Context, password string) error {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	c.tg.checks++
	if !c.awaitPw || password != acc.password {
		return migerrors.NewClientError(migerrors.KindInvalidCredential, errors.New("PASSWORD_HASH_INVALID"))
	}
	c.signedIn = true
	return nil
}

func (c *fakeClient) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	c.tg.updates++
	if acc.updatePwErr != nil {
		return acc.updatePwErr
	}
	if acc.password != "" && oldPassword == "" {
		return migerrors.NewClientError(migerrors.KindPasswordRequired, errors.New("password required"))
	}
	if acc.password != oldPassword {
		return migerrors.NewClientError(migerrors.KindInvalidCredential, errors.New("PASSWORD_HASH_INVALID"))
	}
	acc.password = newPassword
	return nil
}

func (c *fakeClient) LogOut(ctx context.Context) error {
	acc := c.remote()
	c.tg.mu.Lock()
	defer c.tg.mu.Unlock()
	if acc.logOutErr != nil {
		return acc.logOutErr
	}
	acc.loggedOut = true
	return nil
}

// sleepRecorder records requested pauses without waiting
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type fakeInput struct {
	mu    sync.Mutex
	code  string
	err   error
	calls int
}

func (f *fakeInput) ReadCode(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.code, f.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entities.Event
}

func (r *eventRecorder) Report(_ context.Context, e entities.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(t entities.EventType) []entities.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type seededIdentities struct{}

func (seededIdentities) Generate(seed string) entities.ClientIdentity {
	return entities.ClientIdentity{
		AppID:          2040,
		AppHash:        "b18441a1ff607e10a989891a5462e627",
		DeviceModel:    "DESKTOP-" + strings.ToUpper(seed),
		SystemVersion:  "Windows 11",
		AppVersion:     "4.16.8 x64",
		LangPack:       "tdesktop",
		LangCode:       "en",
		SystemLangCode: "en-US",
	}
}

type emptyPool struct{}

func (emptyPool) Random() *entities.ProxyEndpoint { return nil }
func (emptyPool) Len() int                        { return 0 }

type staticSettings entities.BatchSettings

func (s staticSettings) Snapshot() entities.BatchSettings { return entities.BatchSettings(s) }

func testSettings() entities.BatchSettings {
	return entities.BatchSettings{
		MaxThreads:       5,
		RetryDelay:       20 * time.Second,
		LogoutOldSession: true,
		Change2FA:        true,
		Language:         "en",
	}
}

// harness wires a Migrator to a real file store in a temp dir and fakeTelegram
type harness struct {
	t           *testing.T
	sessions    string
	newSessions string
	store       *file.Repository
	tg          *fakeTelegram
	sleeps      *sleepRecorder
	input       *fakeInput
	events      *eventRecorder
	migrator    *Migrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		t:           t,
		sessions:    filepath.Join(root, "sessions"),
		newSessions: filepath.Join(root, "new_sessions"),
		sleeps:      &sleepRecorder{},
		input:       &fakeInput{},
		events:      &eventRecorder{},
	}
	require.NoError(t, os.MkdirAll(h.sessions, 0o700))

	logger := zerolog.Nop()
	h.store = file.NewRepository(h.sessions, h.newSessions, seededIdentities{}, logger)
	h.tg = newFakeTelegram(h.sessions)

	codes := NewCodeRetriever(CodeRetrieverConfig{
		PollAttempts:   3,
		PollWait:       time.Millisecond,
		ManualFallback: true,
	}, h.input, h.sleeps.Sleep, logger)

	h.migrator = NewMigrator(MigratorConfig{MaxAttempts: 3}, MigratorDeps{
		Store:      h.store,
		Clients:    h.tg,
		Proxies:    emptyPool{},
		Identities: seededIdentities{},
		Rotator:    NewCredentialRotator(nil, logger),
		Codes:      codes,
		Reporter:   h.events,
		Sleep:      h.sleeps.Sleep,
		Logger:     logger,
	})
	return h
}

// addAccount writes a record and a session file; remotePassword is the
// password Telegram holds, recordSecret the one on record
func (h *harness) addAccount(phone, recordSecret, remotePassword string) *remoteAccount {
	h.t.Helper()
	record := fmt.Sprintf(`{"phone":%q,"app_id":611335,"app_hash":"d524b414d21f4d37f08684c1df41ac9c"`, phone)
	if recordSecret != "" {
		record += fmt.Sprintf(`,"twoFA":%q`, recordSecret)
	}
	record += `}`
	require.NoError(h.t, os.WriteFile(filepath.Join(h.sessions, phone+".json"), []byte(record), 0o600))
	require.NoError(h.t, os.WriteFile(filepath.Join(h.sessions, phone+".session"), []byte("auth-key"), 0o600))

	acc := h.tg.account(phone)
	acc.password = remotePassword
	return acc
}

func (h *harness) migrate(phone string, settings entities.BatchSettings) entities.Outcome {
	return h.migrator.Migrate(context.Background(), "run-test", phone, settings)
}

func (h *harness) exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (h *harness) oldRecordSecret(phone string) string {
	h.t.Helper()
	store := file.NewRepository(h.sessions, h.newSessions, seededIdentities{}, zerolog.Nop())
	rec, err := store.Load(context.Background(), phone)
	require.NoError(h.t, err)
	return rec.Secret()
}
