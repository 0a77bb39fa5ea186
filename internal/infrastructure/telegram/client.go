package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultRequestsPerSecond = 10
	historyLimit             = 20
	dialogsLimit             = 50
)

// MTProtoClient implements deps.MessagingClient using gotd/td library
type MTProtoClient struct {
	identity       entities.ClientIdentity
	phoneNumber    string
	sessionStorage *FileSessionStorage
	proxy          *entities.ProxyEndpoint
	connectTimeout time.Duration

	// Connection state
	client     *telegram.Client
	api        *tg.Client
	connected  bool
	mu         sync.RWMutex
	cancelFunc context.CancelFunc
	runDone    chan struct{}

	inbox       *serviceInbox
	servicePeer tg.InputPeerClass

	logger      zerolog.Logger
	rateLimiter *rate.Limiter
}

// MTProtoClientConfig holds configuration for MTProtoClient
type MTProtoClientConfig struct {
	Phone       string
	SessionPath string
	Identity    entities.ClientIdentity
	// Proxy is nil for a direct connection
	Proxy             *entities.ProxyEndpoint
	ConnectTimeout    time.Duration
	RequestsPerSecond int
	Logger            zerolog.Logger
}

// NewMTProtoClient creates a new MTProto client instance. No network
// activity happens before Connect.
func NewMTProtoClient(cfg MTProtoClientConfig) (*MTProtoClient, error) {
	if !cfg.Identity.HasCredentials() {
		return nil, migerrors.ErrIncompleteIdentity
	}
	if cfg.Phone == "" {
		return nil, migerrors.ErrMissingPhone
	}
	if cfg.SessionPath == "" {
		return nil, fmt.Errorf("session path is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}

	sessionStorage, err := NewFileSessionStorage(cfg.SessionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create session storage: %w", err)
	}

	logger := cfg.Logger.With().
		Str("component", "mtproto_client").
		Str("phone", utils.MaskPhoneNumber(cfg.Phone)).
		Logger()
	if cfg.Proxy != nil {
		logger = logger.With().Str("proxy", cfg.Proxy.String()).Logger()
	}

	return &MTProtoClient{
		identity:       cfg.Identity,
		phoneNumber:    cfg.Phone,
		sessionStorage: sessionStorage,
		proxy:          cfg.Proxy,
		connectTimeout: cfg.ConnectTimeout,
		inbox:          newServiceInbox(),
		logger:         logger,
		rateLimiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
	}, nil
}

func (c *MTProtoClient) options() (telegram.Options, error) {
	resolver, err := newResolver(c.proxy)
	if err != nil {
		return telegram.Options{}, err
	}

	return telegram.Options{
		SessionStorage: c.sessionStorage,
		Resolver:       resolver,
		UpdateHandler:  c.inbox.handler(),
		Device: telegram.DeviceConfig{
			DeviceModel:    c.identity.DeviceModel,
			SystemVersion:  c.identity.SystemVersion,
			AppVersion:     c.identity.AppVersion,
			SystemLangCode: c.identity.SystemLangCode,
			LangPack:       c.identity.LangPack,
			LangCode:       c.identity.LangCode,
		},
	}, nil
}

// Connect opens the MTProto connection and returns once it is usable. The
// connection lives until Close, independent of ctx.
func (c *MTProtoClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.logger.Debug().Msg("Already connected")
		return nil
	}

	opts, err := c.options()
	if err != nil {
		return migerrors.NewClientError(migerrors.KindUnknown, err)
	}

	c.logger.Info().Msg("Connecting to Telegram")
	client := telegram.NewClient(c.identity.AppID, c.identity.AppHash, opts)

	clientCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	readyChan := make(chan struct{})
	errChan := make(chan error, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		err := client.Run(clientCtx, func(ctx context.Context) error {
			close(readyChan)
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errChan <- err:
		default:
		}
	}()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case <-readyChan:
	case err := <-errChan:
		cancel()
		if err == nil {
			err = errors.New("client stopped before it was ready")
		}
		return classifyError(fmt.Errorf("failed to connect: %w", err))
	case <-timer.C:
		cancel()
		return migerrors.NewClientError(migerrors.KindTransient,
			fmt.Errorf("connect timeout after %s", c.connectTimeout))
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	c.client = client
	c.api = client.API()
	c.cancelFunc = cancel
	c.runDone = runDone
	c.connected = true
	c.logger.Info().Msg("Connected to Telegram")
	return nil
}

// Close stops the connection and waits for the client to shut down. The
// session is stored by gotd before Run returns. Close is idempotent.
func (c *MTProtoClient) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancelFunc
	runDone := c.runDone
	c.connected = false
	c.client = nil
	c.api = nil
	c.cancelFunc = nil
	c.runDone = nil
	c.mu.Unlock()

	cancel()
	select {
	case <-runDone:
		c.logger.Debug().Msg("Client stopped gracefully")
		return nil
	case <-ctx.Done():
		c.logger.Warn().Msg("Close timeout reached while waiting for client shutdown")
		return ctx.Err()
	}
}

// IsConnected checks if client is connected to Telegram
func (c *MTProtoClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// acquire returns the live client after waiting for the rate limiter
func (c *MTProtoClient) acquire(ctx context.Context) (*telegram.Client, *tg.Client, error) {
	c.mu.RLock()
	client, api, connected := c.client, c.api, c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return nil, nil, migerrors.NewClientError(migerrors.KindUnknown, migerrors.ErrNotConnected)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return client, api, nil
}

// IsAuthorized reports whether the session is signed in
func (c *MTProtoClient) IsAuthorized(ctx context.Context) (bool, error) {
	client, _, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, classifyError(fmt.Errorf("failed to check auth status: %w", err))
	}
	return status.Authorized, nil
}

// SendCode requests a login code for phone and returns its hash
func (c *MTProtoClient) SendCode(ctx context.Context, phone string) (string, error) {
	client, _, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}

	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send login code")
		return "", classifyError(fmt.Errorf("failed to send code: %w", err))
	}

	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", migerrors.NewClientError(migerrors.KindUnknown,
			fmt.Errorf("unexpected sent code response %T", sent))
	}

	c.logger.Info().Str("type", fmt.Sprintf("%T", code.Type)).Msg("Login code sent")
	return code.PhoneCodeHash, nil
}

// SignIn completes the login with a code. A 2FA protected account yields
// KindPasswordNeeded.
func (c *MTProtoClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	client, _, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return classifyError(fmt.Errorf("failed to sign in: %w", err))
	}

	c.logger.Info().Msg("Signed in with login code")
	return nil
}

// CheckPassword completes a login that requires the 2FA password
func (c *MTProtoClient) CheckPassword(ctx context.Context, password string) error {
	client, _, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := client.Auth().Password(ctx, password); err != nil {
		return classifyError(fmt.Errorf("failed to check password: %w", err))
	}

	c.logger.Info().Msg("Signed in with 2FA password")
	return nil
}

// UpdatePassword sets newPassword as the 2FA password. An empty oldPassword
// means none is known: if the account has one, KindPasswordRequired is returned.
func (c *MTProtoClient) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	client, _, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	var opts auth.UpdatePasswordOptions
	if oldPassword != "" {
		opts.Password = func(context.Context) (string, error) {
			return oldPassword, nil
		}
	}

	if err := client.Auth().UpdatePassword(ctx, newPassword, opts); err != nil {
		return classifyError(fmt.Errorf("failed to update password: %w", err))
	}
	return nil
}

// LogOut terminates the session on the server side
func (c *MTProtoClient) LogOut(ctx context.Context) error {
	_, api, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := api.AuthLogOut(ctx); err != nil {
		return classifyError(fmt.Errorf("failed to log out: %w", err))
	}

	c.logger.Info().Msg("Session logged out")
	return nil
}

// WaitServiceMessages returns service notifications dated at or after since
// with an ID above afterID. Messages pushed as updates are preferred; when
// none arrive within wait the notifications history is read instead.
func (c *MTProtoClient) WaitServiceMessages(ctx context.Context, since time.Time, afterID int, wait time.Duration) ([]entities.ServiceMessage, error) {
	if !c.IsConnected() {
		return nil, migerrors.NewClientError(migerrors.KindUnknown, migerrors.ErrNotConnected)
	}

	if msgs := c.inbox.since(since, afterID); len(msgs) > 0 {
		return msgs, nil
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

	waiting:
		for {
			select {
			case <-c.inbox.notify:
				if msgs := c.inbox.since(since, afterID); len(msgs) > 0 {
					return msgs, nil
				}
			case <-timer.C:
				break waiting
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return c.serviceHistory(ctx, since, afterID)
}

// serviceHistory reads the latest messages of the service notifications dialog
func (c *MTProtoClient) serviceHistory(ctx context.Context, since time.Time, afterID int) ([]entities.ServiceMessage, error) {
	peer, err := c.resolveServicePeer(ctx)
	if err != nil {
		return nil, err
	}

	_, api, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	result, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: historyLimit,
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to get service messages: %w", err))
	}

	var messages []tg.MessageClass
	switch r := result.(type) {
	case *tg.MessagesMessages:
		messages = r.Messages
	case *tg.MessagesMessagesSlice:
		messages = r.Messages
	}

	var out []entities.ServiceMessage
	for _, m := range messages {
		if msg, ok := serviceMessage(m); ok && msg.ID > afterID && !msg.Date.Before(since) {
			out = append(out, msg)
		}
	}

	c.logger.Debug().Int("messages_count", len(out)).Msg("Fetched service messages")
	return out, nil
}

// resolveServicePeer finds the access hash of the service notifications
// account among the recent dialogs
func (c *MTProtoClient) resolveServicePeer(ctx context.Context) (tg.InputPeerClass, error) {
	c.mu.RLock()
	peer := c.servicePeer
	c.mu.RUnlock()
	if peer != nil {
		return peer, nil
	}

	_, api, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogsLimit,
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to get dialogs: %w", err))
	}

	var users []tg.UserClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		users = d.Users
	case *tg.MessagesDialogsSlice:
		users = d.Users
	}

	for _, u := range users {
		if user, ok := u.(*tg.User); ok && user.ID == entities.ServiceNotificationsUserID {
			peer = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
			c.mu.Lock()
			c.servicePeer = peer
			c.mu.Unlock()
			return peer, nil
		}
	}

	return nil, migerrors.NewClientError(migerrors.KindTransient,
		errors.New("service notifications dialog not found"))
}

var _ deps.MessagingClient = (*MTProtoClient)(nil)
