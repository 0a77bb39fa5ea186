package telegram

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
)

func testIdentity() entities.ClientIdentity {
	return entities.ClientIdentity{
		AppID:          2040,
		AppHash:        "b18441a1ff607e10a989891a5462e627",
		DeviceModel:    "DESKTOP-TEST123",
		SystemVersion:  "Windows 10",
		AppVersion:     "5.0.1 x64",
		LangPack:       "tdesktop",
		LangCode:       "en",
		SystemLangCode: "en-US",
	}
}

func newTestClient(t *testing.T) *MTProtoClient {
	c, err := NewMTProtoClient(MTProtoClientConfig{
		Phone:       "79001234567",
		SessionPath: filepath.Join(t.TempDir(), "79001234567.session"),
		Identity:    testIdentity(),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestNewMTProtoClient_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := NewMTProtoClient(MTProtoClientConfig{Phone: "7900", SessionPath: filepath.Join(dir, "a.session")})
	assert.ErrorIs(t, err, migerrors.ErrIncompleteIdentity)

	_, err = NewMTProtoClient(MTProtoClientConfig{Identity: testIdentity(), SessionPath: filepath.Join(dir, "a.session")})
	assert.ErrorIs(t, err, migerrors.ErrMissingPhone)

	_, err = NewMTProtoClient(MTProtoClientConfig{Identity: testIdentity(), Phone: "7900"})
	assert.Error(t, err)
}

func TestMTProtoClient_NotConnected(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.IsAuthorized(ctx)
	assert.ErrorIs(t, err, migerrors.ErrNotConnected)

	_, err = c.SendCode(ctx, "79001234567")
	assert.ErrorIs(t, err, migerrors.ErrNotConnected)

	assert.ErrorIs(t, c.SignIn(ctx, "79001234567", "12345", "hash"), migerrors.ErrNotConnected)
	assert.ErrorIs(t, c.CheckPassword(ctx, "secret"), migerrors.ErrNotConnected)
	assert.ErrorIs(t, c.UpdatePassword(ctx, "", "secret"), migerrors.ErrNotConnected)
	assert.ErrorIs(t, c.LogOut(ctx), migerrors.ErrNotConnected)

	_, err = c.WaitServiceMessages(ctx, time.Now(), 0, time.Millisecond)
	assert.ErrorIs(t, err, migerrors.ErrNotConnected)

	assert.NoError(t, c.Close(ctx), "closing an unopened client is a no-op")
	assert.False(t, c.IsConnected())
}

func TestMTProtoClient_WaitServiceMessages_FromUpdates(t *testing.T) {
	c := newTestClient(t)
	c.connected = true
	since := time.Unix(time.Now().Unix(), 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.inbox.add(entities.ServiceMessage{ID: 7, Text: "Login code: 12345", Date: since})
	}()

	msgs, err := c.WaitServiceMessages(context.Background(), since, 0, time.Second)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 7, msgs[0].ID)
}

func TestMTProtoClient_WaitServiceMessages_SkipsSeenMessages(t *testing.T) {
	c := newTestClient(t)
	c.connected = true
	since := time.Unix(time.Now().Unix(), 0)
	c.inbox.add(entities.ServiceMessage{ID: 7, Text: "Login code: 11111", Date: since})

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.inbox.add(entities.ServiceMessage{ID: 8, Text: "Login code: 22222", Date: since})
	}()

	msgs, err := c.WaitServiceMessages(context.Background(), since, 7, time.Second)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 8, msgs[0].ID)
	assert.Equal(t, "Login code: 22222", msgs[0].Text)
}

func TestMTProtoClient_WaitServiceMessages_Cancelled(t *testing.T) {
	c := newTestClient(t)
	c.connected = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitServiceMessages(ctx, time.Now(), 0, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientFactory_New(t *testing.T) {
	f := NewClientFactory(&config.TelegramConfig{RequestsPerSecond: 5, ConnectTimeout: time.Second}, zerolog.Nop())

	client, err := f.New(entities.ClientOptions{
		Phone:       "79001234567",
		SessionPath: filepath.Join(t.TempDir(), "79001234567.session"),
		Identity:    testIdentity(),
		Proxy:       &entities.ProxyEndpoint{Kind: entities.ProxySOCKS5, Host: "127.0.0.1", Port: 1080},
	})
	require.NoError(t, err)

	mt, ok := client.(*MTProtoClient)
	require.True(t, ok)
	assert.Equal(t, time.Second, mt.connectTimeout)
	assert.NotNil(t, mt.proxy)

	_, err = f.New(entities.ClientOptions{Phone: "79001234567"})
	assert.Error(t, err)
}
