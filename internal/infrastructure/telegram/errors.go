package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
)

var (
	unauthorizedErrors = []string{
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"AUTH_KEY_PERM_EMPTY",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
		"PHONE_NUMBER_BANNED",
	}

	transientErrors = []string{
		"AUTH_RESTART",
		"RPC_CALL_FAIL",
		"RPC_MCGET_FAIL",
		"TIMEOUT",
	}
)

// deliveryExhaustedText is what Telegram answers when every code delivery
// channel for the number has been used up
const deliveryExhaustedText = "all available options for this type of number were already used"

// classifyError turns a gotd error into a *ClientError of the matching kind
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var ce *migerrors.ClientError
	if errors.As(err, &ce) {
		return err
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return migerrors.NewRateLimitError(wait, err)
	}

	return migerrors.NewClientError(kindOf(err), err)
}

func kindOf(err error) migerrors.Kind {
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded), tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return migerrors.KindPasswordNeeded
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return migerrors.KindInvalidCredential
	case errors.Is(err, auth.ErrPasswordNotProvided):
		return migerrors.KindPasswordRequired
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return migerrors.KindInvalidCode
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return migerrors.KindCodeExpired
	case tgerr.Is(err, unauthorizedErrors...):
		return migerrors.KindUnauthorized
	case tgerr.Is(err, "SEND_CODE_UNAVAILABLE"),
		strings.Contains(strings.ToLower(err.Error()), deliveryExhaustedText):
		return migerrors.KindDeliveryExhausted
	case tgerr.Is(err, transientErrors...), isNetworkError(err):
		return migerrors.KindTransient
	}

	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code >= 500 {
		return migerrors.KindTransient
	}
	return migerrors.KindUnknown
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
