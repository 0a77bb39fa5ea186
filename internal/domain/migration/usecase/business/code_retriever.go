package business

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

var loginCodePattern = regexp.MustCompile(`(?:Your login code|Login code|Ваш код для входа|Код для входа в Telegram)[:\s]+(\d{5,6})`)

// codeClockSkew widens the message window to tolerate server/local clock drift
const codeClockSkew = 30 * time.Second

// ExtractCode finds a login code in a service notification text
func ExtractCode(text string) (string, bool) {
	m := loginCodePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// CodeRetrieverConfig holds the polling policy of the code retriever
type CodeRetrieverConfig struct {
	PollAttempts   int
	PollWait       time.Duration
	ManualFallback bool
}

// CodeRetriever requests login codes for a new session and reads them from
// the service notifications of the old one.
type CodeRetriever struct {
	cfg    CodeRetrieverConfig
	input  deps.CodeInput
	sleep  SleepFunc
	now    func() time.Time
	logger zerolog.Logger
}

// NewCodeRetriever creates a code retriever. input may be nil when manual entry is unavailable.
func NewCodeRetriever(cfg CodeRetrieverConfig, input deps.CodeInput, sleep SleepFunc, logger zerolog.Logger) *CodeRetriever {
	if cfg.PollAttempts < 1 {
		cfg.PollAttempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &CodeRetriever{
		cfg:    cfg,
		input:  input,
		sleep:  sleep,
		now:    time.Now,
		logger: logger.With().Str("component", "code_retriever").Logger(),
	}
}

// RequestCode asks Telegram to send a login code for phone to the new
// session. It returns the code hash and the moment of the request.
func (r *CodeRetriever) RequestCode(ctx context.Context, newSession deps.MessagingClient, phone string) (string, time.Time, error) {
	requestedAt := r.now()
	hash, err := newSession.SendCode(ctx, phone)
	if err != nil {
		return "", requestedAt, err
	}
	return hash, requestedAt, nil
}

// Mark returns the newest login code notification already present in the
// old session. Codes at or below the mark belong to earlier requests and are
// never consumed. A failed read yields an empty mark.
func (r *CodeRetriever) Mark(ctx context.Context, oldSession deps.MessagingClient) entities.MessageMark {
	var mark entities.MessageMark

	messages, err := oldSession.WaitServiceMessages(ctx, r.now().Add(-codeClockSkew), 0, 0)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read existing service messages")
		return mark
	}
	for _, msg := range messages {
		if _, ok := ExtractCode(msg.Text); ok {
			mark.Advance(msg)
		}
	}
	return mark
}

// AwaitCode polls the old session's service notifications for a login code
// sent after since and newer than mark. On success mark is advanced to the
// consumed message. It returns an empty code once all polls are exhausted;
// retryDelay separates unsuccessful polls.
func (r *CodeRetriever) AwaitCode(ctx context.Context, oldSession deps.MessagingClient, since time.Time, mark *entities.MessageMark, retryDelay time.Duration) (string, error) {
	if mark == nil {
		mark = &entities.MessageMark{}
	}
	window := since.Add(-codeClockSkew)

	for poll := 1; poll <= r.cfg.PollAttempts; poll++ {
		messages, err := oldSession.WaitServiceMessages(ctx, window, mark.ID, r.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn().Err(err).Int("poll", poll).Msg("Failed to read service messages")
		}

		if msg, code, ok := newestCode(messages, *mark); ok {
			mark.Advance(msg)
			r.logger.Info().Int("poll", poll).Int("message_id", msg.ID).Msg("Login code received")
			return code, nil
		}

		if poll < r.cfg.PollAttempts {
			r.logger.Warn().
				Int("poll", poll).
				Dur("retry_delay", retryDelay).
				Msg("Login code not received yet")
			if err := r.sleep(ctx, retryDelay); err != nil {
				return "", err
			}
		}
	}

	return "", nil
}

// Obtain runs AwaitCode and falls back to manual entry when nothing arrived.
// ErrCodeNotProvided is returned when neither path yields a code.
func (r *CodeRetriever) Obtain(ctx context.Context, oldSession deps.MessagingClient, phone string, since time.Time, mark *entities.MessageMark, retryDelay time.Duration) (code string, manual bool, err error) {
	code, err = r.AwaitCode(ctx, oldSession, since, mark, retryDelay)
	if err != nil {
		return "", false, err
	}
	if code != "" {
		return code, false, nil
	}

	if !r.cfg.ManualFallback || r.input == nil {
		r.logger.Error().Msg("Login code not received and manual entry is disabled")
		return "", false, migerrors.ErrCodeNotProvided
	}

	r.logger.Warn().
		Str("phone", utils.MaskPhoneNumber(phone)).
		Msg("Login code not received, falling back to manual entry")

	code, err = r.input.ReadCode(ctx, phone)
	if err != nil {
		if ctx.Err() != nil {
			return "", true, ctx.Err()
		}
		return "", true, errors.Join(migerrors.ErrCodeNotProvided, err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", true, migerrors.ErrCodeNotProvided
	}

	return code, true, nil
}

// newestCode picks the latest code message above mark
func newestCode(messages []entities.ServiceMessage, mark entities.MessageMark) (entities.ServiceMessage, string, bool) {
	sorted := make([]entities.ServiceMessage, 0, len(messages))
	for _, msg := range messages {
		if !mark.Covers(msg) {
			sorted = append(sorted, msg)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].Date.After(sorted[j].Date)
	})

	for _, msg := range sorted {
		if code, ok := ExtractCode(msg.Text); ok {
			return msg, code, true
		}
	}
	return entities.ServiceMessage{}, "", false
}
