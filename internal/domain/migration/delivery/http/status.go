package http

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/dto"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/pkg/errors"
	"github.com/Conte777/tg-session-migrator/pkg/httputil"
)

const journalLookupTimeout = 5 * time.Second

// StatusHandler serves the run state and the journal of past runs
type StatusHandler struct {
	runs    deps.RunTracker
	journal deps.Journal
	mapper  *errors.Mapper
	logger  zerolog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(runs deps.RunTracker, journal deps.Journal, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		runs:    runs,
		journal: journal,
		mapper:  errors.NewMapper(logger),
		logger:  logger,
	}
}

// Status returns the snapshot of the current or last run
func (h *StatusHandler) Status(ctx *fasthttp.RequestCtx) {
	httputil.WriteResponse(ctx, h.runs.Status())
}

// Run returns the journal entries of one run
func (h *StatusHandler) Run(ctx *fasthttp.RequestCtx) {
	runID, _ := ctx.UserValue("run_id").(string)
	runID = strings.TrimSpace(runID)
	if runID == "" {
		httputil.WriteMappedError(ctx, h.mapper, migerrors.ErrEmptyRunID)
		return
	}

	lookupCtx, cancel := context.WithTimeout(context.Background(), journalLookupTimeout)
	defer cancel()

	rows, err := h.journal.ListRun(lookupCtx, runID)
	if err != nil {
		h.logger.Debug().Err(err).Str("run_id", runID).Msg("Run lookup failed")
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	httputil.WriteResponse(ctx, dto.NewRunReport(runID, rows))
}
