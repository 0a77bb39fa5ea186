package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/internal/utils"
)

// DefaultTimeout bounds how long the operator has to type a code
const DefaultTimeout = 2 * time.Minute

// Module provides the console code input for fx DI
var Module = fx.Module("console",
	fx.Provide(NewStdinCodeInput),
)

// CodeInput prompts the operator for login codes. Prompts from concurrent
// migrations are serialized: one prompt is answered before the next is shown.
// It implements deps.CodeInput.
type CodeInput struct {
	in      io.Reader
	out     io.Writer
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.Mutex
	startOnce sync.Once
	lines     chan string
	readErr   chan error
}

// NewCodeInput creates a prompt reading from in and writing to out
func NewCodeInput(in io.Reader, out io.Writer, timeout time.Duration, logger zerolog.Logger) *CodeInput {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CodeInput{
		in:      in,
		out:     out,
		timeout: timeout,
		logger:  logger.With().Str("component", "console").Logger(),
		lines:   make(chan string),
		readErr: make(chan error, 1),
	}
}

// NewStdinCodeInput creates a prompt on the process terminal
func NewStdinCodeInput(logger zerolog.Logger) *CodeInput {
	return NewCodeInput(os.Stdin, os.Stdout, DefaultTimeout, logger)
}

// ReadCode shows a prompt for phone and returns the trimmed line typed in reply
func (c *CodeInput) ReadCode(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startOnce.Do(func() { go c.scan() })

	if _, err := fmt.Fprintf(c.out, "Enter the login code for %s: ", utils.MaskPhoneNumber(phone)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case line := <-c.lines:
		return strings.TrimSpace(line), nil
	case err := <-c.readErr:
		// keep the error visible to the next caller
		c.readErr <- err
		return "", fmt.Errorf("failed to read code: %w", err)
	case <-ctx.Done():
		return "", fmt.Errorf("code input cancelled: %w", ctx.Err())
	case <-timer.C:
		c.logger.Warn().Str("phone", utils.MaskPhoneNumber(phone)).Msg("Code input timed out")
		return "", fmt.Errorf("code input timeout after %s", c.timeout)
	}
}

// scan runs for the life of the process; a line typed after a timed out
// prompt answers the next one
func (c *CodeInput) scan() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.readErr <- err
}
