package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/infrastructure/proxy"
)

// Module prepares the working directories for fx DI
var Module = fx.Module("workspace",
	fx.Provide(
		NewWorkspaceFx,
		func(ws *Workspace) proxy.ProxyFile { return proxy.ProxyFile(ws.ProxyFile) },
		config.NewSettingsStoreFx,
	),
)

// Workspace is the set of prepared locations the migrator works in
type Workspace struct {
	SessionsDir    string
	NewSessionsDir string
	ProxyFile      string
}

// Bootstrap creates the session directories and an empty proxy list when
// they are absent. Existing files are left untouched.
func Bootstrap(cfg *config.WorkspaceConfig, logger zerolog.Logger) (*Workspace, error) {
	for _, dir := range []string{cfg.SessionsDir, cfg.NewSessionsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	created, err := createIfMissing(cfg.ProxyFile, []byte(proxy.FileHeader))
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info().Str("path", cfg.ProxyFile).Msg("Empty proxy list created")
	}

	return &Workspace{
		SessionsDir:    cfg.SessionsDir,
		NewSessionsDir: cfg.NewSessionsDir,
		ProxyFile:      cfg.ProxyFile,
	}, nil
}

func createIfMissing(path string, content []byte) (bool, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// NewWorkspaceFx bootstraps the configured workspace
func NewWorkspaceFx(cfg *config.WorkspaceConfig, logger zerolog.Logger) (*Workspace, error) {
	return Bootstrap(cfg, logger.With().Str("component", "workspace").Logger())
}
