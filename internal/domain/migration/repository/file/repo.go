package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

const (
	recordExt  = ".json"
	sessionExt = ".session"
)

// Repository implements deps.RecordStore over two directories: the source
// sessions with their records, and the target directory for new sessions.
type Repository struct {
	sessionsDir    string
	newSessionsDir string
	identities     deps.IdentityGenerator
	logger         zerolog.Logger
}

// NewRepository creates a file-backed record store
func NewRepository(sessionsDir, newSessionsDir string, identities deps.IdentityGenerator, logger zerolog.Logger) *Repository {
	return &Repository{
		sessionsDir:    sessionsDir,
		newSessionsDir: newSessionsDir,
		identities:     identities,
		logger:         logger.With().Str("component", "record_store").Logger(),
	}
}

// List returns the keys of all records in the sessions directory, sorted
func (r *Repository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), recordExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(keys)

	return keys, nil
}

// Load reads a record and makes sure its identity is populated. A generated
// or defaulted identity is written back before Load returns, so loading an
// already populated record never changes it. A record without a phone is
// rejected before anything is written.
func (r *Repository) Load(ctx context.Context, key string) (*entities.AccountRecord, error) {
	rec, err := r.read(r.RecordPath(key), key)
	if err != nil {
		return nil, err
	}
	if rec.Phone == "" {
		return nil, migerrors.ErrMissingPhone
	}

	ensured, changed, err := entities.EnsureIdentity(*rec, r.identities.Generate)
	if err != nil {
		return nil, err
	}
	if !changed {
		return rec, nil
	}

	if err := r.Save(ctx, &ensured); err != nil {
		return nil, fmt.Errorf("failed to persist generated identity: %w", err)
	}

	r.logger.Info().
		Str("phone", utils.MaskPhoneNumber(ensured.Phone)).
		Int("app_id", ensured.Identity.AppID).
		Str("device", ensured.Identity.DeviceModel).
		Msg("Client identity populated")

	return &ensured, nil
}

// Save atomically overwrites the record in the sessions directory
func (r *Repository) Save(ctx context.Context, rec *entities.AccountRecord) error {
	return r.write(r.RecordPath(recordKey(rec)), rec)
}

// LoadNew reads the target-side record, ErrRecordNotFound if there is none
func (r *Repository) LoadNew(ctx context.Context, key string) (*entities.AccountRecord, error) {
	return r.read(filepath.Join(r.newSessionsDir, key+recordExt), key)
}

// SaveNew atomically writes the target-side record
func (r *Repository) SaveNew(ctx context.Context, rec *entities.AccountRecord) error {
	if err := os.MkdirAll(r.newSessionsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create new sessions directory: %w", err)
	}
	return r.write(filepath.Join(r.newSessionsDir, recordKey(rec)+recordExt), rec)
}

// Delete removes the old session file and the old record. Missing files are ignored.
func (r *Repository) Delete(ctx context.Context, rec *entities.AccountRecord) error {
	var errs []error
	for _, path := range []string{r.SessionPath(rec), r.RecordPath(recordKey(rec))} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", filepath.Base(path), err))
			continue
		}
		r.logger.Debug().Str("file", filepath.Base(path)).Msg("File deleted")
	}
	return errors.Join(errs...)
}

// RecordPath returns the path of the old record for key
func (r *Repository) RecordPath(key string) string {
	return filepath.Join(r.sessionsDir, key+recordExt)
}

// SessionPath returns the path of the old session file
func (r *Repository) SessionPath(rec *entities.AccountRecord) string {
	return filepath.Join(r.sessionsDir, rec.SessionName()+sessionExt)
}

// NewSessionPath returns the path of the replacement session file
func (r *Repository) NewSessionPath(rec *entities.AccountRecord) string {
	return filepath.Join(r.newSessionsDir, rec.SessionName()+sessionExt)
}

// SessionExists checks if the old session file exists
func (r *Repository) SessionExists(rec *entities.AccountRecord) bool {
	info, err := os.Stat(r.SessionPath(rec))
	return err == nil && !info.IsDir()
}

func (r *Repository) read(path, key string) (*entities.AccountRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, migerrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read record %s: %w", filepath.Base(path), err)
	}

	rec := &entities.AccountRecord{Key: key}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", filepath.Base(path), err)
	}

	return rec, nil
}

func (r *Repository) write(path string, rec *entities.AccountRecord) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if err := atomicwriter.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write record %s: %w", filepath.Base(path), err)
	}

	return nil
}

func recordKey(rec *entities.AccountRecord) string {
	if rec.Key != "" {
		return rec.Key
	}
	return rec.Phone
}

var _ deps.RecordStore = (*Repository)(nil)
