package deps

import (
	"context"
	"time"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// MessagingClient is one Telegram session. Every method returns a
// *errors.ClientError so callers can dispatch on its Kind.
type MessagingClient interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsAuthorized(ctx context.Context) (bool, error)
	// WaitServiceMessages returns messages from the service notifications
	// peer dated at or after since with an ID above afterID, blocking up to
	// wait for one to arrive. An empty result means nothing arrived in time.
	WaitServiceMessages(ctx context.Context, since time.Time, afterID int, wait time.Duration) ([]entities.ServiceMessage, error)
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	CheckPassword(ctx context.Context, password string) error
	UpdatePassword(ctx context.Context, oldPassword, newPassword string) error
	LogOut(ctx context.Context) error
}

// ClientFactory opens messaging clients
type ClientFactory interface {
	New(opts entities.ClientOptions) (MessagingClient, error)
}

// RecordStore persists account records and locates their session files
type RecordStore interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, key string) (*entities.AccountRecord, error)
	Save(ctx context.Context, rec *entities.AccountRecord) error
	LoadNew(ctx context.Context, key string) (*entities.AccountRecord, error)
	SaveNew(ctx context.Context, rec *entities.AccountRecord) error
	// Delete removes the old session file and the old record
	Delete(ctx context.Context, rec *entities.AccountRecord) error
	RecordPath(key string) string
	SessionPath(rec *entities.AccountRecord) string
	NewSessionPath(rec *entities.AccountRecord) string
	SessionExists(rec *entities.AccountRecord) bool
}

// ProxyPool hands out proxies for new connections
type ProxyPool interface {
	// Random returns nil when the pool is empty
	Random() *entities.ProxyEndpoint
	Len() int
}

// IdentityGenerator produces client identities for unlinked sessions
type IdentityGenerator interface {
	Generate(seed string) entities.ClientIdentity
}

// CodeInput asks the operator for a login code
type CodeInput interface {
	ReadCode(ctx context.Context, phone string) (string, error)
}

// Reporter observes migration events
type Reporter interface {
	Report(ctx context.Context, event entities.Event)
}

// Journal stores one row per finished account migration
type Journal interface {
	Record(ctx context.Context, runID string, outcome entities.Outcome) error
	ListRun(ctx context.Context, runID string) ([]entities.MigrationJournalModel, error)
}

// SessionArchiver keeps a copy of retired session files
type SessionArchiver interface {
	Archive(ctx context.Context, phone string, paths ...string) error
}

// SettingsSource provides the batch settings snapshot
type SettingsSource interface {
	Snapshot() entities.BatchSettings
}

// RunTracker exposes the state of the current or last batch
type RunTracker interface {
	Status() entities.RunStatus
	IsRunning() bool
}

// HealthChecker is implemented by components that can report their health
type HealthChecker interface {
	IsHealthy() bool
}
