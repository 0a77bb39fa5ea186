package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// FileHeader is written to a freshly created proxy list
const FileHeader = "# Format: host:port:username:password\n"

// Pool is an immutable list of SOCKS5 endpoints. It implements deps.ProxyPool
// and is safe for concurrent use.
type Pool struct {
	endpoints []entities.ProxyEndpoint
}

// NewPool creates a pool over the given endpoints
func NewPool(endpoints []entities.ProxyEndpoint) *Pool {
	return &Pool{endpoints: endpoints}
}

// Random returns a uniformly chosen endpoint, nil when the pool is empty
func (p *Pool) Random() *entities.ProxyEndpoint {
	if p == nil || len(p.endpoints) == 0 {
		return nil
	}
	ep := p.endpoints[rand.IntN(len(p.endpoints))]
	return &ep
}

// Len returns the number of endpoints
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// LoadFile reads the proxy list at path. A missing file yields an empty pool.
func LoadFile(path string, logger zerolog.Logger) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("Proxy list not found, connecting directly")
			return NewPool(nil), nil
		}
		return nil, fmt.Errorf("failed to open proxy list: %w", err)
	}
	defer f.Close()

	endpoints, err := Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy list %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("proxies", len(endpoints)).Msg("Proxy list loaded")
	return NewPool(endpoints), nil
}

// Parse reads one endpoint per line: host:port[:username:password].
// Blank lines and lines starting with # are ignored; malformed lines are
// skipped with a warning.
func Parse(r io.Reader, logger zerolog.Logger) ([]entities.ProxyEndpoint, error) {
	var endpoints []entities.ProxyEndpoint

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ep, err := ParseLine(line)
		if err != nil {
			logger.Warn().Int("line", lineNo).Err(err).Msg("Skipping malformed proxy line")
			continue
		}
		endpoints = append(endpoints, ep)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// ParseLine parses a single host:port[:username:password] entry
func ParseLine(line string) (entities.ProxyEndpoint, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return entities.ProxyEndpoint{}, fmt.Errorf("expected host:port or host:port:username:password, got %d fields", len(parts))
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return entities.ProxyEndpoint{}, fmt.Errorf("empty host")
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port < 1 || port > 65535 {
		return entities.ProxyEndpoint{}, fmt.Errorf("invalid port %q", parts[1])
	}

	ep := entities.ProxyEndpoint{
		Kind: entities.ProxySOCKS5,
		Host: host,
		Port: port,
	}
	if len(parts) == 4 {
		ep.Username = parts[2]
		ep.Password = parts[3]
		if ep.Username == "" {
			return entities.ProxyEndpoint{}, fmt.Errorf("empty username")
		}
	}
	return ep, nil
}
