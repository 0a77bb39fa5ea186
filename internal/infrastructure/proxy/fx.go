package proxy

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the proxy pool for fx DI
var Module = fx.Module("proxy",
	fx.Provide(NewPoolFx),
)

// NewPoolFx loads the proxy list of the prepared workspace
func NewPoolFx(path ProxyFile, logger zerolog.Logger) (*Pool, error) {
	return LoadFile(string(path), logger.With().Str("component", "proxy").Logger())
}

// ProxyFile is the location of the proxy list
type ProxyFile string
