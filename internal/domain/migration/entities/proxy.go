package entities

import (
	"net"
	"strconv"
)

// ProxyKind is the transport of a proxy endpoint
type ProxyKind string

const (
	ProxySOCKS5 ProxyKind = "socks5"
)

// ProxyEndpoint is one entry of the proxy list. Loaded once and shared
// read-only between concurrent migrations.
type ProxyEndpoint struct {
	Kind     ProxyKind
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port
func (p ProxyEndpoint) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// RequiresAuth reports whether the proxy expects credentials
func (p ProxyEndpoint) RequiresAuth() bool {
	return p.Username != ""
}

// String returns the endpoint without credentials, safe for logs
func (p ProxyEndpoint) String() string {
	return string(p.Kind) + "://" + p.Addr()
}
