package telegram

import (
	"fmt"

	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// newResolver routes MTProto connections through p. A nil endpoint yields a
// nil resolver, which makes gotd connect directly.
func newResolver(p *entities.ProxyEndpoint) (dcs.Resolver, error) {
	if p == nil {
		return nil, nil
	}

	dialer, err := newProxyDialer(p)
	if err != nil {
		return nil, err
	}

	return dcs.Plain(dcs.PlainOptions{Dial: dialer.DialContext}), nil
}

func newProxyDialer(p *entities.ProxyEndpoint) (proxy.ContextDialer, error) {
	if p.Kind != entities.ProxySOCKS5 {
		return nil, fmt.Errorf("unsupported proxy kind %q", p.Kind)
	}

	var auth *proxy.Auth
	if p.RequiresAuth() {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}

	d, err := proxy.SOCKS5("tcp", p.Addr(), auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create socks5 dialer for %s: %w", p, err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", p)
	}
	return cd, nil
}
