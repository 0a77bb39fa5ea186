package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// Platform selects the device family of generated identities
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
)

type application struct {
	id       int
	hash     string
	langPack string
	versions []string
}

var (
	desktopApp = application{
		id:       2040,
		hash:     "b18441a1ff607e10a989891a5462e627",
		langPack: "tdesktop",
		versions: []string{"4.16.8 x64", "5.0.1 x64", "5.1.7 x64", "5.2.3 x64", "5.5.5 x64"},
	}
	macApp = application{
		id:       2834,
		hash:     "68875f756c9b437a8b916ca3de215815",
		langPack: "macos",
		versions: []string{"10.9.1", "10.10", "10.11.2", "10.12.4"},
	}
)

type profile struct {
	app          application
	devices      []string
	systems      []string
	serialSuffix bool
}

var profiles = map[Platform]profile{
	PlatformWindows: {
		app:          desktopApp,
		devices:      []string{"DESKTOP-", "LAPTOP-", "PC-"},
		systems:      []string{"Windows 10", "Windows 11"},
		serialSuffix: true,
	},
	PlatformMacOS: {
		app:     macApp,
		devices: []string{"MacBookPro17,1", "MacBookPro18,3", "MacBookAir10,1", "Mac14,2", "Mac14,7", "iMac21,1"},
		systems: []string{"macOS 13.6.4", "macOS 14.3.1", "macOS 14.4.1", "macOS 14.5"},
	},
	PlatformLinux: {
		app:     desktopApp,
		devices: []string{"PC 64bit", "ThinkPad T14", "XPS 13 9310", "OptiPlex 7090"},
		systems: []string{"Ubuntu 22.04", "Ubuntu 24.04", "Fedora 39", "Debian 12", "Arch Linux"},
	},
}

var languages = [][2]string{
	{"en", "en-US"},
	{"en", "en-GB"},
	{"ru", "ru-RU"},
	{"de", "de-DE"},
	{"es", "es-ES"},
}

const serialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generator produces fresh client identities for one platform.
// It implements deps.IdentityGenerator and is safe for concurrent use.
type Generator struct {
	platform Platform
	entropy  io.Reader
	fallback atomic.Uint64
	logger   zerolog.Logger
}

// NewGenerator creates a generator for platform
func NewGenerator(platform Platform, logger zerolog.Logger) (*Generator, error) {
	if _, ok := profiles[platform]; !ok {
		return nil, fmt.Errorf("unsupported identity platform %q", platform)
	}
	return &Generator{
		platform: platform,
		entropy:  rand.Reader,
		logger:   logger.With().Str("component", "identity").Logger(),
	}, nil
}

// Generate returns a complete identity. The seed is mixed with random bytes,
// so two calls with the same seed produce unrelated identities.
func (g *Generator) Generate(seed string) entities.ClientIdentity {
	nonce := g.nonce()

	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(nonce)
	d := digest(h.Sum(nil))

	p := profiles[g.platform]
	lang := languages[d.pick(len(languages))]

	device := p.devices[d.pick(len(p.devices))]
	if p.serialSuffix {
		device += d.serial(7)
	}

	return entities.ClientIdentity{
		AppID:          p.app.id,
		AppHash:        p.app.hash,
		DeviceModel:    device,
		SystemVersion:  p.systems[d.pick(len(p.systems))],
		AppVersion:     p.app.versions[d.pick(len(p.app.versions))],
		LangPack:       p.app.langPack,
		LangCode:       lang[0],
		SystemLangCode: lang[1],
	}
}

// nonce reads 16 random bytes. When the entropy source fails, the clock and
// a per-generator counter keep nonces distinct between calls.
func (g *Generator) nonce() []byte {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(g.entropy, nonce); err != nil {
		g.logger.Warn().Err(err).Msg("Entropy source failed, using clock based nonce")
		binary.LittleEndian.PutUint64(nonce[:8], uint64(time.Now().UnixNano()))
		binary.LittleEndian.PutUint64(nonce[8:], g.fallback.Add(1))
	}
	return nonce
}

// digest hands out the bytes of a sha256 sum one at a time. A generated
// identity consumes 11 of its 32 bytes.
type digest []byte

func (d *digest) next() byte {
	b := (*d)[0]
	*d = (*d)[1:]
	return b
}

func (d *digest) pick(n int) int {
	return int(d.next()) % n
}

func (d *digest) serial(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = serialAlphabet[d.pick(len(serialAlphabet))]
	}
	return string(out)
}
