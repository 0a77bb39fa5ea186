package identity

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator_UnknownPlatform(t *testing.T) {
	_, err := NewGenerator("android", zerolog.Nop())
	assert.Error(t, err)
}

func TestGenerate_Complete(t *testing.T) {
	for _, platform := range []Platform{PlatformWindows, PlatformMacOS, PlatformLinux} {
		t.Run(string(platform), func(t *testing.T) {
			g, err := NewGenerator(platform, zerolog.Nop())
			require.NoError(t, err)

			for i := 0; i < 50; i++ {
				id := g.Generate("79001234567")
				assert.True(t, id.Complete(), "%+v", id)
				assert.True(t, strings.HasPrefix(id.SystemLangCode, id.LangCode+"-"))
			}
		})
	}
}

func TestGenerate_PlatformConsistent(t *testing.T) {
	win, err := NewGenerator(PlatformWindows, zerolog.Nop())
	require.NoError(t, err)
	id := win.Generate("seed")
	assert.Equal(t, 2040, id.AppID)
	assert.Equal(t, "tdesktop", id.LangPack)
	assert.Contains(t, id.SystemVersion, "Windows")
	assert.Regexp(t, regexp.MustCompile(`^(DESKTOP|LAPTOP|PC)-[A-Z0-9]{7}$`), id.DeviceModel)
	assert.True(t, strings.HasSuffix(id.AppVersion, " x64"))

	mac, err := NewGenerator(PlatformMacOS, zerolog.Nop())
	require.NoError(t, err)
	id = mac.Generate("seed")
	assert.Equal(t, 2834, id.AppID)
	assert.Equal(t, "macos", id.LangPack)
	assert.True(t, strings.HasPrefix(id.SystemVersion, "macOS "))
}

func TestGenerate_FreshPerCall(t *testing.T) {
	g, err := NewGenerator(PlatformWindows, zerolog.Nop())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[g.Generate("79001234567").DeviceModel] = true
	}
	assert.Greater(t, len(seen), 1, "the same seed must not pin the identity")
}

func TestGenerate_DeterministicForEntropy(t *testing.T) {
	nonce := bytes.Repeat([]byte{7}, 16)
	a := &Generator{platform: PlatformLinux, entropy: bytes.NewReader(nonce)}
	b := &Generator{platform: PlatformLinux, entropy: bytes.NewReader(nonce)}

	assert.Equal(t, a.Generate("seed"), b.Generate("seed"))
}

func TestGenerate_EntropyFailure(t *testing.T) {
	var logs bytes.Buffer
	g := &Generator{
		platform: PlatformWindows,
		entropy:  iotest.ErrReader(errors.New("entropy unavailable")),
		logger:   zerolog.New(&logs),
	}

	first := g.Generate("79001234567")
	second := g.Generate("79001234567")

	assert.True(t, first.Complete())
	assert.NotEqual(t, first.DeviceModel, second.DeviceModel, "a failing entropy source must not pin the identity")
	assert.Contains(t, logs.String(), "entropy unavailable")
}
