package business

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var secretWords = []string{
	"amber", "anchor", "arrow", "aspen", "atlas", "autumn", "badger", "basil", "beacon", "birch",
	"bison", "blaze", "breeze", "brook", "canyon", "cedar", "cinder", "clover", "cobalt", "comet",
	"copper", "coral", "cosmos", "crane", "crimson", "dawn", "delta", "ember", "falcon", "fern",
	"fjord", "flint", "forest", "frost", "galaxy", "garnet", "glacier", "granite", "harbor", "hazel",
	"heron", "indigo", "island", "jasper", "juniper", "kestrel", "lagoon", "lantern", "laurel", "lemon",
	"lotus", "lynx", "maple", "marble", "meadow", "meteor", "mint", "mistral", "nebula", "nectar",
	"nimbus", "oasis", "ocean", "olive", "onyx", "orchid", "otter", "pebble", "pepper", "pine",
	"planet", "prairie", "quartz", "quill", "raven", "reef", "ridge", "river", "saffron", "sage",
	"sequoia", "shadow", "sierra", "silver", "sparrow", "spruce", "summit", "tango", "thistle", "thunder",
	"tundra", "velvet", "violet", "walnut", "willow", "winter", "yarrow", "zephyr", "zenith", "zinnia",
}

const secretSymbols = "!#$%&*+-=?@^_~"

// GenerateSecret returns a new 2FA password: two capitalised words, four
// digits and a symbol, e.g. "CedarFalcon4821!". It never returns previous.
func GenerateSecret(previous string) (string, error) {
	for {
		first, err := pick(len(secretWords))
		if err != nil {
			return "", err
		}
		second, err := pick(len(secretWords))
		if err != nil {
			return "", err
		}
		digits, err := pick(10000)
		if err != nil {
			return "", err
		}
		symbol, err := pick(len(secretSymbols))
		if err != nil {
			return "", err
		}

		secret := fmt.Sprintf("%s%s%04d%c",
			capitalize(secretWords[first]),
			capitalize(secretWords[second]),
			digits,
			secretSymbols[symbol],
		)
		if secret != previous {
			return secret, nil
		}
	}
}

func pick(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(v.Int64()), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
