//go:build property

package paste

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestIDProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("ids are valid base58 without look-alikes", prop.ForAll(
		func(_ int) bool {
			id := NewID()
			return ValidID(id) && !strings.ContainsAny(id, "0OIl")
		},
		gen.Int(),
	))

	properties.Property("tokens only validate for their own id", prop.ForAll(
		func(secret string) bool {
			signer, err := NewSigner([]byte(secret))
			if err != nil {
				return false
			}
			a, b := NewID(), NewID()
			if a == b {
				return true
			}
			return signer.Valid(a, signer.Token(a)) && !signer.Valid(b, signer.Token(a))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestTextToTitleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(8642)
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	properties.Property("titles never exceed the limit plus ellipsis", prop.ForAll(
		func(s string, n int) bool {
			title := TextToTitle(s, n)
			return utf8.RuneCountInString(title) <= n+1
		},
		gen.AnyString(),
		gen.IntRange(5, 80),
	))

	properties.Property("short inputs are only whitespace-collapsed", prop.ForAll(
		func(words []string) bool {
			s := strings.Join(words, "  ")
			collapsed := strings.Join(strings.Fields(s), " ")
			if utf8.RuneCountInString(collapsed) > MaxTitleLen {
				return true
			}
			return TextToTitle(s, MaxTitleLen) == collapsed
		},
		gen.SliceOfN(4, gen.AlphaString()),
	))

	properties.Property("truncated titles are a prefix of the collapsed text", prop.ForAll(
		func(s string) bool {
			title := TextToTitle(s, MaxTitleLen)
			collapsed := strings.Join(strings.Fields(s), " ")
			if !strings.HasSuffix(title, ellipsis) {
				return title == collapsed
			}
			return strings.HasPrefix(collapsed, strings.TrimSuffix(title, ellipsis))
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
