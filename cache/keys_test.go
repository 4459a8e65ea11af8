package cache

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var legalKey = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

func TestNameGeneratorsProduceLegalKeys(t *testing.T) {
	t.Parallel()

	uris := []string{
		"https://example.com/images/cat.png?size=large&v=2",
		"file:///home/user/Pictures/Весна.jpg",
		"",
		"https://example.com/" + string(rune(0x1F431)),
	}
	for _, gen := range []NameGenerator{DigestNameGenerator, HashNameGenerator} {
		for _, uri := range uris {
			key := gen(uri)
			assert.Regexp(t, legalKey, key, "uri %q", uri)
		}
	}
}

func TestDigestNameGeneratorIsStable(t *testing.T) {
	t.Parallel()

	const uri = "https://example.com/cat.png"
	assert.Equal(t, DigestNameGenerator(uri), DigestNameGenerator(uri))
	assert.Len(t, DigestNameGenerator(uri), 64)
	assert.NotEqual(t, DigestNameGenerator(uri), DigestNameGenerator(uri+"?"))
}
