package recapsamurai

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

// TestTruncate verifies rune-based truncation.
func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "要約侍", truncate("要約侍、参上", 3))
}

// TestMinifyString verifies progressively aggressive shortening: double
// newlines first, then markdown bold markers, then a hard truncation with
// the limit suffix.
func TestMinifyString(t *testing.T) {
	assert.Equal(t, "fits", minifyString("fits", 100))

	doubled := strings.Repeat("a\n\n", 10)
	minified := minifyString(doubled, 25)
	assert.LessOrEqual(t, utf8.RuneCountInString(minified), 25)
	assert.NotContains(t, minified, "\n\n")

	long := strings.Repeat("要", 300)
	minified = minifyString(long, 100)
	assert.LessOrEqual(t, utf8.RuneCountInString(minified), 100)
	assert.Contains(t, minified, "(output limit reached)")
}

// TestStructToSlogValue verifies json tag keys, log tag redaction, and
// empty-field skipping.
func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Token    string `json:"token" log:"[redacted]"`
		Plain    string `json:"plain"`
		Untagged string
		Empty    string `json:"empty"`
		NilPtr   *inner `json:"nil_ptr"`
		Nested   *inner `json:"nested"`
	}

	v := structToSlogValue(
		sample{
			Token:  "super-secret",
			Plain:  "visible",
			Nested: &inner{Name: "inner-name"},
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, attr := range v.Group() {
		attrs[attr.Key] = attr.Value
	}

	require.Contains(t, attrs, "token")
	assert.Equal(t, "[redacted]", attrs["token"].String())
	assert.NotContains(t, v.String(), "super-secret")

	assert.Equal(t, "visible", attrs["plain"].String())
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "nil_ptr")
	require.Contains(t, attrs, "nested")

	assert.Equal(t, slog.KindAny, structToSlogValue(nil).Kind())
	assert.Equal(t, slog.KindAny, structToSlogValue((*sample)(nil)).Kind())
}

// TestConfigLogValueRedactsSecrets verifies the full config never logs
// tokens or client secrets.
func TestConfigLogValueRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "discord-secret-token"
	cfg.Summarizer.Token = "openai-secret-token"
	cfg.API.Patreon.ClientSecret = "patreon-secret"

	rendered := cfg.LogValue().String()
	assert.NotContains(t, rendered, "discord-secret-token")
	assert.NotContains(t, rendered, "openai-secret-token")
	assert.NotContains(t, rendered, "patreon-secret")
}

// TestStringPointerValue verifies nil handling.
func TestStringPointerValue(t *testing.T) {
	assert.Equal(t, "", stringPointerValue(nil))
	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
}
