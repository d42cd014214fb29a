package templates

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/aymerick/raymond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, tmpl string) string {
	t.Helper()
	NewTemplateEngine()
	out, err := raymond.Render(tmpl, nil)
	require.NoError(t, err)
	return out
}

func TestRandomValueHelper(t *testing.T) {
	t.Run("numeric with length", func(t *testing.T) {
		out := render(t, `{{randomValue type="NUMERIC" length=4}}`)
		assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), out)
	})

	t.Run("uuid", func(t *testing.T) {
		out := render(t, `{{randomValue type="UUID"}}`)
		assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}$`), out)
	})

	t.Run("default alphanumeric", func(t *testing.T) {
		out := render(t, `{{randomValue}}`)
		assert.Len(t, out, 10)
	})
}

func TestNowHelper(t *testing.T) {
	t.Run("unix format", func(t *testing.T) {
		out := render(t, `{{now format="unix"}}`)
		sec, err := strconv.ParseInt(out, 10, 64)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().Unix(), sec, 5)
	})

	t.Run("java date format", func(t *testing.T) {
		out := render(t, `{{now format="yyyy-MM-dd"}}`)
		_, err := time.Parse("2006-01-02", out)
		assert.NoError(t, err)
	})
}

func TestFakerHelper(t *testing.T) {
	out := render(t, `{{faker "Name.first_name"}}`)
	assert.NotEmpty(t, out)
}

func TestParseOffset(t *testing.T) {
	d, err := ParseOffset("3 days")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	d, err = ParseOffset("-30 minutes")
	require.NoError(t, err)
	assert.Equal(t, -30*time.Minute, d)

	_, err = ParseOffset("sometime soon")
	assert.Error(t, err)
}

func TestJavaToGoDateFormat(t *testing.T) {
	assert.Equal(t, "2006-01-02 15:04:05", JavaToGoDateFormat("yyyy-MM-dd HH:mm:ss"))
}
