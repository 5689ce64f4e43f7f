package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	t.Setenv("SIG_INT", " 42 ")
	t.Setenv("SIG_BAD_INT", "many")
	t.Setenv("SIG_BOOL", "true")
	t.Setenv("SIG_DURATION", "250ms")
	t.Setenv("SIG_STRING", "value")

	assert.Equal(t, 42, GetInt("SIG_INT", 1))
	assert.Equal(t, 1, GetInt("SIG_BAD_INT", 1))
	assert.Equal(t, 7, GetInt("SIG_UNSET", 7))
	assert.True(t, GetBool("SIG_BOOL", false))
	assert.Equal(t, 250*time.Millisecond, GetDuration("SIG_DURATION", time.Second))
	assert.Equal(t, "value", GetString("SIG_STRING", "fallback"))
	assert.Equal(t, "fallback", GetString("SIG_UNSET", "fallback"))
}

func TestGetStringSlice(t *testing.T) {
	t.Setenv("SIG_HOSTS", "a, b ,,c ")

	assert.Equal(t, []string{"a", "b", "c"}, GetStringSlice("SIG_HOSTS", ""))
	assert.Equal(t, []string{"localhost"}, GetStringSlice("SIG_UNSET", "localhost"))
	assert.Nil(t, GetStringSlice("SIG_UNSET", ""))
}

func TestGetStringFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("SIG_SECRET", "from-env")
	assert.Equal(t, "from-env", GetStringFromFile("SIG_SECRET", ""))

	t.Setenv("SIG_SECRET_FILE", path)
	assert.Equal(t, "from-file", GetStringFromFile("SIG_SECRET", ""))

	t.Setenv("SIG_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, "from-env", GetStringFromFile("SIG_SECRET", ""))
}
