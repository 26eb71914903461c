package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	t.Run("Set and parsed", func(t *testing.T) {
		t.Setenv("CONF_TEST_TIMEOUT", "750ms")
		d, err := Getenv(GetenvDuration, "CONF_TEST_TIMEOUT", true, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 750*time.Millisecond, d)
	})

	t.Run("Optional unset yields fallback", func(t *testing.T) {
		n, err := Getenv(GetenvInt, "CONF_TEST_UNSET", false, 42)
		require.NoError(t, err)
		assert.Equal(t, 42, n)
	})

	t.Run("Required unset fails", func(t *testing.T) {
		_, err := Getenv(GetenvString, "CONF_TEST_UNSET", true, "")
		assert.Error(t, err)
	})

	t.Run("Empty counts as unset", func(t *testing.T) {
		t.Setenv("CONF_TEST_EMPTY", "")
		b, err := Getenv(GetenvBool, "CONF_TEST_EMPTY", false, true)
		require.NoError(t, err)
		assert.True(t, b)
	})

	t.Run("Parse failure", func(t *testing.T) {
		t.Setenv("CONF_TEST_INT", "not-a-number")
		_, err := Getenv(GetenvInt, "CONF_TEST_INT", true, 0)
		assert.Error(t, err)
	})
}

func TestMustGetenvPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustGetenv(GetenvString, "CONF_TEST_UNSET", true, "")
	})
}
