package gcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CIF_TEST_SET", "value")
	t.Setenv("CIF_TEST_EMPTY", "")

	assert.Equal(t, "value", GetEnv("CIF_TEST_SET", "fallback"))
	assert.Equal(t, "", GetEnv("CIF_TEST_EMPTY", "fallback"), "an empty value is still set")
	assert.Equal(t, "fallback", GetEnv("CIF_TEST_UNSET", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CIF_TEST_INT", "42")
	t.Setenv("CIF_TEST_BAD_INT", "forty")
	t.Setenv("CIF_TEST_EMPTY_INT", "")

	v, err := GetEnvInt("CIF_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = GetEnvInt("CIF_TEST_EMPTY_INT", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = GetEnvInt("CIF_TEST_BAD_INT", 1)
	assert.ErrorContains(t, err, "CIF_TEST_BAD_INT must be an integer")
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CIF_TEST_DURATION", "90s")
	t.Setenv("CIF_TEST_BAD_DURATION", "soon")

	d, err := GetEnvDuration("CIF_TEST_DURATION", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = GetEnvDuration("CIF_TEST_UNSET_DURATION", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = GetEnvDuration("CIF_TEST_BAD_DURATION", time.Minute)
	assert.Error(t, err)
}
