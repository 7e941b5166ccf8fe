package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgrid/internal/config"
	"pixelgrid/internal/identity"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-c", "pixelgrid.yaml", "--env-file", "prod.env", "--token-ttl", "1h"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "pixelgrid.yaml", opts.configFile)
	assert.Equal(t, "prod.env", opts.envFile)
	assert.Equal(t, time.Hour, opts.tokenTTL)

	_, err = parseFlags([]string{"serve"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--help"}, &out))
	assert.Contains(t, out.String(), "--mint-token")
}

func TestRunMintToken(t *testing.T) {
	t.Setenv("PIXELGRID_AUTH_JWT_SECRET", "mint-secret")
	t.Setenv("PIXELGRID_AUTH_JWT_ISSUER", "pixelgrid-test")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--mint-token", "user-42", "--token-ttl", "5m"}, &out))

	verifier, err := identity.NewJWTVerifier("mint-secret", "pixelgrid-test")
	require.NoError(t, err)
	userID, err := verifier.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestRunMintTokenRequiresJWTMode(t *testing.T) {
	t.Setenv("PIXELGRID_AUTH_MODE", config.AuthModeDev)

	err := run([]string{"--mint-token", "user-42"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("PIXELGRID_AUTH_MODE", config.AuthModeJWT)
	t.Setenv("PIXELGRID_AUTH_JWT_SECRET", "")

	err := run(nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
