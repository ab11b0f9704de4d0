package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxlinehq/boxline-backend/pkg/config"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{
	Secret:            "test-secret",
	Issuer:            "boxline-test",
	ExpirationMinutes: 60,
}

func TestMintAndParseRoundtrip(t *testing.T) {
	now := time.Now().UTC()
	token, err := MintAccessToken(testJWTConfig, now, AccessTokenPayload{
		UserID: "user-1",
		BoxID:  "box-1",
		Role:   enums.MemberRoleOwner,
		Admin:  true,
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testJWTConfig, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "box-1", claims.BoxID)
	assert.Equal(t, enums.MemberRoleOwner, claims.Role)
	assert.True(t, claims.Admin)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig, time.Now().UTC(), AccessTokenPayload{
		UserID: "user-1",
		Role:   enums.MemberRoleCoach,
	})
	require.NoError(t, err)

	other := testJWTConfig
	other.Secret = "different"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Hour)
	token, err := MintAccessToken(testJWTConfig, past, AccessTokenPayload{
		UserID: "user-1",
		Role:   enums.MemberRoleAthlete,
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWTConfig, token)
	assert.Error(t, err)
}

func TestMintRejectsInvalidRole(t *testing.T) {
	_, err := MintAccessToken(testJWTConfig, time.Now().UTC(), AccessTokenPayload{
		UserID: "user-1",
		Role:   enums.MemberRole("visitor"),
	})
	assert.Error(t, err)
}
