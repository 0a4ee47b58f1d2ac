package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

func newTestTokenService() *TokenService {
	return NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity", Audience: "fleet-compliance"})
}

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := newTestTokenService()
	token, err := svc.Issue("user-1", testOrg, models.RoleComplianceOfficer, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, testOrg, claims.OrganizationID)
	assert.Equal(t, models.RoleComplianceOfficer, claims.Role)

	scope := models.ScopeFromClaims(claims)
	assert.Equal(t, models.Scope{OrganizationID: testOrg, ActorID: "user-1", Role: models.RoleComplianceOfficer}, scope)
}

func TestTokenServiceRejectsInvalidTokens(t *testing.T) {
	svc := newTestTokenService()

	expired, err := svc.Issue("user-1", testOrg, models.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	foreign := NewTokenService(TokenConfig{Secret: "secret", Issuer: "someone-else", Audience: "fleet-compliance"})
	token, err := foreign.Issue("user-1", testOrg, models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	unscoped, err := svc.Issue("user-1", "", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unscoped)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	badRole, err := svc.Issue("user-1", testOrg, models.UserRole("SUPERUSER"), time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(badRole)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestTokenServiceRejectsOtherAlgorithms(t *testing.T) {
	svc := newTestTokenService()
	claims := &models.JWTClaims{
		UserID:         "user-1",
		OrganizationID: testOrg,
		Role:           models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "identity",
			Audience:  jwt.ClaimStrings{"fleet-compliance"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
