package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const downloadAudience = "export-download"

// DownloadClaims identify one stored export.
type DownloadClaims struct {
	OrganizationID string `json:"org"`
	Path           string `json:"path"`
	jwt.RegisteredClaims
}

// DownloadSigner mints and verifies short-lived download tokens.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadSigner constructs a signer. A non-positive ttl defaults to one day.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL reports how long minted tokens stay valid.
func (s *DownloadSigner) TTL() time.Duration { return s.ttl }

// Sign returns a token granting access to path on behalf of the organization.
func (s *DownloadSigner) Sign(exportID, organizationID, path string) (string, time.Time, error) {
	if exportID == "" || organizationID == "" || path == "" {
		return "", time.Time{}, errors.New("export id, organization and path are required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret missing")
	}
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)
	claims := DownloadClaims{
		OrganizationID: organizationID,
		Path:           path,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        exportID,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies the signature and expiry of a download token.
func (s *DownloadSigner) Parse(raw string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(downloadAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify download token: %w", err)
	}
	if claims.Path == "" || claims.OrganizationID == "" {
		return nil, errors.New("download token is missing its target")
	}
	return claims, nil
}
