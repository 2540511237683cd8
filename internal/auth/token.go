package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token classes. The class claim prevents a refresh token from being
// presented where an access token is expected and vice versa.
const (
	tokenClassAccess  = "access"
	tokenClassRefresh = "refresh"
)

// Claims carried by corebank tokens. Access tokens embed the permission
// snapshot so request-path verification needs no database round-trip.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	CustomerID  string   `json:"customer_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenClass  string   `json:"token_class"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies both token classes with an HS256 secret.
// Access verification is stateless; refresh verification additionally
// requires the persisted record lookup done by the Service.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer. The secret must be non-empty.
func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration, now func() time.Time) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// IssueAccessToken signs a short-lived token embedding the principal's
// permission snapshot. Returns the token and its expiry.
func (i *Issuer) IssueAccessToken(p Principal, jti string) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		Username:    p.Username,
		Email:       p.Email,
		CustomerID:  p.CustomerID,
		Roles:       p.Roles,
		Permissions: p.PermissionList(),
		TokenClass:  tokenClassAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a long-lived token carrying only the subject and
// the record id; the permission snapshot deliberately stays out of it.
func (i *Issuer) IssueRefreshToken(userID, jti string) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := Claims{
		TokenClass: tokenClassRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature and expiry, then reconstructs the
// principal from the embedded snapshot. No store access happens here.
func (i *Issuer) VerifyAccessToken(token string) (Principal, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenClass != tokenClassAccess {
		return Principal{}, ErrTokenMalformed
	}
	set := make(map[string]struct{}, len(claims.Permissions))
	for _, key := range claims.Permissions {
		set[key] = struct{}{}
	}
	return Principal{
		UserID:      claims.Subject,
		Username:    claims.Username,
		Email:       claims.Email,
		CustomerID:  claims.CustomerID,
		Roles:       claims.Roles,
		Permissions: set,
	}, nil
}

// VerifyRefreshToken checks signature and expiry and returns the subject
// and the persisted record id. The revocation check against the record is
// the caller's responsibility.
func (i *Issuer) VerifyRefreshToken(token string) (userID, jti string, err error) {
	claims, err := i.parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.TokenClass != tokenClassRefresh {
		return "", "", ErrTokenMalformed
	}
	if claims.ID == "" {
		return "", "", ErrTokenMalformed
	}
	return claims.Subject, claims.ID, nil
}

func (i *Issuer) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			// Wraps ErrTokenMalformed: distinct internally, identical on
			// the wire.
			return nil, ErrInvalidSignature
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
