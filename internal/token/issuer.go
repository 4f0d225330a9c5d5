package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/segmentio/ksuid"
)

// ErrInvalid covers malformed, tampered, expired and wrong-type tokens alike.
var ErrInvalid = errors.New("token invalid")

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the payload of both token types.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Identity is the subject a token pair is issued for.
type Identity struct {
	UserID   string
	Username string
	Email    string
}

// Pair is an access/refresh token pair and their expiries.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Config holds signing secrets and lifetimes. Access and refresh tokens are
// signed with separate secrets so one cannot be forged from the other.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// Leeway is the clock skew tolerated on exp/iat. Zero means strict.
	Leeway time.Duration
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	cfg   Config
	clock clockwork.Clock
}

func NewIssuer(cfg Config, clock clockwork.Clock) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{cfg: cfg, clock: clock}, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.cfg.AccessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// Issue signs claims with secret, stamping iat, exp and a unique jti.
func (i *Issuer) Issue(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = ksuid.New().String()
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	if claims.Issuer == "" {
		claims.Issuer = i.cfg.Issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssuePair issues an access and a refresh token for the same identity.
func (i *Issuer) IssuePair(id Identity) (*Pair, error) {
	base := Claims{UserID: id.UserID, Username: id.Username, Email: id.Email}

	access := base
	access.Type = TypeAccess
	at, err := i.Issue(access, i.cfg.AccessSecret, i.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh := base
	refresh.Type = TypeRefresh
	rt, err := i.Issue(refresh, i.cfg.RefreshSecret, i.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	return &Pair{
		AccessToken:      at,
		RefreshToken:     rt,
		AccessExpiresAt:  now.Add(i.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(i.cfg.RefreshTTL),
	}, nil
}

// Verify checks signature and expiry. Every failure is ErrInvalid.
func (i *Issuer) Verify(tokenStr string, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.cfg.Leeway),
		jwt.WithTimeFunc(i.clock.Now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !tok.Valid || claims.UserID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyAccess verifies with the access secret and requires typ=access.
func (i *Issuer) VerifyAccess(tokenStr string) (*Claims, error) {
	return i.verifyType(tokenStr, i.cfg.AccessSecret, TypeAccess)
}

// VerifyRefresh verifies with the refresh secret and requires typ=refresh.
func (i *Issuer) VerifyRefresh(tokenStr string) (*Claims, error) {
	return i.verifyType(tokenStr, i.cfg.RefreshSecret, TypeRefresh)
}

func (i *Issuer) verifyType(tokenStr string, secret []byte, typ string) (*Claims, error) {
	claims, err := i.Verify(tokenStr, secret)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Inspect decodes claims WITHOUT checking the signature or expiry. It is only
// used to locate the refresh allowlist key on logout.
func Inspect(tokenStr string) (*Claims, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// AccessExpiry returns the exp claim of an access token whose signature,
// issuer and type check out, whether or not it has already expired.
func (i *Issuer) AccessExpiry(tokenStr string) (time.Time, bool) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return i.cfg.AccessSecret, nil
	})
	if err != nil || !tok.Valid || claims.Type != TypeAccess || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	if i.cfg.Issuer != "" && claims.Issuer != i.cfg.Issuer {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
