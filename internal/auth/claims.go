package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes used when the configuration leaves them unset.
const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// refreshPurpose marks a refresh token. Access tokens carry no purpose.
const refreshPurpose = "refresh"

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	NumeroCliente string `json:"numeroCliente"`
	Email         string `json:"email"`
	Role          Role   `json:"role"`
	Type          Kind   `json:"type"`
	Estado        string `json:"estado"`
}

// Principal returns the request identity described by the claims.
func (c *AccessClaims) Principal() Principal {
	return Principal{
		ID:            c.Subject,
		Role:          c.Role,
		Kind:          c.Type,
		Email:         c.Email,
		NumeroCliente: c.NumeroCliente,
	}
}

// RefreshClaims are the claims embedded in a refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// Profile is the kind-independent projection of an account, used for
// token claims and the /auth/me response. It never carries a password.
type Profile struct {
	ID               string     `json:"id"`
	Nombre           string     `json:"nombre"`
	Email            string     `json:"email"`
	NumeroCliente    string     `json:"numeroCliente"`
	Type             Kind       `json:"type"`
	Role             Role       `json:"role"`
	Estado           string     `json:"estado"`
	Telefono         string     `json:"telefono,omitempty"`
	PasswordTemporal bool       `json:"passwordTemporal,omitempty"`
	UltimoAcceso     *time.Time `json:"ultimoAcceso,omitempty"`
}

// TokenConfig holds the signing material and lifetimes for the issuer.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// SuperUserRole is the role label given to SuperUser tokens.
	SuperUserRole Role
}

// TokenIssuer signs and verifies access and refresh tokens. The two token
// classes use separate secrets, so neither secret can forge the other class.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if !cfg.SuperUserRole.IsSuperUser() {
		cfg.SuperUserRole = RoleSuperAdmin
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (ti *TokenIssuer) SetClock(now func() time.Time) {
	ti.now = now
}

// RoleFor returns the role label for an account kind.
func (ti *TokenIssuer) RoleFor(kind Kind) Role {
	switch kind {
	case KindSuperUser:
		return ti.cfg.SuperUserRole
	case KindCompany:
		return RoleCompany
	default:
		return RoleClient
	}
}

// Normalize projects an account into a Profile.
func (ti *TokenIssuer) Normalize(acct Account) Profile {
	creds := acct.Credentials()
	p := Profile{
		ID:            creds.ID,
		Nombre:        acct.DisplayName(),
		Email:         creds.Email,
		NumeroCliente: creds.NumeroCliente,
		Type:          acct.Kind(),
		Role:          ti.RoleFor(acct.Kind()),
		Estado:        acct.Status(),
		UltimoAcceso:  acct.LastAccess(),
	}

	switch a := acct.(type) {
	case *Client:
		p.Telefono = a.Telefono
		p.PasswordTemporal = a.PasswordTemporal != ""
	case *Company:
		p.Telefono = a.Telefono
		p.PasswordTemporal = a.PasswordTemporal
	}
	return p
}

// IssueAccessToken signs an access token for the profile.
func (ti *TokenIssuer) IssueAccessToken(p Profile) (string, error) {
	now := ti.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    ti.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
		NumeroCliente: p.NumeroCliente,
		Email:         p.Email,
		Role:          ti.RoleFor(p.Type),
		Type:          p.Type,
		Estado:        p.Estado,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ti.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token for the profile.
func (ti *TokenIssuer) IssueRefreshToken(p Profile) (string, error) {
	now := ti.now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    ti.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.cfg.RefreshTTL)),
			ID:        uuid.NewString(),
		},
		Purpose: refreshPurpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ti.cfg.RefreshSecret))
	if err != nil {
		return "", fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature and expiry and returns the claims.
// ErrTokenExpired is returned for a well-signed token past its expiry.
func (ti *TokenIssuer) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ti.parse(tokenString, claims, ti.cfg.AccessSecret); err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Role == "" || !claims.Type.Valid() {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyRefreshToken checks signature, expiry and purpose.
func (ti *TokenIssuer) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ti.parse(tokenString, claims, ti.cfg.RefreshSecret); err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Purpose != refreshPurpose {
		return nil, fmt.Errorf("%w: wrong purpose", ErrTokenInvalid)
	}
	return claims, nil
}

func (ti *TokenIssuer) parse(tokenString string, claims jwt.Claims, secret string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	}
	if ti.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ti.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
