package auth

import (
	"errors"
	"time"
)

// Kind identifies which of the three account tables an account lives in.
type Kind string

const (
	// KindClient is an end customer. May log in with a temporary
	// plaintext password until the first change.
	KindClient Kind = "cliente"

	// KindCompany is a business account that manages a list of clients.
	KindCompany Kind = "empresa"

	// KindSuperUser is a platform operator.
	KindSuperUser Kind = "superusuario"
)

// ResolutionOrder is the fixed precedence used when a credential could
// match more than one kind. First match wins.
var ResolutionOrder = []Kind{KindClient, KindCompany, KindSuperUser}

// Valid reports whether k is one of the known account kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindClient, KindCompany, KindSuperUser:
		return true
	}
	return false
}

// Role is the label carried in access-token claims.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleCompany    Role = "empresa"
	RoleClient     Role = "cliente"
)

// IsSuperUser reports whether the role belongs to a SuperUser account.
// Both labels are accepted so tokens survive a superuser_role change.
func (r Role) IsSuperUser() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Company status values. Client and SuperUser accounts expose the first
// and last of these through Account.Status.
const (
	StatusActive    = "activo"
	StatusSuspended = "suspendido"
	StatusInactive  = "inactivo"
)

// Credentials is the sub-shape shared by every account kind.
type Credentials struct {
	ID            string
	Email         string
	NumeroCliente string
	PasswordHash  string
}

// Account is implemented by *Client, *Company and *SuperUser.
// Code that needs kind-specific fields uses a type switch.
type Account interface {
	Kind() Kind
	Credentials() Credentials
	DisplayName() string
	// Status is "activo", "suspendido" or "inactivo".
	Status() string
	Active() bool
	LastAccess() *time.Time
}

// Client is an end customer account.
type Client struct {
	ID               string     `json:"id"`
	Nombre           string     `json:"nombre"`
	Email            string     `json:"email"`
	NumeroCliente    string     `json:"numeroCliente"`
	PasswordHash     string     `json:"-"`
	PasswordTemporal string     `json:"-"`
	Activo           bool       `json:"activo"`
	Telefono         string     `json:"telefono,omitempty"`
	UltimoAcceso     *time.Time `json:"ultimoAcceso,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (c *Client) Kind() Kind { return KindClient }

func (c *Client) Credentials() Credentials {
	return Credentials{ID: c.ID, Email: c.Email, NumeroCliente: c.NumeroCliente, PasswordHash: c.PasswordHash}
}

func (c *Client) DisplayName() string    { return c.Nombre }
func (c *Client) Status() string         { return activeStatus(c.Activo) }
func (c *Client) Active() bool           { return c.Activo }
func (c *Client) LastAccess() *time.Time { return c.UltimoAcceso }

// Company is a business account. PasswordTemporal flags a password that
// was set by an administrator and should be changed on next login.
type Company struct {
	ID               string     `json:"id"`
	NombreEmpresa    string     `json:"nombreEmpresa"`
	Email            string     `json:"email"`
	NumeroCliente    string     `json:"numeroCliente"`
	PasswordHash     string     `json:"-"`
	PasswordTemporal bool       `json:"passwordTemporal"`
	Estado           string     `json:"estado"`
	Telefono         string     `json:"telefono,omitempty"`
	UltimoAcceso     *time.Time `json:"ultimoAcceso,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (c *Company) Kind() Kind { return KindCompany }

func (c *Company) Credentials() Credentials {
	return Credentials{ID: c.ID, Email: c.Email, NumeroCliente: c.NumeroCliente, PasswordHash: c.PasswordHash}
}

func (c *Company) DisplayName() string    { return c.NombreEmpresa }
func (c *Company) Status() string         { return c.Estado }
func (c *Company) Active() bool           { return c.Estado == StatusActive }
func (c *Company) LastAccess() *time.Time { return c.UltimoAcceso }

// SuperUser is a platform operator account.
type SuperUser struct {
	ID            string     `json:"id"`
	Nombre        string     `json:"nombre"`
	Email         string     `json:"email"`
	NumeroCliente string     `json:"numeroCliente"`
	PasswordHash  string     `json:"-"`
	Activo        bool       `json:"activo"`
	UltimoAcceso  *time.Time `json:"ultimoAcceso,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (s *SuperUser) Kind() Kind { return KindSuperUser }

func (s *SuperUser) Credentials() Credentials {
	return Credentials{ID: s.ID, Email: s.Email, NumeroCliente: s.NumeroCliente, PasswordHash: s.PasswordHash}
}

func (s *SuperUser) DisplayName() string    { return s.Nombre }
func (s *SuperUser) Status() string         { return activeStatus(s.Activo) }
func (s *SuperUser) Active() bool           { return s.Activo }
func (s *SuperUser) LastAccess() *time.Time { return s.UltimoAcceso }

func activeStatus(active bool) string {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// RecoveryToken authorises one password reset for one account.
type RecoveryToken struct {
	ID          string    `json:"id"`
	Token       string    `json:"-"` // never serialised
	AccountID   string    `json:"account_id"`
	AccountKind Kind      `json:"account_kind"`
	Used        bool      `json:"used"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Redeemable reports whether the token is unused and not yet expired.
func (t *RecoveryToken) Redeemable(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID            string
	Role          Role
	Kind          Kind
	Email         string
	NumeroCliente string
}

// IsSuperUser reports whether the principal holds a SuperUser role.
func (p Principal) IsSuperUser() bool { return p.Role.IsSuperUser() }

// Sentinel errors for auth operations.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrTokenExpired         = errors.New("token has expired")
	ErrTokenInvalid         = errors.New("invalid token")
	ErrRecoveryTokenInvalid = errors.New("recovery token invalid or expired")
	ErrWeakPassword         = errors.New("password does not meet policy")
	ErrUnknownKind          = errors.New("unknown account kind")
)
