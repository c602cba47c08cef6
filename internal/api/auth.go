package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/devicehub-core/internal/audit"
	"github.com/nerrad567/devicehub-core/internal/auth"
)

// Client-facing messages.
const (
	msgInvalidCredentials = "credenciales inválidas"
	msgRecoveryGeneric    = "si la cuenta existe, se enviaron instrucciones para restablecer la contraseña"
	msgRecoveryInvalid    = "token inválido o expirado"
)

// Login outcome labels for metrics, events and the audit trail.
const (
	loginSuccess      = "success"
	loginUnknown      = "unknown_account"
	loginInactive     = "inactive"
	loginBadPassword  = "bad_password"
	loginInternalFail = "error"
)

// loginRequest is the request body for POST /auth/login. Email may also
// hold a client number.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	Token                  string       `json:"token"`
	RefreshToken           string       `json:"refreshToken"`
	User                   auth.Profile `json:"user"`
	RequiresPasswordChange bool         `json:"requiresPasswordChange,omitempty"`
}

type changePasswordRequest struct {
	PasswordActual string `json:"passwordActual"`
	PasswordNueva  string `json:"passwordNueva"`
}

type recoveryRequest struct {
	EmailOrNumeroCliente string `json:"emailOrNumeroCliente"`
}

type redeemRequest struct {
	Token         string `json:"token"`
	NuevaPassword string `json:"nuevaPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// handleLogin authenticates any account kind and returns an access token,
// a refresh token and the normalised profile.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email y contraseña son requeridos")
		return
	}

	acct, err := s.resolver.Resolve(ctx, req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			s.recordLogin(ctx, nil, loginUnknown)
			writeUnauthorized(w, msgInvalidCredentials)
			return
		}
		s.recordLogin(ctx, nil, loginInternalFail)
		s.internalError(w, r, "failed to resolve account", err)
		return
	}

	// Status is checked before the password so a suspended company learns
	// its status without a hash comparison.
	if !acct.Active() {
		s.recordLogin(ctx, acct, loginInactive)
		if acct.Kind() == auth.KindCompany {
			writeErrorData(w, http.StatusForbidden, ErrCodeForbidden,
				"la cuenta de empresa está "+acct.Status(),
				map[string]any{
					"estado": acct.Status(),
					"type":   acct.Kind(),
				})
			return
		}
		writeUnauthorized(w, "cuenta inactiva")
		return
	}

	ok, err := s.passwords.Verify(ctx, acct, req.Password)
	if err != nil {
		s.recordLogin(ctx, acct, loginInternalFail)
		s.internalError(w, r, "failed to verify password", err)
		return
	}
	if !ok {
		s.recordLogin(ctx, acct, loginBadPassword)
		writeUnauthorized(w, msgInvalidCredentials)
		return
	}

	profile := s.tokens.Normalize(acct)
	token, refresh, err := s.issueTokens(profile)
	if err != nil {
		s.recordLogin(ctx, acct, loginInternalFail)
		s.internalError(w, r, "failed to issue tokens", err)
		return
	}

	if err := s.accounts.TouchLastAccess(ctx, acct.Kind(), profile.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last access",
			"account_kind", string(acct.Kind()),
			"account_id", profile.ID,
			"error", err,
		)
	}

	s.recordLogin(ctx, acct, loginSuccess)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:                  token,
		RefreshToken:           refresh,
		User:                   profile,
		RequiresPasswordChange: profile.PasswordTemporal,
	})
}

func (s *Server) issueTokens(p auth.Profile) (string, string, error) {
	token, err := s.tokens.IssueAccessToken(p)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.IssueRefreshToken(p)
	if err != nil {
		return "", "", err
	}
	return token, refresh, nil
}

// recordLogin feeds a login outcome to metrics, the event store, the log
// and the audit trail. acct is nil when no account matched.
func (s *Server) recordLogin(ctx context.Context, acct auth.Account, outcome string) {
	kind, id, role := "unknown", "", ""
	if acct != nil {
		kind = string(acct.Kind())
		id = acct.Credentials().ID
		role = string(s.tokens.RoleFor(acct.Kind()))
	}

	s.metrics.logins.WithLabelValues(kind, outcome).Inc()
	s.events.WriteAuthEvent("login", role, outcome, id)

	if outcome == loginSuccess {
		s.logger.Info("login succeeded", "account_kind", kind, "account_id", id)
	} else {
		s.logger.Warn("login failed", "account_kind", kind, "account_id", id, "reason", outcome)
	}

	entry := &audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: kind,
		EntityID:   id,
		ActorID:    id,
		ActorRole:  role,
		Outcome:    audit.OutcomeSuccess,
	}
	if outcome != loginSuccess {
		entry.Outcome = audit.OutcomeFailure
		entry.Details = map[string]any{"reason": outcome}
	}
	s.auditLog(ctx, entry)
}

// handleLogout acknowledges a logout. Tokens are stateless and stay valid
// until they expire; the client discards them.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "sesión cerrada"})
}

// handleMe returns the profile of the authenticated account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.currentAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": s.tokens.Normalize(acct)})
}

// currentAccount loads the account behind the request principal, writing
// 401, 404 or 403 when it is missing, gone or no longer active.
func (s *Server) currentAccount(w http.ResponseWriter, r *http.Request) (auth.Account, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeUnauthorized(w, "autenticación requerida")
		return nil, false
	}

	acct, err := s.accounts.GetByID(r.Context(), p.Kind, p.ID)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "usuario no encontrado")
			return nil, false
		}
		s.internalError(w, r, "failed to load account", err)
		return nil, false
	}
	if !acct.Active() {
		writeForbidden(w, "cuenta inactiva")
		return nil, false
	}
	return acct, true
}

// handleChangePassword replaces the password of the authenticated account
// after checking the current one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PasswordActual == "" || req.PasswordNueva == "" {
		writeBadRequest(w, "contraseña actual y nueva son requeridas")
		return
	}

	acct, ok := s.currentAccount(w, r)
	if !ok {
		return
	}

	valid, err := s.passwords.Verify(r.Context(), acct, req.PasswordActual)
	if err != nil {
		s.internalError(w, r, "failed to verify password", err)
		return
	}
	if !valid {
		s.auditPasswordChange(r.Context(), acct, audit.OutcomeFailure, "wrong_current_password")
		writeError(w, http.StatusBadRequest, ErrCodeInvalidCurrentPassword, "la contraseña actual es incorrecta")
		return
	}

	if err := s.passwords.ChangePassword(r.Context(), acct, req.PasswordNueva); err != nil {
		var policyErr *auth.PolicyError
		if errors.As(err, &policyErr) {
			writeBadRequest(w, policyErr.Reason)
			return
		}
		s.internalError(w, r, "failed to change password", err)
		return
	}

	s.auditPasswordChange(r.Context(), acct, audit.OutcomeSuccess, "")
	s.logger.Info("password changed",
		"account_kind", string(acct.Kind()),
		"account_id", acct.Credentials().ID,
	)
	writeJSON(w, http.StatusOK, map[string]string{"message": "contraseña actualizada"})
}

func (s *Server) auditPasswordChange(ctx context.Context, acct auth.Account, outcome, reason string) {
	entry := &audit.Entry{
		Action:     audit.ActionPasswordChange,
		EntityType: string(acct.Kind()),
		EntityID:   acct.Credentials().ID,
		Outcome:    outcome,
	}
	if reason != "" {
		entry.Details = map[string]any{"reason": reason}
	}
	s.auditLog(ctx, entry)
}

// handleRequestRecovery starts a password reset. The response is the same
// whether or not the account exists.
func (s *Server) handleRequestRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmailOrNumeroCliente) == "" {
		writeBadRequest(w, "email o número de cliente requerido")
		return
	}

	outcome := s.recovery.Request(r.Context(), req.EmailOrNumeroCliente)
	s.metrics.recoveryRequests.WithLabelValues(string(outcome)).Inc()
	s.events.WriteAuthEvent("recovery_request", "", string(outcome), "")

	writeJSON(w, http.StatusOK, map[string]string{"message": msgRecoveryGeneric})
}

// handleRedeemRecovery sets a new password using a recovery token.
func (s *Server) handleRedeemRecovery(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" || req.NuevaPassword == "" {
		writeBadRequest(w, "token y nueva contraseña son requeridos")
		return
	}

	res, err := s.recovery.Redeem(r.Context(), req.Token, req.NuevaPassword)
	if err != nil {
		var policyErr *auth.PolicyError
		switch {
		case errors.Is(err, auth.ErrRecoveryTokenInvalid):
			s.events.WriteAuthEvent("recovery_redeem", "", "invalid_token", "")
			writeBadRequest(w, msgRecoveryInvalid)
		case errors.As(err, &policyErr):
			writeBadRequest(w, policyErr.Reason)
		default:
			s.internalError(w, r, "failed to redeem recovery token", err)
		}
		return
	}

	s.events.WriteAuthEvent("recovery_redeem", string(s.tokens.RoleFor(res.Kind)), string(auth.RecoveryRedeemed), "")
	s.auditLog(r.Context(), &audit.Entry{
		Action:     audit.ActionRecoveryRedeem,
		EntityType: string(res.Kind),
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]any{"numero_cliente": res.NumeroCliente},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "contraseña restablecida",
		"data":    res,
	})
}

// handleRefreshToken exchanges a refresh token for a new access token.
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh token requerido")
		return
	}

	claims, err := s.tokens.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		writeUnauthorized(w, "refresh token inválido o expirado")
		return
	}

	acct, err := s.accounts.FindByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeUnauthorized(w, "usuario no encontrado")
			return
		}
		s.internalError(w, r, "failed to load account", err)
		return
	}
	if !acct.Active() {
		writeUnauthorized(w, "cuenta inactiva")
		return
	}

	token, err := s.tokens.IssueAccessToken(s.tokens.Normalize(acct))
	if err != nil {
		s.internalError(w, r, "failed to issue access token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
