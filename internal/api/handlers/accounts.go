package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curibio/cloud-core/internal/accounts"
	"github.com/curibio/cloud-core/internal/audit"
	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/scopes"
)

type AccountsHandler struct {
	svc   *accounts.Service
	audit *audit.Service
}

func NewAccountsHandler(svc *accounts.Service, auditSvc *audit.Service) *AccountsHandler {
	return &AccountsHandler{svc: svc, audit: auditSvc}
}

// record writes one audit entry; failures are logged, never surfaced.
func (h *AccountsHandler) record(r *http.Request, claims *auth.Claims, action string, target *uuid.UUID, details map[string]interface{}) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	err := h.audit.Log(r.Context(), audit.LogEntry{
		CustomerID: claims.CustomerID,
		ActorID:    claims.AccountID(),
		Action:     action,
		TargetID:   target,
		Details:    details,
		IPAddress:  ip,
	})
	if err != nil {
		slog.Warn("audit log failed", "action", action, "error", err)
	}
}

type loginRequest struct {
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login authenticates an admin (email) or a user (customer_id +
// username). The token fingerprint travels back in a cookie, never in
// the body.
func (h *AccountsHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		pair *auth.TokenPair
		err  error
	)
	if req.Email != "" {
		pair, err = h.svc.LoginAdmin(r.Context(), req.Email, req.Password)
	} else {
		pair, err = h.svc.LoginUser(r.Context(), req.CustomerID, req.Username, req.Password)
	}
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		slog.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	setFingerprintCookie(w, pair.Fingerprint)
	writeJSON(w, http.StatusOK, tokenResponse{Access: pair.Access, Refresh: pair.Refresh})
}

// Refresh rotates the token pair. The bearer token presented here is the
// refresh token itself and must match the one on file.
func (h *AccountsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	presented := bearerToken(r)

	pair, err := h.svc.Refresh(r.Context(), claims, presented)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	setFingerprintCookie(w, pair.Fingerprint)
	writeJSON(w, http.StatusCreated, tokenResponse{Access: pair.Access, Refresh: pair.Refresh})
}

func (h *AccountsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), claims); err != nil {
		slog.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	clearFingerprintCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Scopes   []string `json:"scopes"`
}

// Register creates a user under the calling admin's customer. The
// returned account is unverified until the emailed link is followed.
func (h *AccountsHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scopeSet, err := parseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, verifyToken, err := h.svc.RegisterUser(r.Context(), claims, req.Email, req.Username, scopeSet)
	if err != nil {
		var prohibited *scopes.ProhibitedScopeError
		if errors.As(err, &prohibited) {
			writeError(w, http.StatusForbidden, prohibited.Error())
			return
		}
		slog.Error("register failed", "error", err)
		writeError(w, http.StatusBadRequest, "could not create account")
		return
	}

	h.record(r, claims, "user.register", &account.ID, map[string]interface{}{
		"email":    account.Email,
		"username": account.Name,
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"account":      account,
		"verify_token": verifyToken,
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Verify activates an account using a single-scope emailed token.
func (h *AccountsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Verify(r.Context(), claims, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "verification failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Username   string `json:"username,omitempty"`
}

// RequestReset issues a single-scope reset token for an admin (by email)
// or a user (by customer alias + username). The token would normally
// travel by email; mail delivery is handled outside this service.
func (h *AccountsHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" && (req.CustomerID == "" || req.Username == "") {
		writeError(w, http.StatusBadRequest, "email or customer_id and username required")
		return
	}

	token, err := h.svc.RequestPasswordReset(r.Context(), req.Email, req.CustomerID, req.Username)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		slog.Error("reset request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue reset token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"reset_token": token})
}

// ResetPassword redeems a reset token. The bearer token presented here
// must be the issued reset token itself; it redeems once.
func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	presented := bearerToken(r)

	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ResetPassword(r.Context(), claims, presented, req.Password); err != nil {
		if errors.Is(err, accounts.ErrPasswordReuse) {
			writeError(w, http.StatusBadRequest, "password was used recently")
			return
		}
		if errors.Is(err, accounts.ErrResetTokenStale) {
			writeError(w, http.StatusUnauthorized, "reset token no longer valid")
			return
		}
		slog.Error("password reset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "password reset failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) GetScopes(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	scopeSet, err := h.svc.GetScopes(r.Context(), claims.CustomerID, claims.UserID)
	if err != nil {
		slog.Error("get scopes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read scopes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scopes": scopeSet})
}

type setScopesRequest struct {
	Scopes []string `json:"scopes"`
}

func (h *AccountsHandler) SetUserScopes(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req setScopesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scopeSet, err := parseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetUserScopes(r.Context(), claims, userID, scopeSet); err != nil {
		var prohibited *scopes.ProhibitedScopeError
		if errors.As(err, &prohibited) {
			writeError(w, http.StatusForbidden, prohibited.Error())
			return
		}
		slog.Error("set user scopes failed", "error", err)
		writeError(w, http.StatusBadRequest, "could not update scopes")
		return
	}

	h.record(r, claims, "scopes.update", &userID, map[string]interface{}{"scopes": req.Scopes})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) SetAdminScopes(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	customerID, err := uuid.Parse(chi.URLParam(r, "customer_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	var req setScopesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scopeSet, err := parseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetAdminScopes(r.Context(), claims, customerID, scopeSet); err != nil {
		var prohibited *scopes.ProhibitedScopeError
		if errors.As(err, &prohibited) {
			writeError(w, http.StatusForbidden, prohibited.Error())
			return
		}
		slog.Error("set admin scopes failed", "error", err)
		writeError(w, http.StatusBadRequest, "could not update scopes")
		return
	}

	h.record(r, claims, "admin_scopes.update", &customerID, map[string]interface{}{"scopes": req.Scopes})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	users, err := h.svc.ListUsers(r.Context(), claims)
	if err != nil {
		slog.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// AuditLogs returns the customer's account-administration trail.
func (h *AccountsHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	q := audit.Query{Action: r.URL.Query().Get("action")}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date")
			return
		}
		q.StartDate = &t
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date")
			return
		}
		q.EndDate = &t
	}

	records, err := h.audit.List(r.Context(), claims.CustomerID, q)
	if err != nil {
		slog.Error("list audit logs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": records})
}

func parseScopes(raw []string) ([]scopes.Scope, error) {
	parsed := make([]scopes.Scope, 0, len(raw))
	for _, s := range raw {
		sc, err := scopes.Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, sc)
	}
	return parsed, nil
}

func setFingerprintCookie(w http.ResponseWriter, plain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.FingerprintCookie,
		Value:    plain,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearFingerprintCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.FingerprintCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
