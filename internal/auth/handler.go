package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/token"
	"github.com/freddennis10/astra-app-sub001/internal/user/entity"
)

const (
	forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."
	logoutMessage         = "Logged out."
	maxBodyBytes          = 1 << 20
)

// Handler exposes the auth HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type registerResponse struct {
	User    *entity.PublicUser `json:"user"`
	Message string             `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, registerResponse{
		User:    u,
		Message: "Registration successful. Check your email to verify your account.",
	})
}

// LoginRequest login payload. Identifier is a username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int64              `json:"expires_in"`
	User         *entity.PublicUser `json:"user,omitempty"`
}

func (h *Handler) pairResponse(p *token.Pair, u *entity.PublicUser) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.svc.tokens.AccessTTL() / time.Second),
		User:         u,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.pairResponse(res.Tokens, res.User))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout accepts an optional bearer access token and an optional refresh
// token in the body. It always answers 200.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	}
	access, _ := bearerToken(r)
	_ = h.svc.Logout(r.Context(), access, req.RefreshToken)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": logoutMessage})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.pairResponse(pair, nil))
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset. Please log in again."})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified."})
}

type validateResponse struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate introspects a bearer access token for other services.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	access, _ := bearerToken(r)
	claims, err := h.svc.Authenticate(r.Context(), access)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return false
	}
	return true
}

type errorBody struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// writeError maps service errors to status codes. Bodies never carry
// internal error text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, ErrConflict):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "username or email already registered"})
	case errors.Is(err, ErrInvalidCredentials):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, ErrAccountDeactivated):
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "account deactivated"})
	case errors.Is(err, ErrTokenInvalid):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
	case errors.Is(err, ErrUnauthenticated):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
	case errors.Is(err, ErrDependencyUnavailable):
		h.logger.Warnw("dependency unavailable", "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", "5")
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable"})
	default:
		h.logger.Errorw("request failed", "path", r.URL.Path, "err", err)
		reportError(r, err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func reportError(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
// ok is false when the header is absent; a malformed header yields "" and true.
func bearerToken(r *http.Request) (tok string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}
