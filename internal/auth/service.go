package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/config"
	"github.com/freddennis10/astra-app-sub001/internal/credential"
	"github.com/freddennis10/astra-app-sub001/internal/notify"
	"github.com/freddennis10/astra-app-sub001/internal/token"
	"github.com/freddennis10/astra-app-sub001/internal/tokenstore"
	"github.com/freddennis10/astra-app-sub001/internal/user/entity"
	userrepo "github.com/freddennis10/astra-app-sub001/internal/user/repo"
)

// UserStore is the user-record store the service reads and writes through.
// Missing rows are reported as repo.ErrNotFound, unique violations as
// repo.ErrDuplicate.
type UserStore interface {
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*entity.User, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	CreateUserAndDependents(ctx context.Context, u *entity.User, w *entity.Wallet) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	MarkVerified(ctx context.Context, id string) error
}

// IDGenerator hands out user IDs.
type IDGenerator interface {
	NewID() string
}

// Deps are the collaborators of Service.
type Deps struct {
	Users    UserStore
	Store    tokenstore.Store
	Hasher   credential.Hasher
	Tokens   *token.Issuer
	Notifier notify.Notifier
	IDs      IDGenerator
	Clock    clockwork.Clock
	Logger   *zap.SugaredLogger
}

// Options tune lifetimes and policy.
type Options struct {
	VerificationTTL   time.Duration
	PasswordResetTTL  time.Duration
	BlacklistCeiling  time.Duration
	DependencyTimeout time.Duration
	BaseURL           string
	Currency          string
	Password          config.PasswordPolicy
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Tokens *token.Pair
	User   *entity.PublicUser
}

// Service orchestrates registration, login and the token lifecycle.
type Service struct {
	users     UserStore
	store     tokenstore.Store
	hasher    credential.Hasher
	tokens    *token.Issuer
	notifier  notify.Notifier
	ids       IDGenerator
	clock     clockwork.Clock
	logger    *zap.SugaredLogger
	opts      Options
	validator *Validator

	// dummyHash is compared against on unknown identifiers so that a
	// missing user costs the same as a wrong password.
	dummyHash string
	wg        sync.WaitGroup
}

func NewService(d Deps, o Options) (*Service, error) {
	if d.Users == nil || d.Store == nil || d.Hasher == nil || d.Tokens == nil || d.IDs == nil {
		return nil, errors.New("auth: users, store, hasher, tokens and ids are required")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if o.VerificationTTL <= 0 {
		o.VerificationTTL = time.Hour
	}
	if o.PasswordResetTTL <= 0 {
		o.PasswordResetTTL = time.Hour
	}
	if o.BlacklistCeiling <= 0 {
		o.BlacklistCeiling = time.Hour
	}
	if o.DependencyTimeout <= 0 {
		o.DependencyTimeout = 3 * time.Second
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.Password.MinLength <= 0 {
		o.Password.MinLength = 8
	}
	dummy, err := d.Hasher.Hash("timing-equalizer-password")
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}
	return &Service{
		users:     d.Users,
		store:     d.Store,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		notifier:  d.Notifier,
		ids:       d.IDs,
		clock:     d.Clock,
		logger:    d.Logger,
		opts:      o,
		validator: NewValidator(o.Password),
		dummyHash: dummy,
	}, nil
}

// Wait blocks until background email sends have finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.DependencyTimeout)
}

// Register creates an unverified account plus its wallet and emails a
// verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.PublicUser, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if fields := s.validator.Registration(in); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	cctx, cancel := s.call(ctx)
	_, err := s.users.FindByUsernameOrEmail(cctx, in.Username, in.Email)
	cancel()
	switch {
	case err == nil:
		return nil, ErrConflict
	case !errors.Is(err, userrepo.ErrNotFound):
		return nil, dependency("lookup user", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now().UTC()
	u := &entity.User{
		ID:           s.ids.NewID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		IsActive:     true,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cctx, cancel = s.call(ctx)
	err = s.users.CreateUserAndDependents(cctx, u, entity.NewWallet(u.ID, s.opts.Currency, now))
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, dependency("create user", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID)

	verifyToken, err := newOpaqueToken()
	if err != nil {
		s.logger.Errorw("generate verification token", "user_id", u.ID, "err", err)
		return u.Public(), nil
	}
	cctx, cancel = s.call(ctx)
	err = s.store.Put(cctx, tokenstore.VerificationKey(verifyToken), u.ID, s.opts.VerificationTTL)
	cancel()
	if err != nil {
		s.logger.Warnw("store verification token", "user_id", u.ID, "err", err)
		return u.Public(), nil
	}

	body, err := notify.RenderVerification(s.opts.BaseURL, u.FullName, verifyToken, humanDuration(s.opts.VerificationTTL))
	if err != nil {
		s.logger.Errorw("render verification email", "user_id", u.ID, "err", err)
		return u.Public(), nil
	}
	s.sendAsync(ctx, u.ID, u.Email, notify.SubjectVerification, body)
	return u.Public(), nil
}

// Login authenticates by username or email.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		s.hasher.Verify(s.dummyHash, password)
		return nil, ErrInvalidCredentials
	}

	cctx, cancel := s.call(ctx)
	u, err := s.users.FindByUsernameOrEmail(cctx, identifier, normalizeEmail(identifier))
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, dependency("lookup user", err)
	}
	if !u.IsActive {
		return nil, ErrAccountDeactivated
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(identityOf(u))
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	cctx, cancel = s.call(ctx)
	err = s.store.Put(cctx, tokenstore.RefreshTokenKey(u.ID), pair.RefreshToken, s.tokens.RefreshTTL())
	cancel()
	if err != nil {
		return nil, dependency("store refresh token", err)
	}

	now := s.clock.Now().UTC()
	cctx, cancel = s.call(ctx)
	if err := s.users.UpdateLastLogin(cctx, u.ID, now); err != nil {
		s.logger.Warnw("update last login", "user_id", u.ID, "err", err)
	} else {
		u.LastLoginAt = &now
	}
	cancel()

	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}

	s.logger.Infow("user logged in", "user_id", u.ID)
	return &LoginResult{Tokens: pair, User: u.Public()}, nil
}

func (s *Service) rehash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warnw("rehash password", "user_id", userID, "err", err)
		return
	}
	cctx, cancel := s.call(ctx)
	defer cancel()
	if err := s.users.UpdatePasswordHash(cctx, userID, hash); err != nil {
		s.logger.Warnw("store rehashed password", "user_id", userID, "err", err)
	}
}

// Logout revokes the refresh allowlist entry and blacklists the access
// token. It never fails from the caller's point of view.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken != "" {
		s.revokeRefresh(ctx, refreshToken)
	}
	if accessToken != "" {
		s.blacklist(ctx, accessToken)
	}
	return nil
}

func (s *Service) revokeRefresh(ctx context.Context, refreshToken string) {
	claims, ok := token.Inspect(refreshToken)
	if !ok || claims.UserID == "" {
		s.logger.Debugw("logout: undecodable refresh token")
		return
	}
	key := tokenstore.RefreshTokenKey(claims.UserID)

	cctx, cancel := s.call(ctx)
	defer cancel()
	stored, found, err := s.store.Get(cctx, key)
	if err != nil {
		s.logger.Warnw("logout: load refresh token", "user_id", claims.UserID, "err", err)
		return
	}
	// only the holder of the current refresh token may revoke it
	if !found || !constantTimeEqual(stored, refreshToken) {
		return
	}
	if err := s.store.Delete(cctx, key); err != nil {
		s.logger.Warnw("logout: delete refresh token", "user_id", claims.UserID, "err", err)
	}
}

// blacklist records accessToken until it expires. Tokens this service did
// not sign can never authenticate, so they are not stored.
func (s *Service) blacklist(ctx context.Context, accessToken string) {
	exp, ok := s.tokens.AccessExpiry(accessToken)
	if !ok {
		s.logger.Debugw("logout: access token not issued here")
		return
	}
	ttl := exp.Sub(s.clock.Now())
	if ttl <= 0 {
		return
	}
	ttl = min(ttl, s.tokens.AccessTTL(), s.opts.BlacklistCeiling)

	cctx, cancel := s.call(ctx)
	defer cancel()
	if err := s.store.Put(cctx, tokenstore.BlacklistKey(accessToken), "1", ttl); err != nil {
		s.logger.Warnw("logout: blacklist access token", "err", err)
	}
}

// RefreshAccessToken exchanges the current refresh token for a new pair.
// Each refresh token can be exchanged at most once.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*token.Pair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	key := tokenstore.RefreshTokenKey(claims.UserID)

	cctx, cancel := s.call(ctx)
	stored, found, err := s.store.Get(cctx, key)
	cancel()
	if err != nil {
		return nil, dependency("load refresh token", err)
	}
	if !found || !constantTimeEqual(stored, refreshToken) {
		return nil, ErrTokenInvalid
	}

	cctx, cancel = s.call(ctx)
	u, err := s.users.FindByID(cctx, claims.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, dependency("load user", err)
	}
	if !u.IsActive {
		return nil, ErrTokenInvalid
	}

	pair, err := s.tokens.IssuePair(identityOf(u))
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	cctx, cancel = s.call(ctx)
	swapped, err := s.store.Swap(cctx, key, refreshToken, pair.RefreshToken, s.tokens.RefreshTTL())
	cancel()
	if err != nil {
		return nil, dependency("rotate refresh token", err)
	}
	if !swapped {
		return nil, ErrTokenInvalid
	}
	return pair, nil
}

// ForgotPassword emails a reset link when an active account owns email.
// The result does not reveal whether one does.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if fields := validateEmail(email); len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	cctx, cancel := s.call(ctx)
	u, err := s.users.FindByUsernameOrEmail(cctx, email, email)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil
		}
		return dependency("lookup user", err)
	}
	if !u.IsActive {
		return nil
	}

	resetToken, err := newOpaqueToken()
	if err != nil {
		s.logger.Errorw("generate reset token", "user_id", u.ID, "err", err)
		return nil
	}
	cctx, cancel = s.call(ctx)
	err = s.store.Put(cctx, tokenstore.PasswordResetKey(resetToken), u.ID, s.opts.PasswordResetTTL)
	cancel()
	if err != nil {
		s.logger.Warnw("store reset token", "user_id", u.ID, "err", err)
		return nil
	}

	body, err := notify.RenderPasswordReset(s.opts.BaseURL, u.FullName, resetToken, humanDuration(s.opts.PasswordResetTTL))
	if err != nil {
		s.logger.Errorw("render reset email", "user_id", u.ID, "err", err)
		return nil
	}
	s.sendAsync(ctx, u.ID, u.Email, notify.SubjectPasswordReset, body)
	return nil
}

// ResetPassword consumes a reset token, stores the new password and signs
// the user out of every device.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if fields := s.validator.Password("password", newPassword); len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	if resetToken == "" {
		return ErrTokenInvalid
	}
	key := tokenstore.PasswordResetKey(resetToken)

	cctx, cancel := s.call(ctx)
	userID, found, err := s.store.Get(cctx, key)
	cancel()
	if err != nil {
		return dependency("load reset token", err)
	}
	if !found {
		return ErrTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	cctx, cancel = s.call(ctx)
	err = s.users.UpdatePasswordHash(cctx, userID, hash)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrTokenInvalid
		}
		return dependency("update password", err)
	}

	// revoke sessions before burning the reset token so a failure here can be retried
	cctx, cancel = s.call(ctx)
	err = s.store.Delete(cctx, tokenstore.RefreshTokenKey(userID))
	cancel()
	if err != nil {
		return dependency("revoke refresh token", err)
	}
	cctx, cancel = s.call(ctx)
	err = s.store.Delete(cctx, key)
	cancel()
	if err != nil {
		return dependency("delete reset token", err)
	}
	s.logger.Infow("password reset", "user_id", userID)
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, verifyToken string) error {
	if verifyToken == "" {
		return ErrTokenInvalid
	}
	key := tokenstore.VerificationKey(verifyToken)

	cctx, cancel := s.call(ctx)
	userID, found, err := s.store.Get(cctx, key)
	cancel()
	if err != nil {
		return dependency("load verification token", err)
	}
	if !found {
		return ErrTokenInvalid
	}

	cctx, cancel = s.call(ctx)
	err = s.users.MarkVerified(cctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrTokenInvalid
		}
		return dependency("mark verified", err)
	}

	cctx, cancel = s.call(ctx)
	if err := s.store.Delete(cctx, key); err != nil {
		s.logger.Warnw("delete verification token", "user_id", userID, "err", err)
	}
	cancel()
	return nil
}

// Authenticate verifies an access token and checks it against the logout
// blacklist. Store failures reject the token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*token.Claims, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	cctx, cancel := s.call(ctx)
	_, revoked, err := s.store.Get(cctx, tokenstore.BlacklistKey(accessToken))
	cancel()
	if err != nil {
		return nil, dependency("check blacklist", err)
	}
	if revoked {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *Service) sendAsync(ctx context.Context, userID, to, subject, body string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DependencyTimeout)
		defer cancel()
		if err := s.notifier.Send(sctx, to, subject, body); err != nil {
			s.logger.Warnw("send email", "user_id", userID, "subject", subject, "err", err)
		}
	}()
}

func identityOf(u *entity.User) token.Identity {
	return token.Identity{UserID: u.ID, Username: u.Username, Email: u.Email}
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
