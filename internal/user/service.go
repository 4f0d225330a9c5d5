package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freddennis10/astra-app-sub001/internal/user/entity"
	userrepo "github.com/freddennis10/astra-app-sub001/internal/user/repo"
)

var ErrUserNotFound = errors.New("user not found")

// Repository is the read side of the user store used for profiles.
type Repository interface {
	FindByID(ctx context.Context, id string) (*entity.User, error)
	GetWallet(ctx context.Context, userID string) (*entity.Wallet, error)
}

// Service serves account data to authenticated callers.
type Service struct {
	repo    Repository
	timeout time.Duration
}

// NewService bounds every repository call by timeout (3s when zero).
func NewService(r Repository, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{repo: r, timeout: timeout}
}

// Profile is the authenticated user's own view of the account.
type Profile struct {
	User   *entity.PublicUser `json:"user"`
	Wallet *entity.Wallet     `json:"wallet,omitempty"`
}

// Profile loads the user and wallet for id. Deactivated accounts are
// reported as missing. A missing wallet leaves Wallet nil.
func (s *Service) Profile(ctx context.Context, id string) (*Profile, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	u, err := s.repo.FindByID(cctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}
	cctx, cancel = context.WithTimeout(ctx, s.timeout)
	w, err := s.repo.GetWallet(cctx, id)
	cancel()
	if err != nil && !errors.Is(err, userrepo.ErrNotFound) {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &Profile{User: u.Public(), Wallet: w}, nil
}
