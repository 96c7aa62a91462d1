package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// ProfileFetcher loads a user profile from the backend.
type ProfileFetcher interface {
	GetUser(ctx context.Context, userID string) (domain.UserProfile, error)
}

// BalanceUpdater asks the backend to recompute a user's balance. A
// ProfileFetcher that also implements it is called on Invalidate.
type BalanceUpdater interface {
	UpdateBalance(ctx context.Context, userID string) error
}

// BalanceService serves wallet balances. Reads go cache first, then to the
// backend with concurrent fetches for one user collapsed. A failed fetch
// keeps the last known profile.
type BalanceService struct {
	users  ProfileFetcher
	cache  domain.ProfileCache
	logger *slog.Logger

	group singleflight.Group

	mu   sync.RWMutex
	last map[string]domain.UserProfile
}

// NewBalanceService creates a BalanceService. cache must not be nil; use
// the in-memory cache when Redis is disabled.
func NewBalanceService(users ProfileFetcher, cache domain.ProfileCache, logger *slog.Logger) *BalanceService {
	return &BalanceService{
		users:  users,
		cache:  cache,
		logger: logger.With(slog.String("component", "balance_service")),
		last:   make(map[string]domain.UserProfile),
	}
}

// Profile returns the user's profile. ok is false only when no profile has
// ever been loaded for the user.
func (s *BalanceService) Profile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	if p, err := s.cache.Get(ctx, userID); err == nil {
		s.remember(p)
		return p, true
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "balance_service: profile cache read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		p, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.DebugContext(ctx, "balance_service: profile cache write failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return p, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "balance_service: profile fetch failed, keeping previous",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return s.previous(userID)
	}

	p := v.(domain.UserProfile)
	s.remember(p)
	return p, true
}

// Balance returns the wallet balance, or zero if none is known.
func (s *BalanceService) Balance(ctx context.Context, userID string) decimal.Decimal {
	p, _ := s.Profile(ctx, userID)
	return p.Amount
}

// Debit lowers the known balance by amount ahead of backend confirmation.
// Nothing happens when no balance is known yet.
func (s *BalanceService) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	p, ok := s.previous(userID)
	if cached, err := s.cache.Get(ctx, userID); err == nil {
		p, ok = cached, true
	}
	if !ok {
		return decimal.Zero, nil
	}

	p.Amount = p.Amount.Sub(amount)
	s.remember(p)

	if err := s.cache.Set(ctx, p); err != nil {
		return p.Amount, fmt.Errorf("service: debit %s: %w", userID, err)
	}
	return p.Amount, nil
}

// Invalidate drops the cached profile so the next read refetches it. The
// last known profile is still served if that fetch fails.
func (s *BalanceService) Invalidate(ctx context.Context, userID string) error {
	if u, ok := s.users.(BalanceUpdater); ok {
		if err := u.UpdateBalance(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "balance_service: balance recompute failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("service: invalidate profile %s: %w", userID, err)
	}
	return nil
}

func (s *BalanceService) remember(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[p.ID] = p
}

func (s *BalanceService) previous(userID string) (domain.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.last[userID]
	return p, ok
}
