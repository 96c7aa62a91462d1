package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/cache/memory"
	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/service"
)

func TestBalanceCacheFirst(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{}
	users.profile.ID = "u-1"
	users.profile.Amount = decimal.NewFromInt(42)
	s := service.NewBalanceService(users, memory.NewProfileCache(), discardLogger())

	assert.Equal(t, "42", s.Balance(ctx, "u-1").String())
	assert.Equal(t, "42", s.Balance(ctx, "u-1").String())
	assert.Equal(t, 1, users.calls)

	require.NoError(t, s.Invalidate(ctx, "u-1"))
	s.Balance(ctx, "u-1")
	assert.Equal(t, 2, users.calls)
}

func TestBalanceFetchFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{}
	users.profile.ID = "u-1"
	users.profile.Amount = decimal.NewFromInt(10)
	s := service.NewBalanceService(users, memory.NewProfileCache(), discardLogger())

	_, ok := s.Profile(ctx, "u-1")
	require.True(t, ok)

	require.NoError(t, s.Invalidate(ctx, "u-1"))
	users.err = errors.New("backend down")
	p, ok := s.Profile(ctx, "u-1")
	assert.True(t, ok)
	assert.Equal(t, "10", p.Amount.String())

	_, ok = s.Profile(ctx, "u-2")
	assert.False(t, ok)
}

// recomputingUsers also asks the backend to recompute balances.
type recomputingUsers struct {
	stubUsers
	recomputed []string
	err        error
}

func (u *recomputingUsers) UpdateBalance(_ context.Context, userID string) error {
	u.recomputed = append(u.recomputed, userID)
	return u.err
}

func TestBalanceInvalidateRecomputes(t *testing.T) {
	ctx := context.Background()
	users := &recomputingUsers{err: errors.New("timeout")}
	s := service.NewBalanceService(users, memory.NewProfileCache(), discardLogger())

	require.NoError(t, s.Invalidate(ctx, "u-1"))
	assert.Equal(t, []string{"u-1"}, users.recomputed)
}

func TestBalanceDebitWithoutKnownBalance(t *testing.T) {
	s := service.NewBalanceService(&stubUsers{}, memory.NewProfileCache(), discardLogger())
	left, err := s.Debit(context.Background(), "u-1", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, left.IsZero())
}

func TestMargin(t *testing.T) {
	testCases := []struct {
		price, qty string
		leverage   int
		want       string
	}{
		{"100", "1", 1, "100.00"},
		{"100", "1", 3, "33.33"},
		{"0.5", "3", 2, "0.75"},
		{"100", "1", 0, "100.00"},
		{"26543.21", "0.015", 20, "19.91"},
	}

	for _, tc := range testCases {
		got := service.Margin(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.qty), tc.leverage)
		assert.Equal(t, tc.want, got.StringFixed(2), "%s x %s / %d", tc.price, tc.qty, tc.leverage)
	}
	assert.True(t, service.HighLeverage(21))
	assert.False(t, service.HighLeverage(20))
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestParseSession(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	testCases := []struct {
		name     string
		userID   string
		token    string
		wantUser string
		wantExp  bool
		wantErr  bool
	}{
		{name: "explicit user, opaque token", userID: "u-1", token: "abc", wantUser: "u-1"},
		{name: "userId claim", token: signed(t, jwt.MapClaims{"userId": "u-2", "exp": exp.Unix()}), wantUser: "u-2", wantExp: true},
		{name: "_id claim", token: signed(t, jwt.MapClaims{"_id": "u-3"}), wantUser: "u-3"},
		{name: "explicit user wins", userID: "u-1", token: signed(t, jwt.MapClaims{"id": "u-4"}), wantUser: "u-1"},
		{name: "broken jwt", token: "a.b.c", wantErr: true},
		{name: "no credentials", wantUser: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := service.ParseSession(tc.userID, tc.token)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantUser, s.UserID)
			if tc.wantExp {
				assert.True(t, s.ExpiresAt.Equal(exp))
			}
		})
	}
}

func TestSessionStoreToken(t *testing.T) {
	st := service.NewSessionStore(domain.Session{UserID: "u-1", Token: "tok"})
	assert.Equal(t, "tok", st.Token())

	st.Set(domain.Session{UserID: "u-1", Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)})
	assert.Empty(t, st.Token())
	assert.Equal(t, "u-1", st.Current().UserID)
}
