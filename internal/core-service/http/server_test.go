package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/betstore"
	"github.com/fanarena/fanbet-core/internal/ledger"
	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/oddscache"
	"github.com/fanarena/fanbet-core/internal/rating"
	"github.com/fanarena/fanbet-core/internal/settlement"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// ---- stubs ----

type stubBets struct {
	placeErr error
	sellErr  error
	predErr  error
	lastOdd  decimal.Decimal
}

func (s *stubBets) PlaceBet(_ context.Context, userID, matchID, betType string, stakeCents int64, odd decimal.Decimal) (*betstore.Bet, error) {
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.lastOdd = odd
	return &betstore.Bet{
		ID: "b1", UserID: userID, MatchID: matchID, BetType: betType,
		StakeCents: stakeCents, OddValue: odd, Status: betstore.BetOpen,
	}, nil
}

func (s *stubBets) SellBet(_ context.Context, _, _ string) (int64, error) {
	if s.sellErr != nil {
		return 0, s.sellErr
	}
	return 150, nil
}

func (s *stubBets) PlacePrediction(_ context.Context, userID, matchID, outcome string) (*betstore.Prediction, error) {
	if s.predErr != nil {
		return nil, s.predErr
	}
	return &betstore.Prediction{ID: "p1", UserID: userID, MatchID: matchID, PredictedOutcome: outcome, Status: betstore.PredictionOpen}, nil
}

func (s *stubBets) GetBet(_ context.Context, betID string) (*betstore.Bet, error) {
	if betID != "b1" {
		return nil, betstore.ErrBetNotFound
	}
	return &betstore.Bet{ID: "b1", UserID: "u1", Status: betstore.BetWon, PayoutCents: 600}, nil
}

func (s *stubBets) ListUserBets(context.Context, string, int) ([]betstore.Bet, error) {
	return []betstore.Bet{{ID: "b1"}}, nil
}

func (s *stubBets) ListUserPredictions(context.Context, string, int) ([]betstore.Prediction, error) {
	return nil, nil
}

type stubWallet struct {
	balance    int64
	depositErr error
}

func (s *stubWallet) GetOrCreate(context.Context, string) (int64, error) { return s.balance, nil }

func (s *stubWallet) Deposit(_ context.Context, _ string, amount int64, _, _ string) (int64, error) {
	if s.depositErr != nil {
		return s.balance, s.depositErr
	}
	s.balance += amount
	return s.balance, nil
}

func (s *stubWallet) Entries(context.Context, string, int) ([]ledger.Entry, error) { return nil, nil }

type stubOdds struct {
	odd string
	err error
}

func (s *stubOdds) LockedOdd(context.Context, string, string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return decimal.RequireFromString(s.odd), nil
}

type stubSettler struct {
	sum settlement.Summary
	err error
}

func (s *stubSettler) Settle(_ context.Context, matchID string, _ events.MatchResultPayload) (settlement.Summary, error) {
	s.sum.MatchID = matchID
	return s.sum, s.err
}

func (s *stubSettler) Void(_ context.Context, matchID string) (settlement.Summary, error) {
	s.sum.MatchID = matchID
	return s.sum, s.err
}

type stubBoard struct{}

func (stubBoard) Leaderboard(context.Context, string, int) ([]rating.Entry, error) {
	return []rating.Entry{{UserID: "u1", Rating: 42}}, nil
}

type stubMatches struct{}

func (stubMatches) Get(_ context.Context, id string) (*matchstore.Match, error) {
	if id != "m1" {
		return nil, matchstore.ErrMatchNotFound
	}
	return &matchstore.Match{ID: "m1", HomeTeam: "Flamengo", AwayTeam: "Palmeiras", Status: matchstore.StatusScheduled}, nil
}

type fixture struct {
	bets    *stubBets
	wallet  *stubWallet
	odds    *stubOdds
	settler *stubSettler
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bets:    &stubBets{},
		wallet:  &stubWallet{balance: 1000},
		odds:    &stubOdds{odd: "2.50"},
		settler: &stubSettler{},
	}
	s := NewServer(zap.NewNop(), f.bets, f.wallet, f.odds, f.settler, stubBoard{}, stubMatches{})
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

// ---- testes ----

func TestPlaceBetCapturesPublishedOdd(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/bets", map[string]any{
		"userId": "u1", "matchId": "m1", "betType": "home", "stake_cents": 200,
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "b1", out["betId"])
	assert.Equal(t, "OPEN", out["status"])
	assert.Equal(t, "2.5", out["odd_value"])
	assert.Equal(t, "2.5", f.bets.lastOdd.String(), "the odd read from the source is the one stored")
}

func TestPlaceBetErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		placeErr error
		oddsErr  error
		status   int
	}{
		{"insufficient funds", betstore.ErrInsufficientFunds, nil, http.StatusConflict},
		{"match locked", betstore.ErrMatchLocked, nil, http.StatusConflict},
		{"match not open", betstore.ErrMatchNotOpen, nil, http.StatusConflict},
		{"unknown user", betstore.ErrUserNotFound, nil, http.StatusNotFound},
		{"unknown bet type", nil, oddscache.ErrUnknownBetType, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.bets.placeErr = tt.placeErr
			f.odds.err = tt.oddsErr

			resp := f.post(t, "/v1/bets", map[string]any{
				"userId": "u1", "matchId": "m1", "betType": "home", "stake_cents": 200,
			})
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPlaceBetRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/bets", map[string]any{"userId": "u1", "stake_cents": 0})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSellBetReturnsHalfStake(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/bets/b1/sell", map[string]any{"userId": "u1"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(150), out["sell_price_cents"])
	assert.Equal(t, "SOLD", out["status"])
}

func TestPredictionDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	f.bets.predErr = betstore.ErrAlreadyPredicted

	resp := f.post(t, "/v1/predictions", map[string]any{
		"userId": "u1", "matchId": "m1", "outcome": "home",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPredictionRejectsInvalidOutcome(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/predictions", map[string]any{
		"userId": "u1", "matchId": "m1", "outcome": "overtime",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWalletEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/wallet?userId=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(1000), out["balance_cents"])
}

func TestDepositReplayStillReturnsBalance(t *testing.T) {
	f := newFixture(t)
	f.wallet.depositErr = ledger.ErrAlreadyApplied

	resp := f.post(t, "/v1/admin/deposit", map[string]any{
		"userId": "u1", "amount_cents": 500, "external_ref": "ref-1",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(1000), out["balance_cents"])
}

func TestAdminSettleReturnsSummary(t *testing.T) {
	f := newFixture(t)
	f.settler.sum = settlement.Summary{Kind: "COMPLETED", BetsSettled: 2, BetsWon: 1}

	resp := f.post(t, "/v1/admin/matches/m1/settle", map[string]any{
		"result": map[string]any{"outcome": "home", "home_score": 2, "away_score": 0},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out settlement.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "m1", out.MatchID)
	assert.Equal(t, 2, out.BetsSettled)
}

// Um settle sem resultado gravaria um registro COMPLETED vazio e imutável,
// anulando toda aposta da partida; o handler barra antes do motor.
func TestAdminSettleRequiresValidOutcome(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing result", map[string]any{}},
		{"empty outcome", map[string]any{"result": map[string]any{"home_score": 2}}},
		{"bogus outcome", map[string]any{"result": map[string]any{"outcome": "overtime"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp := f.post(t, "/v1/admin/matches/m1/settle", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetBetAndMatch(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/bets/b1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bet map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bet))
	assert.Equal(t, "WON", bet["status"])

	resp2, err := http.Get(f.srv.URL + "/v1/matches/m1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(f.srv.URL + "/v1/matches/ghost")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/leaderboard?by=rating")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []rating.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, int64(42), out[0].Rating)
}
