package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/betstore"
	"github.com/fanarena/fanbet-core/internal/core-service/dto"
	"github.com/fanarena/fanbet-core/internal/ledger"
	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/oddscache"
	"github.com/fanarena/fanbet-core/internal/rating"
	"github.com/fanarena/fanbet-core/internal/settlement"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// BetRepo define as operações de apostas/palpites usadas pelos handlers
type BetRepo interface {
	PlaceBet(ctx context.Context, userID, matchID, betType string, stakeCents int64, odd decimal.Decimal) (*betstore.Bet, error)
	SellBet(ctx context.Context, betID, userID string) (int64, error)
	PlacePrediction(ctx context.Context, userID, matchID, outcome string) (*betstore.Prediction, error)
	GetBet(ctx context.Context, betID string) (*betstore.Bet, error)
	ListUserBets(ctx context.Context, userID string, limit int) ([]betstore.Bet, error)
	ListUserPredictions(ctx context.Context, userID string, limit int) ([]betstore.Prediction, error)
}

// MatchReader expõe a partida (agenda, status, resultado) para consulta
type MatchReader interface {
	Get(ctx context.Context, id string) (*matchstore.Match, error)
}

// Wallet define as operações de saldo usadas pelos handlers
type Wallet interface {
	GetOrCreate(ctx context.Context, userID string) (int64, error)
	Deposit(ctx context.Context, userID string, amount int64, key, description string) (int64, error)
	Entries(ctx context.Context, userID string, limit int) ([]ledger.Entry, error)
}

// OddsSource resolve a odd publicada capturada na hora da aposta
type OddsSource interface {
	LockedOdd(ctx context.Context, matchID, betType string) (decimal.Decimal, error)
}

// Settler é o motor de liquidação, usado pelos endpoints de admin.
// É o mesmo caminho do gatilho automático do feed.
type Settler interface {
	Settle(ctx context.Context, matchID string, result events.MatchResultPayload) (settlement.Summary, error)
	Void(ctx context.Context, matchID string) (settlement.Summary, error)
}

// Board é o ranking mantido pelo agregador de rating
type Board interface {
	Leaderboard(ctx context.Context, by string, limit int) ([]rating.Entry, error)
}

// Server expõe a API HTTP do core: apostas, palpites, carteira, ranking e admin
type Server struct {
	log     *zap.Logger
	bets    BetRepo
	wallet  Wallet
	odds    OddsSource
	settler Settler
	board   Board
	matches MatchReader
}

func NewServer(log *zap.Logger, b BetRepo, w Wallet, o OddsSource, s Settler, r Board, m MatchReader) *Server {
	return &Server{log: log, bets: b, wallet: w, odds: o, settler: s, board: r, matches: m}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/bets", s.placeBet)
	r.Get("/v1/bets", s.listBets)
	r.Get("/v1/bets/{id}", s.getBet)
	r.Post("/v1/bets/{id}/sell", s.sellBet)
	r.Get("/v1/matches/{id}", s.getMatch)
	r.Post("/v1/predictions", s.placePrediction)
	r.Get("/v1/predictions", s.listPredictions)
	r.Get("/v1/wallet", s.getWallet)
	r.Get("/v1/wallet/transactions", s.listTransactions)
	r.Get("/v1/leaderboard", s.leaderboard)
	r.Post("/v1/admin/deposit", s.deposit)
	r.Post("/v1/admin/matches/{id}/settle", s.adminSettle)
	r.Post("/v1/admin/matches/{id}/void", s.adminVoid)
	return r
}

// placeBet captura a odd publicada e cria a aposta com débito do stake.
// A odd travada aqui determina o payout desde já.
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.MatchID == "" || req.BetType == "" || req.StakeCents <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	odd, err := s.odds.LockedOdd(r.Context(), req.MatchID, req.BetType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	bet, err := s.bets.PlaceBet(r.Context(), req.UserID, req.MatchID, req.BetType, req.StakeCents, odd)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.log.Info("bet placed",
		zap.String("betId", bet.ID),
		zap.String("matchId", bet.MatchID),
		zap.String("betType", bet.BetType),
		zap.Int64("stake_cents", bet.StakeCents),
	)

	writeJSON(w, http.StatusCreated, dto.PlaceBetResponse{
		BetID:      bet.ID,
		Status:     bet.Status,
		OddValue:   bet.OddValue.String(),
		StakeCents: bet.StakeCents,
	})
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	bets, err := s.bets.ListUserBets(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	bet, err := s.bets.GetBet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.matches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// sellBet é o cash-out: devolve 50% do stake antes do lock da partida
func (s *Server) sellBet(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "id")
	var req dto.SellBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" || betID == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	price, err := s.bets.SellBet(r.Context(), betID, req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SellBetResponse{BetID: betID, Status: betstore.BetSold, SellPriceCents: price})
}

func (s *Server) placePrediction(w http.ResponseWriter, r *http.Request) {
	var req dto.PlacePredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.MatchID == "" || !validOutcome(req.Outcome) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	pred, err := s.bets.PlacePrediction(r.Context(), req.UserID, req.MatchID, req.Outcome)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.PredictionResponse{PredictionID: pred.ID, Status: pred.Status})
}

func (s *Server) listPredictions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	preds, err := s.bets.ListUserPredictions(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preds)
}

// getWallet retorna (ou cria) a conta e saldo do usuário
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	bal, err := s.wallet.GetOrCreate(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: userID, BalanceCents: bal})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	entries, err := s.wallet.Entries(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Leaderboard(r.Context(), r.URL.Query().Get("by"), queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// deposit credita pontos comprados na conta do usuário (admin)
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ref := req.ExternalRef
	if ref == "" {
		ref = uuid.NewString()
	}
	bal, err := s.wallet.Deposit(r.Context(), req.UserID, req.AmountCents, "deposit:"+ref, "admin deposit")
	if err != nil && !errors.Is(err, ledger.ErrAlreadyApplied) {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: req.UserID, BalanceCents: bal})
}

// adminSettle liquida a partida com resultado informado pelo admin.
// Mesmo caminho do gatilho automático; repetir é no-op seguro.
func (s *Server) adminSettle(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	var req dto.AdminSettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	// O registro de liquidação é imutável: um payload sem outcome viraria um
	// COMPLETED vazio que anula toda aposta. Partida abandonada usa o void.
	if !validOutcome(req.Result.Outcome) {
		writeError(w, http.StatusBadRequest, "result.outcome must be home, draw or away")
		return
	}

	sum, err := s.settler.Settle(r.Context(), matchID, req.Result)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// adminVoid anula a partida devolvendo todos os stakes abertos
func (s *Server) adminVoid(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	sum, err := s.settler.Void(r.Context(), matchID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// writeDomainError mapeia erros sentinela do domínio para status HTTP
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, betstore.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "insufficient funds")
	case errors.Is(err, betstore.ErrMatchLocked):
		writeError(w, http.StatusConflict, "match locked")
	case errors.Is(err, betstore.ErrMatchNotOpen):
		writeError(w, http.StatusConflict, "match not open")
	case errors.Is(err, betstore.ErrAlreadyPredicted):
		writeError(w, http.StatusConflict, "prediction already placed")
	case errors.Is(err, betstore.ErrBetNotOpen):
		writeError(w, http.StatusConflict, "bet not open")
	case errors.Is(err, oddscache.ErrUnknownBetType):
		writeError(w, http.StatusUnprocessableEntity, "unknown bet type")
	case errors.Is(err, betstore.ErrBetNotFound) || errors.Is(err, betstore.ErrUserNotFound) ||
		errors.Is(err, matchstore.ErrMatchNotFound) || errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validOutcome(o string) bool {
	return o == "home" || o == "draw" || o == "away"
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return def
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
