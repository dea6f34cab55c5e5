package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/betstore"
	"github.com/fanarena/fanbet-core/internal/ledger"
	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/payout"
	"github.com/fanarena/fanbet-core/internal/rating"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// BetStore define as operações de apostas/palpites usadas pelo motor
type BetStore interface {
	ListOpenBets(ctx context.Context, matchID string) ([]betstore.Bet, error)
	ListOpenPredictions(ctx context.Context, matchID string) ([]betstore.Prediction, error)
	MarkSettled(ctx context.Context, betID, status string, payoutCents int64, settlementTxID string) (bool, error)
	MarkFailed(ctx context.Context, betID string) error
	MarkPredictionSettled(ctx context.Context, predictionID, status string, points int) (bool, error)
	CountUnsettled(ctx context.Context, matchID string) (int, error)
}

// Ledger define a operação de crédito usada pelo motor (payout/reembolso)
type Ledger interface {
	Credit(ctx context.Context, userID string, amount int64, key, description string) (int64, error)
}

// MatchStore define as operações de partida usadas pelo motor
type MatchStore interface {
	BeginSettlement(ctx context.Context, matchID, kind string, result events.MatchResultPayload) (*matchstore.SettlementRecord, bool, error)
	Finalize(ctx context.Context, matchID, kind string, result events.MatchResultPayload) (bool, error)
}

// Rating define o agregador de pontuação alimentado pela liquidação
type Rating interface {
	ApplyBet(ctx context.Context, ref, userID, status string, stakeCents, payoutCents int64) error
	ApplyPrediction(ctx context.Context, ref, userID, status string) error
}

// Summary é o relatório de uma passada de liquidação, para tooling de admin.
type Summary struct {
	MatchID            string `json:"matchId"`
	Kind               string `json:"kind"` // COMPLETED | VOIDED
	BetsSettled        int    `json:"bets_settled"`
	BetsWon            int    `json:"bets_won"`
	BetsLost           int    `json:"bets_lost"`
	BetsVoided         int    `json:"bets_voided"`
	BetsFailed         int    `json:"bets_failed"`
	PredictionsSettled int    `json:"predictions_settled"`
	PredictionsCorrect int    `json:"predictions_correct"`
}

// Engine orquestra a liquidação de uma partida: resolve cada aposta aberta,
// aplica payout/reembolso via ledger, pontua palpites e finaliza a partida.
// Gatilho automático (feed) e manual (admin) entram pelo mesmo caminho; o
// registro por partida criado com compare-and-set é o único ponto de
// sincronização entre execuções concorrentes. Cada aposta é uma unidade
// independente: falha numa não bloqueia nem desfaz as irmãs.
type Engine struct {
	log     *zap.Logger
	bets    BetStore
	ledger  Ledger
	matches MatchStore
	rating  Rating
	publ    interface {
		PublishBetSettled(context.Context, events.BetSettled) error
	}

	// Callbacks de métricas (counter++), ligadas no main de cada serviço
	OnBetSettled     func(status string)
	OnBetFailed      func()
	OnMatchFinalized func(kind string)
}

func NewEngine(log *zap.Logger, b BetStore, l Ledger, m MatchStore, r Rating, p interface {
	PublishBetSettled(context.Context, events.BetSettled) error
}) *Engine {
	return &Engine{log: log, bets: b, ledger: l, matches: m, rating: r, publ: p}
}

// Settle liquida a partida com o resultado final (feed ou admin, mesmo caminho).
// Reexecutar com o mesmo resultado é no-op além de retentar itens que falharam.
func (e *Engine) Settle(ctx context.Context, matchID string, result events.MatchResultPayload) (Summary, error) {
	return e.settle(ctx, matchID, matchstore.KindCompleted, result)
}

// Void anula a partida (adiada/cancelada): todo stake aberto volta intacto.
func (e *Engine) Void(ctx context.Context, matchID string) (Summary, error) {
	return e.settle(ctx, matchID, matchstore.KindVoided, events.MatchResultPayload{})
}

func (e *Engine) settle(ctx context.Context, matchID, kind string, result events.MatchResultPayload) (Summary, error) {
	// 1) Compare-and-set no registro da partida. Se já existe, o resultado
	// gravado é o que vale: gatilhos concorrentes convergem e retentativas
	// reprocessam só o que ficou pendente.
	rec, created, err := e.matches.BeginSettlement(ctx, matchID, kind, result)
	if err != nil {
		return Summary{}, err
	}
	if !created {
		e.log.Info("settlement already recorded, retrying pending items",
			zap.String("matchId", matchID), zap.String("kind", rec.Kind))
	}

	sum := Summary{MatchID: matchID, Kind: rec.Kind}

	// 2) Snapshot das apostas pendentes (OPEN + SETTLEMENT_FAILED)
	bets, err := e.bets.ListOpenBets(ctx, matchID)
	if err != nil {
		return sum, err
	}

	// 3) Cada aposta é processada de forma independente, sem lock entre elas
	for i := range bets {
		e.settleBet(ctx, rec, &bets[i], &sum)
	}

	// 4) Palpites: sem ledger, só pontuação
	preds, err := e.bets.ListOpenPredictions(ctx, matchID)
	if err != nil {
		return sum, err
	}
	for i := range preds {
		e.settlePrediction(ctx, rec, &preds[i], &sum)
	}

	// 5) Partida só vira COMPLETED/VOIDED quando nada ficou pendente;
	// apostas em SETTLEMENT_FAILED seguram a transição até serem resolvidas
	pending, err := e.bets.CountUnsettled(ctx, matchID)
	if err != nil {
		return sum, err
	}
	if pending == 0 {
		finalized, err := e.matches.Finalize(ctx, matchID, rec.Kind, rec.Result)
		if err != nil {
			return sum, err
		}
		// reentrega do feed cai aqui com a partida já terminal: sem callback
		if finalized {
			if e.OnMatchFinalized != nil {
				e.OnMatchFinalized(rec.Kind)
			}
			e.log.Info("match finalized", zap.String("matchId", matchID), zap.String("kind", rec.Kind))
		}
	} else {
		e.log.Warn("match kept open: items pending after pass",
			zap.String("matchId", matchID), zap.Int("pending", pending))
	}

	return sum, nil
}

// settleBet resolve e paga uma única aposta. Qualquer falha de I/O deixa a
// aposta em SETTLEMENT_FAILED para a próxima passada; a chave de idempotência
// do crédito é o próprio id da aposta, então retentar nunca paga duas vezes.
func (e *Engine) settleBet(ctx context.Context, rec *matchstore.SettlementRecord, bet *betstore.Bet, sum *Summary) {
	var verdict payout.Settled
	if rec.Kind == matchstore.KindVoided {
		verdict = payout.ResolveVoid(bet.StakeCents)
	} else {
		verdict = payout.Resolve(bet.BetType, bet.StakeCents, bet.OddValue, rec.Result)
	}

	txID := "settle:" + bet.ID

	if verdict.PayoutCents > 0 {
		_, err := e.ledger.Credit(ctx, bet.UserID, verdict.PayoutCents, bet.ID, creditDescription(verdict.Status, bet.ID))
		if err != nil && !errors.Is(err, ledger.ErrAlreadyApplied) {
			e.failBet(ctx, bet.ID, "ledger credit", err, sum)
			return
		}
	}

	// Rating antes do estado terminal: se falhar aqui a aposta continua
	// retentável e o guard por ref evita contagem dupla na repetição
	if err := e.rating.ApplyBet(ctx, "bet:"+bet.ID, bet.UserID, verdict.Status, bet.StakeCents, verdict.PayoutCents); err != nil {
		e.failBet(ctx, bet.ID, "rating apply", err, sum)
		return
	}

	applied, err := e.bets.MarkSettled(ctx, bet.ID, verdict.Status, verdict.PayoutCents, txID)
	if err != nil {
		e.failBet(ctx, bet.ID, "mark settled", err, sum)
		return
	}
	if !applied {
		// outra execução liquidou no meio do caminho; nada a fazer
		return
	}

	sum.BetsSettled++
	switch verdict.Status {
	case payout.Won:
		sum.BetsWon++
	case payout.Lost:
		sum.BetsLost++
	case payout.Void:
		sum.BetsVoided++
	}
	if e.OnBetSettled != nil {
		e.OnBetSettled(verdict.Status)
	}

	if e.publ != nil {
		_ = e.publ.PublishBetSettled(ctx, events.BetSettled{
			BetID:          bet.ID,
			UserID:         bet.UserID,
			MatchID:        bet.MatchID,
			Status:         verdict.Status,
			PayoutCents:    verdict.PayoutCents,
			SettlementTxID: txID,
			Ts:             time.Now(),
		})
	}
}

func (e *Engine) failBet(ctx context.Context, betID, stage string, cause error, sum *Summary) {
	e.log.Error("bet settlement failed",
		zap.String("betId", betID), zap.String("stage", stage), zap.Error(cause))
	if err := e.bets.MarkFailed(ctx, betID); err != nil {
		e.log.Error("mark failed", zap.String("betId", betID), zap.Error(err))
	}
	sum.BetsFailed++
	if e.OnBetFailed != nil {
		e.OnBetFailed()
	}
}

// settlePrediction pontua um palpite contra o resultado gravado.
func (e *Engine) settlePrediction(ctx context.Context, rec *matchstore.SettlementRecord, pred *betstore.Prediction, sum *Summary) {
	var status string
	var points int
	switch {
	case rec.Kind == matchstore.KindVoided || rec.Result.Outcome == "":
		status = betstore.PredictionVoid
	case pred.PredictedOutcome == rec.Result.Outcome:
		status = betstore.PredictionCorrect
		points = rating.PredictionWinPoints
	default:
		status = betstore.PredictionIncorrect
		points = rating.PredictionLossPoints
	}

	if err := e.rating.ApplyPrediction(ctx, "prediction:"+pred.ID, pred.UserID, status); err != nil {
		e.log.Error("prediction rating apply", zap.String("predictionId", pred.ID), zap.Error(err))
		return // continua OPEN, retentável na próxima passada
	}

	applied, err := e.bets.MarkPredictionSettled(ctx, pred.ID, status, points)
	if err != nil {
		e.log.Error("mark prediction settled", zap.String("predictionId", pred.ID), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	sum.PredictionsSettled++
	if status == betstore.PredictionCorrect {
		sum.PredictionsCorrect++
	}
}

func creditDescription(status, betID string) string {
	if status == payout.Void {
		return "refund bet " + betID
	}
	return "payout bet " + betID
}
