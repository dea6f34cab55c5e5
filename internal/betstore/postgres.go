package betstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Postgres implementa a persistência de apostas e palpites em banco Postgres
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do repositório de apostas
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrMatchNotOpen      = errors.New("match not open for betting")
	ErrMatchLocked       = errors.New("match locked")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserNotFound      = errors.New("user not found")
	ErrAlreadyPredicted  = errors.New("prediction already placed for match")
	ErrBetNotFound       = errors.New("bet not found")
	ErrBetNotOpen        = errors.New("bet not open")
)

// PlaceBet cria uma aposta OPEN debitando o stake na mesma transação.
// A admissão é decidida contra o relógio do banco: partida SCHEDULED com
// lock_at ainda no futuro. O débito do stake, a linha do razão e a aposta
// entram juntos — ou tudo, ou nada.
func (p *Postgres) PlaceBet(ctx context.Context, userID, matchID, betType string, stakeCents int64, odd decimal.Decimal) (*Bet, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Decisão de admissão no relógio do banco (lock time limita a decisão,
	// não a latência do commit)
	var status string
	var locked bool
	err = tx.QueryRowContext(ctx,
		`SELECT status, lock_at <= now() FROM matches WHERE match_id=$1`, matchID).Scan(&status, &locked)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotOpen
	} else if err != nil {
		return nil, err
	}
	if status != "SCHEDULED" {
		return nil, ErrMatchNotOpen
	}
	if locked {
		return nil, ErrMatchLocked
	}

	// Lock pessimista na conta do usuário serializa apostas concorrentes do mesmo usuário
	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	if balance < stakeCents {
		return nil, ErrInsufficientFunds
	}

	betID := uuid.NewString()
	newBalance := balance - stakeCents

	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_cents = $1,
		                 wager_remaining_cents = GREATEST(wager_remaining_cents - $2, 0),
		                 bets_total = bets_total + 1,
		                 version = version + 1
		WHERE user_id=$3`, newBalance, stakeCents, userID); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(idempotency_key, user_id, op_type, amount_cents, balance_after_cents, description)
		VALUES($1,$2,'DEBIT',$3,$4,$5)`,
		"bet:"+betID+":stake", userID, stakeCents, newBalance, "stake "+matchID+" "+betType); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO bets (bet_id, user_id, match_id, bet_type, stake_cents, odd_value, status)
		VALUES ($1,$2,$3,$4,$5,$6,'OPEN')`,
		betID, userID, matchID, betType, stakeCents, odd); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &Bet{
		ID:         betID,
		UserID:     userID,
		MatchID:    matchID,
		BetType:    betType,
		StakeCents: stakeCents,
		OddValue:   odd,
		Status:     BetOpen,
	}, nil
}

// SellBet encerra uma aposta OPEN antes do lock da partida devolvendo 50%
// do stake (cash-out). Mesma transação para aposta, saldo e razão.
func (p *Postgres) SellBet(ctx context.Context, betID, userID string) (sellPriceCents int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var matchID string
	var stake int64
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT match_id, stake_cents, status FROM bets WHERE bet_id=$1 AND user_id=$2 FOR UPDATE`,
		betID, userID).Scan(&matchID, &stake, &status)
	if err == sql.ErrNoRows {
		return 0, ErrBetNotFound
	} else if err != nil {
		return 0, err
	}
	if status != BetOpen {
		return 0, ErrBetNotOpen
	}

	var mstatus string
	var locked bool
	err = tx.QueryRowContext(ctx,
		`SELECT status, lock_at <= now() FROM matches WHERE match_id=$1`, matchID).Scan(&mstatus, &locked)
	if err != nil {
		return 0, err
	}
	if mstatus != "SCHEDULED" || locked {
		return 0, ErrMatchLocked
	}

	sellPriceCents = stake / 2

	if _, err = tx.ExecContext(ctx, `
		UPDATE bets SET status='SOLD', payout_cents=$1, settlement_tx_id=$2, settled_at=now()
		WHERE bet_id=$3`, sellPriceCents, "sell:"+betID, betID); err != nil {
		return 0, err
	}

	var balance int64
	if err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	newBalance := balance + sellPriceCents

	if _, err = tx.ExecContext(ctx,
		`UPDATE users SET balance_cents=$1, version=version+1 WHERE user_id=$2`, newBalance, userID); err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(idempotency_key, user_id, op_type, amount_cents, balance_after_cents, description)
		VALUES($1,$2,'CREDIT',$3,$4,$5)`,
		"bet:"+betID+":sell", userID, sellPriceCents, newBalance, "cash-out bet "+betID); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return sellPriceCents, nil
}

// PlacePrediction registra um palpite gratuito, um por usuário por partida.
func (p *Postgres) PlacePrediction(ctx context.Context, userID, matchID, outcome string) (*Prediction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	var locked bool
	err = tx.QueryRowContext(ctx,
		`SELECT status, lock_at <= now() FROM matches WHERE match_id=$1`, matchID).Scan(&status, &locked)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotOpen
	} else if err != nil {
		return nil, err
	}
	if status != "SCHEDULED" {
		return nil, ErrMatchNotOpen
	}
	if locked {
		return nil, ErrMatchLocked
	}

	// Palpite não tem stake; a conta é criada sob demanda
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO users(user_id, balance_cents, wager_remaining_cents, rating, version)
		VALUES($1,0,0,0,1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}

	predID := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO predictions (prediction_id, user_id, match_id, predicted_outcome, status)
		VALUES ($1,$2,$3,$4,'OPEN')
		ON CONFLICT (user_id, match_id) DO NOTHING`,
		predID, userID, matchID, outcome)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyPredicted
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE users SET predictions_total = predictions_total + 1 WHERE user_id=$1`, userID); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &Prediction{
		ID:               predID,
		UserID:           userID,
		MatchID:          matchID,
		PredictedOutcome: outcome,
		Status:           PredictionOpen,
	}, nil
}

// ListOpenBets retorna o snapshot de apostas pendentes da partida (OPEN e
// SETTLEMENT_FAILED, que são retentáveis) numa única consulta.
func (p *Postgres) ListOpenBets(ctx context.Context, matchID string) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bet_id, user_id, match_id, bet_type, stake_cents, odd_value, status
		FROM bets WHERE match_id=$1 AND status IN ('OPEN','SETTLEMENT_FAILED')`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.UserID, &b.MatchID, &b.BetType, &b.StakeCents, &b.OddValue, &b.Status); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListOpenPredictions retorna os palpites pendentes da partida.
func (p *Postgres) ListOpenPredictions(ctx context.Context, matchID string) ([]Prediction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT prediction_id, user_id, match_id, predicted_outcome, status
		FROM predictions WHERE match_id=$1 AND status='OPEN'`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var pr Prediction
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.MatchID, &pr.PredictedOutcome, &pr.Status); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// MarkSettled grava o estado terminal de uma aposta de forma idempotente:
// só transiciona a partir de OPEN/SETTLEMENT_FAILED. Zero linhas afetadas
// significa que outra passada já liquidou — no-op, applied=false.
func (p *Postgres) MarkSettled(ctx context.Context, betID, status string, payoutCents int64, settlementTxID string) (applied bool, err error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bets SET status=$1, payout_cents=$2, settlement_tx_id=$3, settled_at=now()
		WHERE bet_id=$4 AND status IN ('OPEN','SETTLEMENT_FAILED')`,
		status, payoutCents, settlementTxID, betID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed deixa a aposta em SETTLEMENT_FAILED para retentativa, sem
// tocar em apostas que já atingiram estado terminal.
func (p *Postgres) MarkFailed(ctx context.Context, betID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bets SET status='SETTLEMENT_FAILED'
		WHERE bet_id=$1 AND status IN ('OPEN','SETTLEMENT_FAILED')`, betID)
	return err
}

// MarkPredictionSettled grava o estado terminal de um palpite (idempotente).
func (p *Postgres) MarkPredictionSettled(ctx context.Context, predictionID, status string, points int) (applied bool, err error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE predictions SET status=$1, points=$2, settled_at=now()
		WHERE prediction_id=$3 AND status='OPEN'`, status, points, predictionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountUnsettled conta apostas e palpites ainda não terminais da partida.
// SETTLEMENT_FAILED conta como pendente: a partida só vira COMPLETED/VOIDED
// quando todos os itens atingirem estado terminal.
func (p *Postgres) CountUnsettled(ctx context.Context, matchID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM bets WHERE match_id=$1 AND status IN ('OPEN','SETTLEMENT_FAILED'))
		     + (SELECT COUNT(*) FROM predictions WHERE match_id=$1 AND status='OPEN')`, matchID).Scan(&n)
	return n, err
}

// GetBet retorna uma aposta pelo id.
func (p *Postgres) GetBet(ctx context.Context, betID string) (*Bet, error) {
	var b Bet
	var txID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT bet_id, user_id, match_id, bet_type, stake_cents, odd_value, status, payout_cents, settlement_tx_id
		FROM bets WHERE bet_id=$1`, betID).
		Scan(&b.ID, &b.UserID, &b.MatchID, &b.BetType, &b.StakeCents, &b.OddValue, &b.Status, &b.PayoutCents, &txID)
	if err == sql.ErrNoRows {
		return nil, ErrBetNotFound
	} else if err != nil {
		return nil, err
	}
	b.SettlementTxID = txID.String
	return &b, nil
}

// ListUserBets retorna as apostas do usuário, mais recentes primeiro.
func (p *Postgres) ListUserBets(ctx context.Context, userID string, limit int) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bet_id, user_id, match_id, bet_type, stake_cents, odd_value, status, payout_cents
		FROM bets WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.UserID, &b.MatchID, &b.BetType, &b.StakeCents, &b.OddValue, &b.Status, &b.PayoutCents); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListUserPredictions retorna os palpites do usuário, mais recentes primeiro.
func (p *Postgres) ListUserPredictions(ctx context.Context, userID string, limit int) ([]Prediction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT prediction_id, user_id, match_id, predicted_outcome, status, points
		FROM predictions WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var pr Prediction
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.MatchID, &pr.PredictedOutcome, &pr.Status, &pr.Points); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
