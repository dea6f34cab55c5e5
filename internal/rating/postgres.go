package rating

import (
	"context"
	"database/sql"
)

// Pontuação fixa dos palpites gratuitos.
const (
	PredictionWinPoints  = 5
	PredictionLossPoints = -10
)

// Entry é uma linha do ranking.
type Entry struct {
	UserID          string `json:"userId"`
	BalanceCents    int64  `json:"balance_cents"`
	Rating          int64  `json:"rating"`
	BetsWon         int    `json:"bets_won"`
	BetsProfitCents int64  `json:"bets_profit_cents"`
	PredictionsWon  int    `json:"predictions_won"`
}

// Postgres implementa o agregador de rating. Cada aplicação é gravada em
// rating_events com a mesma chave de idempotência da liquidação do item,
// então reexecutar nunca conta duas vezes.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// ApplyBet incrementa rating e estatísticas do usuário quando uma aposta
// atinge estado terminal. Vitória vale 1 ponto a cada 100 centavos de lucro
// líquido (mínimo 1); derrota e VOID não pontuam. Idempotente por ref.
func (p *Postgres) ApplyBet(ctx context.Context, ref, userID, status string, stakeCents, payoutCents int64) error {
	var delta int64
	if status == "WON" {
		delta = (payoutCents - stakeCents) / 100
		if delta < 1 {
			delta = 1
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rating_events (ref, user_id, delta)
		VALUES ($1,$2,$3) ON CONFLICT (ref) DO NOTHING`, ref, userID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // já aplicado
	}

	switch status {
	case "WON":
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET rating = rating + $1,
			                 bets_won = bets_won + 1,
			                 bets_profit_cents = bets_profit_cents + $2
			WHERE user_id=$3`, delta, payoutCents-stakeCents, userID)
	case "LOST":
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET bets_lost = bets_lost + 1,
			                 bets_profit_cents = bets_profit_cents - $1
			WHERE user_id=$2`, stakeCents, userID)
	default: // VOID: reembolso não mexe em rating nem estatística
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyPrediction pontua um palpite liquidado: +5 acerto, -10 erro,
// 0 em partida anulada. Idempotente por ref.
func (p *Postgres) ApplyPrediction(ctx context.Context, ref, userID, status string) error {
	var delta int64
	switch status {
	case "CORRECT":
		delta = PredictionWinPoints
	case "INCORRECT":
		delta = PredictionLossPoints
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rating_events (ref, user_id, delta)
		VALUES ($1,$2,$3) ON CONFLICT (ref) DO NOTHING`, ref, userID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	switch status {
	case "CORRECT":
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET rating = rating + $1, predictions_won = predictions_won + 1
			WHERE user_id=$2`, delta, userID)
	case "INCORRECT":
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET rating = rating + $1, predictions_lost = predictions_lost + 1
			WHERE user_id=$2`, delta, userID)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Critérios de ordenação aceitos pelo ranking.
var leaderboardColumns = map[string]string{
	"rating":          "rating",
	"balance":         "balance_cents",
	"bets_profit":     "bets_profit_cents",
	"bets_won":        "bets_won",
	"predictions_won": "predictions_won",
}

// Leaderboard retorna o ranking ordenado pelo critério pedido ("rating" por default).
func (p *Postgres) Leaderboard(ctx context.Context, by string, limit int) ([]Entry, error) {
	col, ok := leaderboardColumns[by]
	if !ok {
		col = "rating"
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, balance_cents, rating, bets_won, bets_profit_cents, predictions_won
		FROM users
		ORDER BY `+col+` DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.BalanceCents, &e.Rating, &e.BetsWon, &e.BetsProfitCents, &e.PredictionsWon); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
