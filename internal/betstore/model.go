package betstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status possíveis de uma aposta. SOLD é terminal e fora do alcance da
// liquidação; SETTLEMENT_FAILED é retentável na próxima passada do motor.
const (
	BetOpen             = "OPEN"
	BetWon              = "WON"
	BetLost             = "LOST"
	BetVoid             = "VOID"
	BetSold             = "SOLD"
	BetSettlementFailed = "SETTLEMENT_FAILED"
)

const (
	PredictionOpen      = "OPEN"
	PredictionCorrect   = "CORRECT"
	PredictionIncorrect = "INCORRECT"
	PredictionVoid      = "VOID"
)

// Bet é o modelo persistido no Postgres.
// OddValue é a odd capturada no momento da aposta e nunca muda depois.
type Bet struct {
	ID             string          `json:"betId"`
	UserID         string          `json:"userId"`
	MatchID        string          `json:"matchId"`
	BetType        string          `json:"betType"`
	StakeCents     int64           `json:"stake_cents"`
	OddValue       decimal.Decimal `json:"odd_value"`
	Status         string          `json:"status"`
	PayoutCents    int64           `json:"payout_cents"`
	SettlementTxID string          `json:"settlement_tx_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SettledAt      time.Time       `json:"settled_at"`
}

// Prediction é o palpite gratuito (sem stake) de um usuário numa partida.
type Prediction struct {
	ID               string    `json:"predictionId"`
	UserID           string    `json:"userId"`
	MatchID          string    `json:"matchId"`
	PredictedOutcome string    `json:"predicted_outcome"`
	Status           string    `json:"status"`
	Points           int       `json:"points"`
	CreatedAt        time.Time `json:"created_at"`
	SettledAt        time.Time `json:"settled_at"`
}
