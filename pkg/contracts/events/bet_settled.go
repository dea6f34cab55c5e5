package events

import "time"

// Evento emitido pelo motor de liquidação após cada aposta atingir estado terminal.
type BetSettled struct {
	BetID          string    `json:"betId"`
	UserID         string    `json:"userId"`
	MatchID        string    `json:"matchId"`
	Status         string    `json:"status"` // "WON" | "LOST" | "VOID"
	PayoutCents    int64     `json:"payout_cents"`
	SettlementTxID string    `json:"settlement_tx_id"`
	Ts             time.Time `json:"ts"`
}
