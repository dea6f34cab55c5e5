package dto

import "github.com/fanarena/fanbet-core/pkg/contracts/events"

type PlaceBetRequest struct {
	UserID     string `json:"userId"`
	MatchID    string `json:"matchId"`
	BetType    string `json:"betType"` // ex: "home", "score_2-1", "total_over_2.5"
	StakeCents int64  `json:"stake_cents"`
}

type SellBetRequest struct {
	UserID string `json:"userId"`
}

type PlacePredictionRequest struct {
	UserID  string `json:"userId"`
	MatchID string `json:"matchId"`
	Outcome string `json:"outcome"` // "home" | "draw" | "away"
}

type DepositRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref,omitempty"` // opcional p/ idempotência simples
}

type AdminSettleRequest struct {
	Result events.MatchResultPayload `json:"result"`
}
