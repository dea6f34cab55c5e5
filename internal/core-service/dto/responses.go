package dto

type PlaceBetResponse struct {
	BetID      string `json:"betId"`
	Status     string `json:"status"` // OPEN
	OddValue   string `json:"odd_value"`
	StakeCents int64  `json:"stake_cents"`
}

type SellBetResponse struct {
	BetID          string `json:"betId"`
	Status         string `json:"status"` // SOLD
	SellPriceCents int64  `json:"sell_price_cents"`
}

type PredictionResponse struct {
	PredictionID string `json:"predictionId"`
	Status       string `json:"status"`
}

type WalletResponse struct {
	UserID       string `json:"userId"`
	BalanceCents int64  `json:"balance_cents"`
}
