package topics

const (
	// Feed de resultados
	MatchResults = "match_results"

	// Liquidação
	BetSettled = "bet_settled"

	// DLQs
	MatchResultsDLQ = "match_results_dlq"
)
