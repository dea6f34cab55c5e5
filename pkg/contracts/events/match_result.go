package events

import "time"

// Status do item do feed de resultados
const (
	MatchScheduled = "scheduled"
	MatchFinished  = "finished"
	MatchVoided    = "voided"
)

// MatchResultPayload é o resultado final de uma partida, opaco para o core
// exceto como entrada dos predicados por tipo de aposta.
// Campos opcionais ficam nulos quando o feed não conseguiu apurar o dado.
type MatchResultPayload struct {
	Outcome      string `json:"outcome"` // "home" | "draw" | "away"
	HomeScore    int    `json:"home_score"`
	AwayScore    int    `json:"away_score"`
	TotalCorners *int   `json:"total_corners,omitempty"`
	TotalCards   *int   `json:"total_cards,omitempty"`
	HasPenalty   *bool  `json:"has_penalty,omitempty"`
	FirstGoal    string `json:"first_goal,omitempty"` // "home" | "away" | "none" | "" (desconhecido)
}

// MatchResult é o evento publicado no tópico "match_results".
// Com status "scheduled" carrega agenda e odds publicadas; com "finished"
// carrega o resultado final; "voided" indica partida cancelada/adiada.
type MatchResult struct {
	MatchID     string              `json:"match_id"`
	Status      string              `json:"status"`
	HomeTeam    string              `json:"home_team"`
	AwayTeam    string              `json:"away_team"`
	KickoffUnix int64               `json:"kickoff_unix,omitempty"`
	Odds        map[string]string   `json:"odds,omitempty"` // bet_type → odd decimal em string
	Result      *MatchResultPayload `json:"result,omitempty"`
	Source      string              `json:"source"` // "result-feed" | "feed-simulator" | "admin"
	Ts          time.Time           `json:"ts"`
}
