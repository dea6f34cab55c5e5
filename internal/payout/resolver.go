package payout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// Resultado terminal de uma aposta resolvida.
const (
	Won  = "WON"
	Lost = "LOST"
	Void = "VOID" // devolve o stake, nunca paga multiplicador
)

// Settled é o veredito do resolver para uma aposta.
type Settled struct {
	Status      string
	PayoutCents int64
}

// Resolve é função pura: mapeia (tipo de aposta, stake, odd travada,
// resultado) para o veredito. A odd é a capturada na hora da aposta, então
// o payout de uma aposta vencedora é determinado desde o momento em que ela
// foi feita: floor(stake × odd), nunca arredondando pra cima.
// Predicado indecidível com o payload disponível → VOID (reembolso).
func Resolve(betType string, stakeCents int64, odd decimal.Decimal, result events.MatchResultPayload) Settled {
	won, decidable := evaluate(betType, result)
	if !decidable {
		return Settled{Status: Void, PayoutCents: stakeCents}
	}
	if !won {
		return Settled{Status: Lost, PayoutCents: 0}
	}
	payout := decimal.NewFromInt(stakeCents).Mul(odd).Floor().IntPart()
	return Settled{Status: Won, PayoutCents: payout}
}

// ResolveVoid é o veredito de partida anulada: todo stake volta.
func ResolveVoid(stakeCents int64) Settled {
	return Settled{Status: Void, PayoutCents: stakeCents}
}

// evaluate aplica o predicado do tipo de aposta sobre o resultado.
// decidable=false quando o payload não traz o dado necessário ou quando
// o mercado dá push (empate no DNB, linha inteira batida em cheio).
func evaluate(betType string, r events.MatchResultPayload) (won, decidable bool) {
	// Apostas feitas ao vivo carregam prefixo LIVE_, mesmo predicado
	betType = strings.TrimPrefix(betType, "LIVE_")

	// Sem outcome o resultado inteiro é inapurável (partida abandonada)
	if r.Outcome == "" {
		return false, false
	}

	total := r.HomeScore + r.AwayScore

	switch {
	// Resultado da partida (1x2)
	case betType == "home" || betType == "draw" || betType == "away":
		return betType == r.Outcome, true

	// Placar exato
	case strings.HasPrefix(betType, "score_"):
		score := strings.TrimPrefix(betType, "score_")
		return score == fmt.Sprintf("%d-%d", r.HomeScore, r.AwayScore), true

	// Totais de gols
	case strings.HasPrefix(betType, "total_over_"):
		return overLine(betType, "total_over_", total)
	case strings.HasPrefix(betType, "total_under_"):
		return underLine(betType, "total_under_", total)

	// Ambas marcam
	case betType == "btts_yes":
		return r.HomeScore > 0 && r.AwayScore > 0, true
	case betType == "btts_no":
		return !(r.HomeScore > 0 && r.AwayScore > 0), true

	// Par/ímpar do total de gols
	case betType == "total_even":
		return total%2 == 0, true
	case betType == "total_odd":
		return total%2 == 1, true

	// Escanteios
	case strings.HasPrefix(betType, "corners_over_"):
		if r.TotalCorners == nil {
			return false, false
		}
		return overLine(betType, "corners_over_", *r.TotalCorners)
	case strings.HasPrefix(betType, "corners_under_"):
		if r.TotalCorners == nil {
			return false, false
		}
		return underLine(betType, "corners_under_", *r.TotalCorners)

	// Cartões
	case strings.HasPrefix(betType, "cards_over_"):
		if r.TotalCards == nil {
			return false, false
		}
		return overLine(betType, "cards_over_", *r.TotalCards)
	case strings.HasPrefix(betType, "cards_under_"):
		if r.TotalCards == nil {
			return false, false
		}
		return underLine(betType, "cards_under_", *r.TotalCards)

	// Total individual dos mandantes
	case strings.HasPrefix(betType, "home_over_"):
		return overLine(betType, "home_over_", r.HomeScore)
	case strings.HasPrefix(betType, "home_under_"):
		return underLine(betType, "home_under_", r.HomeScore)

	// Total individual dos visitantes
	case strings.HasPrefix(betType, "away_over_"):
		return overLine(betType, "away_over_", r.AwayScore)
	case strings.HasPrefix(betType, "away_under_"):
		return underLine(betType, "away_under_", r.AwayScore)

	// Pênalti na partida
	case betType == "penalty_yes":
		if r.HasPenalty == nil {
			return false, false
		}
		return *r.HasPenalty, true
	case betType == "penalty_no":
		if r.HasPenalty == nil {
			return false, false
		}
		return !*r.HasPenalty, true

	// Dupla chance
	case betType == "dc_1x":
		return r.Outcome == "home" || r.Outcome == "draw", true
	case betType == "dc_x2":
		return r.Outcome == "draw" || r.Outcome == "away", true
	case betType == "dc_12":
		return r.Outcome == "home" || r.Outcome == "away", true

	// Empate anula (Draw No Bet): empate devolve o stake
	case betType == "dnb_home":
		if r.Outcome == "draw" {
			return false, false
		}
		return r.Outcome == "home", true
	case betType == "dnb_away":
		if r.Outcome == "draw" {
			return false, false
		}
		return r.Outcome == "away", true

	// Quem faz o primeiro gol; feed sem o dado → VOID
	case strings.HasPrefix(betType, "first_goal_"):
		if r.FirstGoal == "" {
			return false, false
		}
		return betType == "first_goal_"+r.FirstGoal, true
	}

	// Tipo desconhecido na liquidação: impossível julgar
	return false, false
}

// overLine avalia "prefixoX" como valor > X. Linha inteira batida em cheio
// (ex: total_over_3 com 3 gols) é push: nenhum lado ganha, o stake volta.
func overLine(betType, prefix string, value int) (bool, bool) {
	line, err := decimal.NewFromString(strings.TrimPrefix(betType, prefix))
	if err != nil {
		return false, false
	}
	v := decimal.NewFromInt(int64(value))
	if line.IsInteger() && v.Equal(line) {
		return false, false
	}
	return v.GreaterThan(line), true
}

// underLine avalia "prefixoX" como valor < X, com o mesmo push da overLine
func underLine(betType, prefix string, value int) (bool, bool) {
	line, err := decimal.NewFromString(strings.TrimPrefix(betType, prefix))
	if err != nil {
		return false, false
	}
	v := decimal.NewFromInt(int64(value))
	if line.IsInteger() && v.Equal(line) {
		return false, false
	}
	return v.LessThan(line), true
}
