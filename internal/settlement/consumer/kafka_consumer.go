package consumer

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/oddscache"
	"github.com/fanarena/fanbet-core/internal/settlement"
	"github.com/fanarena/fanbet-core/internal/shared/kafka"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// Processor consome o feed de partidas do Kafka e reage por status:
// "scheduled" registra/atualiza a partida e publica as odds no cache,
// "finished" e "voided" acionam o motor de liquidação.
// Mensagens malformadas vão para a DLQ quando configurada.
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Processor struct {
	Log     *zap.Logger
	Reader  *kafkago.Reader
	DLQ     *kafkago.Writer
	Matches *matchstore.Postgres
	Odds    *oddscache.Source
	Engine  *settlement.Engine

	OnConsumed func()       // métricas (counter++)
	OnSettled  func()       // métricas: partida processada pelo motor
	OnError    func(string) // métricas por fase
}

// Run inicia o loop principal de consumo e processamento das mensagens Kafka
func (p *Processor) Run(ctx context.Context) error {
	for {
		key, value, err := kafka.ReadNext(ctx, p.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			if p.OnError != nil {
				p.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed() // callback de métrica: mensagem consumida
		}

		var ev events.MatchResult
		if err := json.Unmarshal(value, &ev); err != nil || ev.MatchID == "" {
			p.Log.Warn("invalid message", zap.Error(err))
			if p.OnError != nil {
				p.OnError("decode")
			}
			p.toDLQ(ctx, key, value)
			continue
		}

		switch ev.Status {
		case events.MatchScheduled:
			p.handleScheduled(ctx, &ev)
		case events.MatchFinished:
			if ev.Result == nil {
				p.Log.Warn("finished event without result", zap.String("matchId", ev.MatchID))
				if p.OnError != nil {
					p.OnError("decode")
				}
				p.toDLQ(ctx, key, value)
				continue
			}
			p.handleSettle(ctx, &ev, false)
		case events.MatchVoided:
			p.handleSettle(ctx, &ev, true)
		default:
			p.Log.Warn("unknown match status", zap.String("matchId", ev.MatchID), zap.String("status", ev.Status))
			if p.OnError != nil {
				p.OnError("decode")
			}
			p.toDLQ(ctx, key, value)
		}
	}
}

// handleScheduled registra a partida com lock_at = kickoff e publica as odds.
// O upsert não mexe em partida que já saiu de SCHEDULED.
func (p *Processor) handleScheduled(ctx context.Context, ev *events.MatchResult) {
	kickoff := time.Unix(ev.KickoffUnix, 0).UTC()
	if err := p.Matches.UpsertSchedule(ctx, ev.MatchID, ev.HomeTeam, ev.AwayTeam, kickoff); err != nil {
		p.Log.Error("match upsert failed", zap.String("matchId", ev.MatchID), zap.Error(err))
		if p.OnError != nil {
			p.OnError("db_upsert")
		}
		return
	}

	for betType, odd := range ev.Odds {
		if err := p.Matches.UpsertOdds(ctx, ev.MatchID, betType, odd); err != nil {
			p.Log.Warn("odds upsert failed",
				zap.String("matchId", ev.MatchID), zap.String("betType", betType), zap.Error(err))
			if p.OnError != nil {
				p.OnError("db_odds")
			}
			continue
		}
		// cache é best-effort: no miss o leitor cai no Postgres
		if err := p.Odds.Publish(ctx, ev.MatchID, betType, odd); err != nil {
			p.Log.Warn("odds cache publish failed",
				zap.String("matchId", ev.MatchID), zap.String("betType", betType), zap.Error(err))
			if p.OnError != nil {
				p.OnError("cache")
			}
		}
	}

	p.Log.Info("match scheduled",
		zap.String("matchId", ev.MatchID),
		zap.String("home", ev.HomeTeam),
		zap.String("away", ev.AwayTeam),
		zap.Time("kickoff", kickoff),
		zap.Int("odds", len(ev.Odds)),
	)
}

func (p *Processor) handleSettle(ctx context.Context, ev *events.MatchResult, void bool) {
	var sum settlement.Summary
	var err error
	if void {
		sum, err = p.Engine.Void(ctx, ev.MatchID)
	} else {
		sum, err = p.Engine.Settle(ctx, ev.MatchID, *ev.Result)
	}
	if err != nil {
		// partida desconhecida ou erro de infra: próxima entrega do feed retenta
		p.Log.Error("settlement failed", zap.String("matchId", ev.MatchID), zap.Error(err))
		if p.OnError != nil {
			p.OnError("settle")
		}
		return
	}

	if p.OnSettled != nil {
		p.OnSettled()
	}
	p.Log.Info("match processed",
		zap.String("matchId", sum.MatchID),
		zap.String("kind", sum.Kind),
		zap.Int("bets_settled", sum.BetsSettled),
		zap.Int("bets_failed", sum.BetsFailed),
		zap.Int("predictions_settled", sum.PredictionsSettled),
	)
}

func (p *Processor) toDLQ(ctx context.Context, key, value []byte) {
	if p.DLQ == nil {
		return
	}
	if err := kafka.WriteJSON(ctx, p.DLQ, string(key), value); err != nil {
		p.Log.Error("dlq write failed", zap.Error(err))
	}
}
