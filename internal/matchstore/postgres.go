package matchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// Status do ciclo de vida de uma partida. SCHEDULED → LOCKED acontece pelo
// relógio; LOCKED → COMPLETED/VOIDED só pelo motor de liquidação.
const (
	StatusScheduled = "SCHEDULED"
	StatusLocked    = "LOCKED"
	StatusCompleted = "COMPLETED"
	StatusVoided    = "VOIDED"
)

// Tipo de liquidação gravado no registro por partida.
const (
	KindCompleted = "COMPLETED"
	KindVoided    = "VOIDED"
)

var ErrMatchNotFound = errors.New("match not found")

type Match struct {
	ID        string                     `json:"matchId"`
	HomeTeam  string                     `json:"home_team"`
	AwayTeam  string                     `json:"away_team"`
	KickoffAt time.Time                  `json:"kickoff_at"`
	LockAt    time.Time                  `json:"lock_at"`
	Status    string                     `json:"status"`
	Result    *events.MatchResultPayload `json:"result,omitempty"`
}

// SettlementRecord é o registro por partida que torna a liquidação inteira
// idempotente: existe no máximo um por match_id e, uma vez criado, o seu
// resultado é o resultado final da partida.
type SettlementRecord struct {
	MatchID   string
	Kind      string // COMPLETED | VOIDED
	Result    events.MatchResultPayload
	CreatedAt time.Time
}

// Postgres implementa a persistência de partidas
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// UpsertSchedule insere ou atualiza a agenda de uma partida vinda do feed.
// Só mexe em partidas ainda SCHEDULED; agenda de partida travada/encerrada
// não muda mais. Lock time default = kickoff.
func (p *Postgres) UpsertSchedule(ctx context.Context, id, homeTeam, awayTeam string, kickoffAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO matches (match_id, home_team, away_team, kickoff_at, lock_at, status)
		VALUES ($1,$2,$3,$4,$4,'SCHEDULED')
		ON CONFLICT (match_id) DO UPDATE SET
		  home_team = EXCLUDED.home_team,
		  away_team = EXCLUDED.away_team,
		  kickoff_at = EXCLUDED.kickoff_at,
		  lock_at = EXCLUDED.lock_at,
		  updated_at = now()
		WHERE matches.status = 'SCHEDULED'`,
		id, homeTeam, awayTeam, kickoffAt)
	return err
}

// Get retorna uma partida pelo id.
func (p *Postgres) Get(ctx context.Context, id string) (*Match, error) {
	var m Match
	var result []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT match_id, home_team, away_team, kickoff_at, lock_at, status, result
		FROM matches WHERE match_id=$1`, id).
		Scan(&m.ID, &m.HomeTeam, &m.AwayTeam, &m.KickoffAt, &m.LockAt, &m.Status, &result)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	} else if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		var payload events.MatchResultPayload
		if err := json.Unmarshal(result, &payload); err != nil {
			return nil, err
		}
		m.Result = &payload
	}
	return &m, nil
}

// LockDue transiciona SCHEDULED → LOCKED para toda partida cujo lock_at já
// passou, no mesmo relógio do banco usado na admissão de apostas.
func (p *Postgres) LockDue(ctx context.Context) (locked int64, err error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE matches SET status='LOCKED', updated_at=now() WHERE status='SCHEDULED' AND lock_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BeginSettlement cria (ou carrega) o registro de liquidação da partida com
// semântica compare-and-set: INSERT ... ON CONFLICT DO NOTHING e leitura do
// registro vencedor. Gatilhos concorrentes (feed + admin) convergem para o
// mesmo resultado gravado. Também força SCHEDULED → LOCKED caso o resultado
// chegue antes do ticker de lock.
func (p *Postgres) BeginSettlement(ctx context.Context, matchID, kind string, result events.MatchResultPayload) (*SettlementRecord, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches WHERE match_id=$1)`, matchID).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, ErrMatchNotFound
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE matches SET status='LOCKED', updated_at=now() WHERE match_id=$1 AND status='SCHEDULED'`, matchID); err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO match_settlements (match_id, kind, result)
		VALUES ($1,$2,$3)
		ON CONFLICT (match_id) DO NOTHING`, matchID, kind, payload)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	// Lê o registro vencedor: em caso de conflito o resultado já finalizado
	// é o que vale, não o payload deste gatilho
	rec := SettlementRecord{MatchID: matchID}
	var stored []byte
	if err = tx.QueryRowContext(ctx,
		`SELECT kind, result, created_at FROM match_settlements WHERE match_id=$1`, matchID).
		Scan(&rec.Kind, &stored, &rec.CreatedAt); err != nil {
		return nil, false, err
	}
	if err = json.Unmarshal(stored, &rec.Result); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return &rec, n > 0, nil
}

// Finalize marca a partida COMPLETED/VOIDED com o resultado final.
// Estados terminais são imutáveis: só transiciona a partir de LOCKED.
// Retorna se a transição aconteceu; reexecutar sobre partida terminal é no-op.
func (p *Postgres) Finalize(ctx context.Context, matchID, kind string, result events.MatchResultPayload) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE matches SET status=$1, result=$2, updated_at=now()
		WHERE match_id=$3 AND status='LOCKED'`, kind, payload, matchID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertOdds grava a odd publicada de um tipo de aposta da partida.
// Versão incrementa a cada atualização, como no histórico de odds.
func (p *Postgres) UpsertOdds(ctx context.Context, matchID, betType, oddValue string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO match_odds (match_id, bet_type, odd_value, version, updated_at)
		VALUES ($1,$2,$3,1,now())
		ON CONFLICT (match_id, bet_type) DO UPDATE SET
		  odd_value = EXCLUDED.odd_value,
		  version = match_odds.version + 1,
		  updated_at = now()`, matchID, betType, oddValue)
	return err
}
