package oddscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrUnknownBetType indica que não existe odd publicada para o par
// (partida, tipo de aposta) — aposta rejeitada na origem.
var ErrUnknownBetType = errors.New("unknown bet type")

// Source resolve a odd publicada de um tipo de aposta: lê do Redis e, em
// caso de miss, cai para a tabela match_odds do Postgres repovoando o cache.
// A odd retornada aqui é a odd travada no momento da aposta.
type Source struct {
	Rdb *redis.Client
	DB  *sql.DB
	TTL time.Duration
}

func NewSource(rdb *redis.Client, db *sql.DB, ttl time.Duration) *Source {
	return &Source{Rdb: rdb, DB: db, TTL: ttl}
}

// key gera a chave Redis da odd publicada
// Espera valor string com a odd decimal, ex: "1.85"
func key(matchID, betType string) string {
	return fmt.Sprintf("odds:%s:%s", matchID, betType)
}

// LockedOdd retorna a odd corrente publicada para (partida, tipo de aposta).
func (s *Source) LockedOdd(ctx context.Context, matchID, betType string) (decimal.Decimal, error) {
	if val, err := s.Rdb.Get(ctx, key(matchID, betType)).Result(); err == nil {
		return decimal.NewFromString(val)
	}
	// miss ou Redis fora do ar: não derruba a aposta, segue pro banco

	var val string
	err := s.DB.QueryRowContext(ctx,
		`SELECT odd_value FROM match_odds WHERE match_id=$1 AND bet_type=$2`, matchID, betType).Scan(&val)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, ErrUnknownBetType
	} else if err != nil {
		return decimal.Decimal{}, err
	}

	// Repovoa o cache; falha aqui não invalida a leitura
	_ = s.Rdb.Set(ctx, key(matchID, betType), val, s.TTL).Err()

	return decimal.NewFromString(val)
}

// Publish grava a odd no Redis (caminho de escrita do worker ao receber
// a agenda do feed).
func (s *Source) Publish(ctx context.Context, matchID, betType, oddValue string) error {
	return s.Rdb.Set(ctx, key(matchID, betType), oddValue, s.TTL).Err()
}
