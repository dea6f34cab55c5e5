package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Postgres implementa o livro-razão de saldos em banco
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")

	// ErrAlreadyApplied indica replay de uma chave de idempotência: o saldo
	// retornado é o resultado da aplicação original, nada foi reaplicado.
	ErrAlreadyApplied = errors.New("already applied")
)

// Entry é uma linha do livro-razão (histórico de transações do usuário).
type Entry struct {
	IdempotencyKey    string    `json:"idempotency_key"`
	UserID            string    `json:"userId"`
	OpType            string    `json:"op_type"` // "DEBIT" | "CREDIT"
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}

// GetOrCreate retorna o saldo do usuário, criando a conta zerada se não existir
// Usa transação para garantir atomicidade
func (p *Postgres) GetOrCreate(ctx context.Context, userID string) (balance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var bal int64
	err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE user_id=$1`, userID).Scan(&bal)
	if err == sql.ErrNoRows {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO users(user_id, balance_cents, wager_remaining_cents, rating, version) VALUES($1,0,0,0,1)`,
			userID); err != nil {
			return 0, err
		}
		bal = 0
	} else if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return bal, nil
}

// Debit subtrai do saldo com guarda de idempotência
// Retorna ErrInsufficientFunds sem efeito parcial se o saldo for menor que o valor;
// replay da mesma chave retorna o saldo original com ErrAlreadyApplied.
// O lock pessimista na linha do usuário serializa mutações concorrentes do mesmo usuário.
func (p *Postgres) Debit(ctx context.Context, userID string, amount int64, key, description string) (newBalance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int64
	if err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}

	// Idempotência: a verificação acontece depois do lock da linha do usuário,
	// então operações concorrentes com a mesma chave serializam aqui
	var prior int64
	err = tx.QueryRowContext(ctx, `SELECT balance_after_cents FROM ledger_entries WHERE idempotency_key=$1`, key).Scan(&prior)
	if err == nil {
		return prior, ErrAlreadyApplied
	} else if err != sql.ErrNoRows {
		return 0, err
	}

	if balance < amount {
		return 0, ErrInsufficientFunds
	}

	newBalance = balance - amount
	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_cents = $1,
		                 wager_remaining_cents = GREATEST(wager_remaining_cents - $2, 0),
		                 version = version + 1
		WHERE user_id=$3`, newBalance, amount, userID); err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(idempotency_key, user_id, op_type, amount_cents, balance_after_cents, description)
		VALUES($1,$2,'DEBIT',$3,$4,$5)`,
		key, userID, amount, newBalance, description); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Credit soma ao saldo com guarda de idempotência
// Replay da mesma chave retorna o saldo original com ErrAlreadyApplied.
func (p *Postgres) Credit(ctx context.Context, userID string, amount int64, key, description string) (newBalance int64, err error) {
	return p.credit(ctx, userID, amount, key, description, false)
}

// Deposit credita pontos comprados: igual ao Credit, mas o valor entra no
// rollover (wager) que o usuário precisa apostar antes de resgatar prêmios.
func (p *Postgres) Deposit(ctx context.Context, userID string, amount int64, key, description string) (newBalance int64, err error) {
	return p.credit(ctx, userID, amount, key, description, true)
}

func (p *Postgres) credit(ctx context.Context, userID string, amount int64, key, description string, affectWager bool) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		// Crédito para usuário ainda sem conta cria a conta na hora
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO users(user_id, balance_cents, wager_remaining_cents, rating, version) VALUES($1,0,0,0,1)`,
			userID); err != nil {
			return 0, err
		}
		balance = 0
	} else if err != nil {
		return 0, err
	}

	var prior int64
	err = tx.QueryRowContext(ctx, `SELECT balance_after_cents FROM ledger_entries WHERE idempotency_key=$1`, key).Scan(&prior)
	if err == nil {
		return prior, ErrAlreadyApplied
	} else if err != sql.ErrNoRows {
		return 0, err
	}

	newBalance := balance + amount
	wagerDelta := int64(0)
	if affectWager {
		wagerDelta = amount
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_cents = $1,
		                 wager_remaining_cents = wager_remaining_cents + $2,
		                 version = version + 1
		WHERE user_id=$3`, newBalance, wagerDelta, userID); err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(idempotency_key, user_id, op_type, amount_cents, balance_after_cents, description)
		VALUES($1,$2,'CREDIT',$3,$4,$5)`,
		key, userID, amount, newBalance, description); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Entries retorna o histórico de transações do usuário, mais recentes primeiro
func (p *Postgres) Entries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT idempotency_key, user_id, op_type, amount_cents, balance_after_cents, description, created_at
		FROM ledger_entries WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.IdempotencyKey, &e.UserID, &e.OpType, &e.AmountCents, &e.BalanceAfterCents, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
