package account

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	accountsTable = "accounts"
	entriesTable  = "ledger_entries"

	colID           = "id"
	colBalance      = "balance"
	colUpdatedAt    = "updated_at"
	colAccountID    = "account_id"
	colDelta        = "delta"
	colBalanceAfter = "balance_after"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresLedger stores balances in the accounts table and appends every
// adjustment to ledger_entries in the same transaction.
type PostgresLedger struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
	initial   decimal.Decimal
}

func NewPostgresLedger(pool *pgxpool.Pool, initial decimal.Decimal) (*PostgresLedger, error) {
	m, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("create tx manager: %w", err)
	}
	return &PostgresLedger{
		pool:      pool,
		txManager: m,
		getter:    trmpgx.DefaultCtxGetter,
		initial:   initial,
	}, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := l.txManager.Do(ctx, func(ctx context.Context) error {
		if err := l.ensure(ctx, account); err != nil {
			return err
		}
		b, err := l.read(ctx, account, false)
		balance = b
		return err
	})
	return balance, err
}

func (l *PostgresLedger) Adjust(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := l.txManager.Do(ctx, func(ctx context.Context) error {
		if err := l.ensure(ctx, account); err != nil {
			return err
		}
		current, err := l.read(ctx, account, true)
		if err != nil {
			return err
		}
		balance = current

		next := current.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("adjust %s by %s: %w", account, delta.StringFixed(2), ErrInsufficientFunds)
		}
		if err := l.write(ctx, account, next); err != nil {
			return err
		}
		if err := l.appendEntry(ctx, account, delta, next); err != nil {
			return err
		}
		balance = next
		return nil
	})
	return balance, err
}

func (l *PostgresLedger) SetBalance(ctx context.Context, account string, balance decimal.Decimal) error {
	if err := validAccount(account); err != nil {
		return err
	}
	if balance.IsNegative() {
		return ErrInsufficientFunds
	}
	return l.txManager.Do(ctx, func(ctx context.Context) error {
		if err := l.ensure(ctx, account); err != nil {
			return err
		}
		current, err := l.read(ctx, account, true)
		if err != nil {
			return err
		}
		if err := l.write(ctx, account, balance); err != nil {
			return err
		}
		return l.appendEntry(ctx, account, balance.Sub(current), balance)
	})
}

func (l *PostgresLedger) ensure(ctx context.Context, account string) error {
	sqlStr, args, err := psql.Insert(accountsTable).
		Columns(colID, colBalance).
		Values(account, l.initial).
		Suffix("ON CONFLICT (" + colID + ") DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := l.getter.DefaultTrOrDB(ctx, l.pool).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("create account %s: %w", account, err)
	}
	return nil
}

func (l *PostgresLedger) read(ctx context.Context, account string, forUpdate bool) (decimal.Decimal, error) {
	query := psql.Select(colBalance + "::text").
		From(accountsTable).
		Where(sq.Eq{colID: account})
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return decimal.Zero, err
	}

	var raw string
	if err := l.getter.DefaultTrOrDB(ctx, l.pool).QueryRow(ctx, sqlStr, args...).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w", account, err)
	}
	return decimal.NewFromString(raw)
}

func (l *PostgresLedger) write(ctx context.Context, account string, balance decimal.Decimal) error {
	sqlStr, args, err := psql.Update(accountsTable).
		Set(colBalance, balance).
		Set(colUpdatedAt, sq.Expr("now()")).
		Where(sq.Eq{colID: account}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := l.getter.DefaultTrOrDB(ctx, l.pool).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}

func (l *PostgresLedger) appendEntry(ctx context.Context, account string, delta, after decimal.Decimal) error {
	sqlStr, args, err := psql.Insert(entriesTable).
		Columns(colAccountID, colDelta, colBalanceAfter).
		Values(account, delta, after).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := l.getter.DefaultTrOrDB(ctx, l.pool).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("append ledger entry %s: %w", account, err)
	}
	return nil
}
