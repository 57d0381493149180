package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var pgSelectColumns = []string{
	colID, colRoundIndex, colTier, colServerSeed, colDigest, colCommitment,
	colScalingFactor, colRiskScore, colBetCount, colPunishmentThreshold, colPunishmentSlope,
	colCrashPoint, colMaxPayout, colTotalWagered + "::text", colTotalPaid + "::text", colStartedAt, colCrashedAt,
}

// PostgresStore keeps round history in the rounds table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Record(ctx context.Context, rec game.RoundRecord) error {
	query, args, err := psql.Insert(roundsTable).
		Columns(insertColumns...).
		Values(
			rec.RoundID, rec.Index, string(rec.Tier), rec.ServerSeed, rec.Digest, rec.Commitment,
			rec.ScalingFactor, rec.RiskScore, rec.BetCount, rec.PunishmentThreshold, rec.PunishmentSlope,
			rec.CrashPoint, rec.MaxPayout, rec.TotalWagered.Round(2), rec.TotalPaid.Round(2),
			rec.StartedAt, rec.CrashedAt,
		).
		Suffix("ON CONFLICT (" + colID + ") DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert round %s: %w", rec.RoundID, err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]game.RoundRecord, error) {
	query, args, err := psql.Select(pgSelectColumns...).
		From(roundsTable).
		OrderBy(colCrashedAt + " DESC").
		Limit(uint64(ClampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []game.RoundRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, roundID string) (game.RoundRecord, error) {
	query, args, err := psql.Select(pgSelectColumns...).
		From(roundsTable).
		Where(sq.Eq{colID: roundID}).
		ToSql()
	if err != nil {
		return game.RoundRecord{}, fmt.Errorf("build select: %w", err)
	}

	rec, err := scanPostgres(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.RoundRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := psql.Delete(roundsTable).
		Where(sq.Lt{colCrashedAt: before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune rounds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the database service.
func (s *PostgresStore) Close() error {
	return nil
}

func scanPostgres(row pgx.Row) (game.RoundRecord, error) {
	var rec game.RoundRecord
	var tier, wagered, paid string
	err := row.Scan(
		&rec.RoundID, &rec.Index, &tier, &rec.ServerSeed, &rec.Digest, &rec.Commitment,
		&rec.ScalingFactor, &rec.RiskScore, &rec.BetCount, &rec.PunishmentThreshold, &rec.PunishmentSlope,
		&rec.CrashPoint, &rec.MaxPayout, &wagered, &paid, &rec.StartedAt, &rec.CrashedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Tier = game.Tier(tier)
	if rec.TotalWagered, err = decimal.NewFromString(wagered); err != nil {
		return rec, fmt.Errorf("parse total_wagered: %w", err)
	}
	if rec.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return rec, fmt.Errorf("parse total_paid: %w", err)
	}
	return rec, nil
}
