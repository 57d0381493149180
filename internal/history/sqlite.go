package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"crashgame/internal/game"
)

var sqliteSelectColumns = []string{
	colID, colRoundIndex, colTier, colServerSeed, colDigest, colCommitment,
	colScalingFactor, colRiskScore, colBetCount, colPunishmentThreshold, colPunishmentSlope,
	colCrashPoint, colMaxPayout, colTotalWagered, colTotalPaid, colStartedAt, colCrashedAt,
}

// SQLiteStore keeps round history in a local SQLite file. Timestamps are
// stored as unix milliseconds and amounts as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			round_index INTEGER NOT NULL,
			tier TEXT NOT NULL,
			server_seed TEXT NOT NULL,
			digest TEXT NOT NULL,
			commitment TEXT NOT NULL,
			scaling_factor REAL NOT NULL,
			risk_score REAL NOT NULL,
			bet_count INTEGER NOT NULL,
			punishment_threshold REAL NOT NULL,
			punishment_slope REAL NOT NULL,
			crash_point REAL NOT NULL,
			max_payout REAL NOT NULL,
			total_wagered TEXT NOT NULL,
			total_paid TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			crashed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_crashed_at ON rounds(crashed_at DESC);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate sqlite history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Record(ctx context.Context, rec game.RoundRecord) error {
	query, args, err := sq.Insert(roundsTable).
		Options("OR IGNORE").
		Columns(insertColumns...).
		Values(
			rec.RoundID, rec.Index, string(rec.Tier), rec.ServerSeed, rec.Digest, rec.Commitment,
			rec.ScalingFactor, rec.RiskScore, rec.BetCount, rec.PunishmentThreshold, rec.PunishmentSlope,
			rec.CrashPoint, rec.MaxPayout, rec.TotalWagered.StringFixed(2), rec.TotalPaid.StringFixed(2),
			rec.StartedAt.UnixMilli(), rec.CrashedAt.UnixMilli(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert round %s: %w", rec.RoundID, err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]game.RoundRecord, error) {
	query, args, err := sq.Select(sqliteSelectColumns...).
		From(roundsTable).
		OrderBy(colCrashedAt + " DESC").
		Limit(uint64(ClampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []game.RoundRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, roundID string) (game.RoundRecord, error) {
	query, args, err := sq.Select(sqliteSelectColumns...).
		From(roundsTable).
		Where(sq.Eq{colID: roundID}).
		ToSql()
	if err != nil {
		return game.RoundRecord{}, fmt.Errorf("build select: %w", err)
	}

	rec, err := scanSQLite(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return game.RoundRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := sq.Delete(roundsTable).
		Where(sq.Lt{colCrashedAt: before.UnixMilli()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune rounds: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (game.RoundRecord, error) {
	var rec game.RoundRecord
	var tier, wagered, paid string
	var startedAt, crashedAt int64

	err := row.Scan(
		&rec.RoundID, &rec.Index, &tier, &rec.ServerSeed, &rec.Digest, &rec.Commitment,
		&rec.ScalingFactor, &rec.RiskScore, &rec.BetCount, &rec.PunishmentThreshold, &rec.PunishmentSlope,
		&rec.CrashPoint, &rec.MaxPayout, &wagered, &paid, &startedAt, &crashedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Tier = game.Tier(tier)
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	rec.CrashedAt = time.UnixMilli(crashedAt).UTC()
	if rec.TotalWagered, err = decimal.NewFromString(wagered); err != nil {
		return rec, fmt.Errorf("parse total_wagered: %w", err)
	}
	if rec.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return rec, fmt.Errorf("parse total_paid: %w", err)
	}
	return rec, nil
}
