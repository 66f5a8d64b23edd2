package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundnet/fundtrack/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// Prices, shares and rates are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS funds (
	code          TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	current_price NUMERIC NOT NULL DEFAULT 0,
	change_rate   NUMERIC NOT NULL DEFAULT 0,
	nav           NUMERIC NOT NULL DEFAULT 0,
	nav_date      TEXT NOT NULL DEFAULT '',
	last_updated  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	fund_code  TEXT NOT NULL REFERENCES funds (code),
	shares     NUMERIC NOT NULL CHECK (shares >= 0),
	cost_price NUMERIC NOT NULL CHECK (cost_price >= 0),
	group_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	seq        BIGSERIAL,
	UNIQUE (fund_code, group_name)
);

CREATE TABLE IF NOT EXISTS fund_groups (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	color      TEXT NOT NULL,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS estimate_history (
	id          BIGSERIAL PRIMARY KEY,
	fund_code   TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	change_rate NUMERIC NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_estimate_history_fund ON estimate_history (fund_code, id);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// --- Funds ---

func (s *PostgresStore) UpsertFund(ctx context.Context, f *model.Fund) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funds (code, name, current_price, change_rate, nav, nav_date, last_updated, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)
		 ON CONFLICT (code) DO UPDATE SET
		   name = CASE WHEN EXCLUDED.name = '' THEN funds.name ELSE EXCLUDED.name END`,
		f.Code, f.Name, f.CurrentPrice.String(), f.ChangeRate.String(), f.NAV.String(),
		f.NAVDate, nullTime(f.LastUpdated), createdAt,
	)
	return err
}

const pgFundColumns = `code, name, current_price::TEXT, change_rate::TEXT, nav::TEXT, nav_date, last_updated, created_at`

func (s *PostgresStore) GetFund(ctx context.Context, code string) (*model.Fund, error) {
	f, err := scanPgFund(s.pool.QueryRow(ctx, `SELECT `+pgFundColumns+` FROM funds WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: fund %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get fund %s: %w", code, err)
	}
	return &f, nil
}

func (s *PostgresStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	return listPgFunds(ctx, s.pool)
}

func listPgFunds(ctx context.Context, q pgQueryer) ([]model.Fund, error) {
	rows, err := q.Query(ctx, `SELECT `+pgFundColumns+` FROM funds ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanPgFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func (s *PostgresStore) DeleteFund(ctx context.Context, code string) error {
	var held int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE fund_code = $1`, code).Scan(&held); err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%w: fund %s is held by %d position(s)", ErrConflict, code, held)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM funds WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: fund %s", ErrNotFound, code)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM estimate_history WHERE fund_code = $1`, code)
	return err
}

func (s *PostgresStore) UpdateFundQuote(ctx context.Context, q model.Quote) error {
	var f model.Fund
	applyQuote(&f, q)
	tag, err := s.pool.Exec(ctx,
		`UPDATE funds
		 SET name = CASE WHEN name = '' THEN $2 ELSE name END,
		     current_price = $3::NUMERIC, change_rate = $4::NUMERIC,
		     nav = $5::NUMERIC, nav_date = $6, last_updated = $7
		 WHERE code = $1`,
		q.Code, q.Name,
		f.CurrentPrice.String(), f.ChangeRate.String(), f.NAV.String(), f.NAVDate,
		nullTime(f.LastUpdated),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: fund %s", ErrNotFound, q.Code)
	}
	return nil
}

// --- Positions ---

const pgPositionColumns = `id, fund_code, shares::TEXT, cost_price::TEXT, group_name, created_at, updated_at`

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, fund_code, shares, cost_price, group_name, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		p.ID, p.FundCode, p.Shares.String(), p.CostPrice.String(), p.GroupName,
		p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
	}
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	p, err := scanPgPosition(s.pool.QueryRow(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	return listPgPositions(ctx, s.pool)
}

func listPgPositions(ctx context.Context, q pgQueryer) ([]model.Position, error) {
	rows, err := q.Query(ctx, `SELECT `+pgPositionColumns+` FROM positions ORDER BY created_at, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPgPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET shares = $2::NUMERIC, cost_price = $3::NUMERIC, group_name = $4, updated_at = $5
		 WHERE id = $1`,
		p.ID, p.Shares.String(), p.CostPrice.String(), p.GroupName, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return nil
}

// --- Groups ---

func (s *PostgresStore) CreateGroup(ctx context.Context, g *model.Group) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_groups (id, name, color, sort_order, created_at) VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, g.Color, g.SortOrder, g.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
	}
	return err
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	return listPgGroups(ctx, s.pool)
}

func listPgGroups(ctx context.Context, q pgQueryer) ([]model.Group, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, color, sort_order, created_at FROM fund_groups ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Color, &g.SortOrder, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fund_groups SET name = $2, color = $3, sort_order = $4 WHERE id = $1`,
		g.ID, g.Name, g.Color, g.SortOrder,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: group %s", ErrNotFound, g.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fund_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: group %s", ErrNotFound, id)
	}
	return nil
}

// --- Estimate history ---

func (s *PostgresStore) InsertEstimate(ctx context.Context, p model.EstimatePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO estimate_history (fund_code, price, change_rate, recorded_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)`,
		p.FundCode, p.Price.String(), p.ChangeRate.String(), p.RecordedAt,
	)
	return err
}

func (s *PostgresStore) GetEstimateHistory(ctx context.Context, code string, limit int) ([]model.EstimatePoint, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT fund_code, price::TEXT, change_rate::TEXT, recorded_at FROM (
		   SELECT id, fund_code, price, change_rate, recorded_at
		   FROM estimate_history WHERE fund_code = $1
		   ORDER BY id DESC LIMIT $2
		 ) latest ORDER BY id`, code, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.EstimatePoint
	for rows.Next() {
		var p model.EstimatePoint
		var price, rate string
		if err := rows.Scan(&p.FundCode, &price, &rate, &p.RecordedAt); err != nil {
			return nil, err
		}
		var dec columnDecoder
		p.Price = dec.decimal("price", price)
		p.ChangeRate = dec.decimal("change_rate", rate)
		if dec.err != nil {
			return nil, fmt.Errorf("estimate history %s: %w", code, dec.err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (model.Settings, bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return model.Settings{}, false, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.Settings{}, false, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.Settings{}, false, err
	}
	return settingsFromKV(kv)
}

func (s *PostgresStore) PutSettings(ctx context.Context, settings model.Settings) error {
	batch := &pgx.Batch{}
	for k, v := range settingsToKV(settings) {
		batch.Queue(
			`INSERT INTO settings (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// Snapshot reads funds, positions and groups in one read-only
// repeatable-read transaction.
func (s *PostgresStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	defer tx.Rollback(ctx)

	funds, err := listPgFunds(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot funds: %w", err)
	}
	positions, err := listPgPositions(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot positions: %w", err)
	}
	groups, err := listPgGroups(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot groups: %w", err)
	}
	return newSnapshot(funds, positions, groups), nil
}

// --- helpers ---

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanPgFund(row pgx.Row) (model.Fund, error) {
	var f model.Fund
	var price, rate, nav string
	var lastUpdated *time.Time
	if err := row.Scan(&f.Code, &f.Name, &price, &rate, &nav, &f.NAVDate, &lastUpdated, &f.CreatedAt); err != nil {
		return model.Fund{}, err
	}
	var dec columnDecoder
	f.CurrentPrice = dec.decimal("current_price", price)
	f.ChangeRate = dec.decimal("change_rate", rate)
	f.NAV = dec.decimal("nav", nav)
	if dec.err != nil {
		return model.Fund{}, fmt.Errorf("fund %s: %w", f.Code, dec.err)
	}
	if lastUpdated != nil {
		f.LastUpdated = *lastUpdated
	}
	return f, nil
}

func scanPgPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var shares, cost string
	if err := row.Scan(&p.ID, &p.FundCode, &shares, &cost, &p.GroupName, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Position{}, err
	}
	var dec columnDecoder
	p.Shares = dec.decimal("shares", shares)
	p.CostPrice = dec.decimal("cost_price", cost)
	if dec.err != nil {
		return model.Position{}, fmt.Errorf("position %s: %w", p.ID, dec.err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
