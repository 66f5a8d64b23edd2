package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fundnet/fundtrack/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. It is the default
// store for a single-user install. Decimals are stored as TEXT so no
// precision is lost; timestamps as RFC 3339 TEXT in UTC.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS funds (
		code          TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		current_price TEXT NOT NULL DEFAULT '0',
		change_rate   TEXT NOT NULL DEFAULT '0',
		nav           TEXT NOT NULL DEFAULT '0',
		nav_date      TEXT NOT NULL DEFAULT '',
		last_updated  TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id         TEXT PRIMARY KEY,
		fund_code  TEXT NOT NULL,
		shares     TEXT NOT NULL,
		cost_price TEXT NOT NULL,
		group_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (fund_code, group_name)
	)`,
	`CREATE TABLE IF NOT EXISTS fund_groups (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		color      TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS estimate_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_code   TEXT NOT NULL,
		price       TEXT NOT NULL,
		change_rate TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_estimate_history_fund ON estimate_history (fund_code, id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Migrate creates missing tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// --- Funds ---

func (s *SQLiteStore) UpsertFund(ctx context.Context, f *model.Fund) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO funds (code, name, current_price, change_rate, nav, nav_date, last_updated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   name = CASE WHEN excluded.name = '' THEN funds.name ELSE excluded.name END`,
		f.Code, f.Name, f.CurrentPrice.String(), f.ChangeRate.String(),
		f.NAV.String(), f.NAVDate, formatTime(f.LastUpdated), formatTime(f.CreatedAt),
	)
	return err
}

const fundColumns = `code, name, current_price, change_rate, nav, nav_date, last_updated, created_at`

func (s *SQLiteStore) GetFund(ctx context.Context, code string) (*model.Fund, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fundColumns+` FROM funds WHERE code = ?`, code)
	f, err := scanFund(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fund %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get fund %s: %w", code, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	return listSQLiteFunds(ctx, s.db)
}

func listSQLiteFunds(ctx context.Context, q sqlQueryer) ([]model.Fund, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fundColumns+` FROM funds ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func (s *SQLiteStore) DeleteFund(ctx context.Context, code string) error {
	var held int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE fund_code = ?`, code).Scan(&held); err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%w: fund %s is held by %d position(s)", ErrConflict, code, held)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM funds WHERE code = ?`, code)
	if err != nil {
		return err
	}
	if err := expectOne(res, "fund", code); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM estimate_history WHERE fund_code = ?`, code)
	return err
}

func (s *SQLiteStore) UpdateFundQuote(ctx context.Context, q model.Quote) error {
	var f model.Fund
	applyQuote(&f, q)
	res, err := s.db.ExecContext(ctx,
		`UPDATE funds
		 SET name = CASE WHEN name = '' THEN ? ELSE name END,
		     current_price = ?, change_rate = ?, nav = ?, nav_date = ?, last_updated = ?
		 WHERE code = ?`,
		q.Name,
		f.CurrentPrice.String(), f.ChangeRate.String(), f.NAV.String(), f.NAVDate,
		formatTime(f.LastUpdated), q.Code,
	)
	if err != nil {
		return err
	}
	return expectOne(res, "fund", q.Code)
}

// --- Positions ---

const positionColumns = `id, fund_code, shares, cost_price, group_name, created_at, updated_at`

func (s *SQLiteStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FundCode, p.Shares.String(), p.CostPrice.String(), p.GroupName,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
	}
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	return listSQLitePositions(ctx, s.db)
}

func listSQLitePositions(ctx context.Context, q sqlQueryer) ([]model.Position, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET shares = ?, cost_price = ?, group_name = ?, updated_at = ? WHERE id = ?`,
		p.Shares.String(), p.CostPrice.String(), p.GroupName, formatTime(p.UpdatedAt), p.ID,
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
	}
	if err != nil {
		return err
	}
	return expectOne(res, "position", p.ID)
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, "position", id)
}

// --- Groups ---

func (s *SQLiteStore) CreateGroup(ctx context.Context, g *model.Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fund_groups (id, name, color, sort_order, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Color, g.SortOrder, formatTime(g.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
	}
	return err
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	return listSQLiteGroups(ctx, s.db)
}

func listSQLiteGroups(ctx context.Context, q sqlQueryer) ([]model.Group, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, color, sort_order, created_at FROM fund_groups ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.Color, &g.SortOrder, &createdAt); err != nil {
			return nil, err
		}
		var dec columnDecoder
		g.CreatedAt = dec.time("created_at", createdAt)
		if dec.err != nil {
			return nil, fmt.Errorf("group %s: %w", g.ID, dec.err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fund_groups SET name = ?, color = ?, sort_order = ? WHERE id = ?`,
		g.Name, g.Color, g.SortOrder, g.ID,
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
	}
	if err != nil {
		return err
	}
	return expectOne(res, "group", g.ID)
}

func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fund_groups WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, "group", id)
}

// --- Estimate history ---

func (s *SQLiteStore) InsertEstimate(ctx context.Context, p model.EstimatePoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO estimate_history (fund_code, price, change_rate, recorded_at) VALUES (?, ?, ?, ?)`,
		p.FundCode, p.Price.String(), p.ChangeRate.String(), formatTime(p.RecordedAt),
	)
	return err
}

func (s *SQLiteStore) GetEstimateHistory(ctx context.Context, code string, limit int) ([]model.EstimatePoint, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fund_code, price, change_rate, recorded_at FROM (
		   SELECT id, fund_code, price, change_rate, recorded_at
		   FROM estimate_history WHERE fund_code = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.EstimatePoint
	for rows.Next() {
		var p model.EstimatePoint
		var price, rate, at string
		if err := rows.Scan(&p.FundCode, &price, &rate, &at); err != nil {
			return nil, err
		}
		var dec columnDecoder
		p.Price = dec.decimal("price", price)
		p.ChangeRate = dec.decimal("change_rate", rate)
		p.RecordedAt = dec.time("recorded_at", at)
		if dec.err != nil {
			return nil, fmt.Errorf("estimate history %s: %w", code, dec.err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (model.Settings, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
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

func (s *SQLiteStore) PutSettings(ctx context.Context, settings model.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range settingsToKV(settings) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Snapshot reads funds, positions and groups inside one transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer tx.Rollback()

	funds, err := listSQLiteFunds(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot funds: %w", err)
	}
	positions, err := listSQLitePositions(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot positions: %w", err)
	}
	groups, err := listSQLiteGroups(ctx, tx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot groups: %w", err)
	}
	return newSnapshot(funds, positions, groups), nil
}

// --- helpers ---

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFund(row rowScanner) (model.Fund, error) {
	var f model.Fund
	var price, rate, nav, lastUpdated, createdAt string
	if err := row.Scan(&f.Code, &f.Name, &price, &rate, &nav, &f.NAVDate, &lastUpdated, &createdAt); err != nil {
		return model.Fund{}, err
	}
	var dec columnDecoder
	f.CurrentPrice = dec.decimal("current_price", price)
	f.ChangeRate = dec.decimal("change_rate", rate)
	f.NAV = dec.decimal("nav", nav)
	f.LastUpdated = dec.time("last_updated", lastUpdated)
	f.CreatedAt = dec.time("created_at", createdAt)
	if dec.err != nil {
		return model.Fund{}, fmt.Errorf("fund %s: %w", f.Code, dec.err)
	}
	return f, nil
}

func scanPosition(row rowScanner) (model.Position, error) {
	var p model.Position
	var shares, cost, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.FundCode, &shares, &cost, &p.GroupName, &createdAt, &updatedAt); err != nil {
		return model.Position{}, err
	}
	var dec columnDecoder
	p.Shares = dec.decimal("shares", shares)
	p.CostPrice = dec.decimal("cost_price", cost)
	p.CreatedAt = dec.time("created_at", createdAt)
	p.UpdatedAt = dec.time("updated_at", updatedAt)
	if dec.err != nil {
		return model.Position{}, fmt.Errorf("position %s: %w", p.ID, dec.err)
	}
	return p, nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// sqliteTimeLayout is fixed-width so TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

