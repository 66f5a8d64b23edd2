package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/store"
)

// openCorruptible returns a store plus a second raw handle on the same file
// for writing values the store itself would never produce.
func openCorruptible(t *testing.T) (*store.SQLiteStore, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fundtrack.db")
	st, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	raw, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return st, raw
}

func TestSQLite_CorruptFundIsAnError(t *testing.T) {
	st, raw := openCorruptible(t)
	ctx := context.Background()
	seedFund(t, st, "000001", "a")

	_, err := raw.ExecContext(ctx, `UPDATE funds SET current_price = '1.2x' WHERE code = '000001'`)
	require.NoError(t, err)

	_, err = st.GetFund(ctx, "000001")
	assert.ErrorIs(t, err, store.ErrCorrupt)
	assert.ErrorContains(t, err, "current_price")

	_, err = st.ListFunds(ctx)
	assert.ErrorIs(t, err, store.ErrCorrupt)

	_, err = st.Snapshot(ctx)
	assert.ErrorIs(t, err, store.ErrCorrupt, "a corrupt price must not value as zero")
}

func TestSQLite_CorruptPositionIsAnError(t *testing.T) {
	st, raw := openCorruptible(t)
	ctx := context.Background()
	seedFund(t, st, "000001", "a")
	require.NoError(t, st.CreatePosition(ctx, newPosition("p1", "000001", "", t0)))

	_, err := raw.ExecContext(ctx, `UPDATE positions SET shares = 'lots' WHERE id = 'p1'`)
	require.NoError(t, err)

	_, err = st.GetPosition(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrCorrupt)
	_, err = st.ListPositions(ctx)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestSQLite_CorruptTimestampIsAnError(t *testing.T) {
	st, raw := openCorruptible(t)
	ctx := context.Background()
	require.NoError(t, st.InsertEstimate(ctx, model.EstimatePoint{FundCode: "000001", Price: d("1"), RecordedAt: t0}))
	require.NoError(t, st.CreateGroup(ctx, &model.Group{ID: "g1", Name: "a", Color: "#111111", CreatedAt: t0}))

	_, err := raw.ExecContext(ctx, `UPDATE estimate_history SET recorded_at = 'yesterday'`)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE fund_groups SET created_at = '2024-13-01'`)
	require.NoError(t, err)

	_, err = st.GetEstimateHistory(ctx, "000001", 0)
	assert.ErrorIs(t, err, store.ErrCorrupt)
	_, err = st.ListGroups(ctx)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestSQLite_EmptyColumnsReadAsZero(t *testing.T) {
	st, _ := openCorruptible(t)
	seedFund(t, st, "000001", "a")

	f, err := st.GetFund(context.Background(), "000001")
	require.NoError(t, err)
	assert.True(t, f.LastUpdated.IsZero(), "never priced")
	assert.True(t, f.CurrentPrice.IsZero())
}
