package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundnet/fundtrack/internal/feed"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/portfolio"
	"github.com/fundnet/fundtrack/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeRefresher records calls and prices funds from a fixed table.
type fakeRefresher struct {
	st       store.Store
	quotes   map[string]model.Quote
	interval int
	runs     int
}

func (f *fakeRefresher) RefreshNow(ctx context.Context) (model.RefreshResult, error) {
	f.runs++
	funds, err := f.st.ListFunds(ctx)
	if err != nil {
		return model.RefreshResult{}, err
	}
	res := model.RefreshResult{Funds: len(funds), Failed: []string{}}
	for _, fund := range funds {
		if err := f.RefreshFund(ctx, fund.Code); err != nil {
			res.Failed = append(res.Failed, fund.Code)
			continue
		}
		res.Updated++
	}
	return res, nil
}

func (f *fakeRefresher) RefreshFund(ctx context.Context, code string) error {
	q, ok := f.quotes[code]
	if !ok {
		return errors.New("no quote")
	}
	q.At = time.Now().UTC()
	return f.st.UpdateFundQuote(ctx, q)
}

func (f *fakeRefresher) SetInterval(seconds int) error {
	f.interval = seconds
	return nil
}

type testEnv struct {
	svc    *portfolio.Service
	ms     *store.MemoryStore
	fr     *fakeRefresher
	pf     *feed.Static
	level  *slog.LevelVar
	router chi.Router
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	svc, err := portfolio.NewService(ms, model.Settings{RefreshInterval: 60, LogLevel: "info"}, nil)
	require.NoError(t, err)

	fr := &fakeRefresher{st: ms, quotes: map[string]model.Quote{}}
	svc.SetRefresher(fr)
	pf := feed.NewStatic()
	svc.SetFeed(pf)
	level := new(slog.LevelVar)
	svc.SetLevelVar(level)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{svc: svc, ms: ms, fr: fr, pf: pf, level: level, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "decode %q", w.Body.String())
}

// seedPricedFund subscribes a fund with a current quote directly in the store.
func seedPricedFund(t *testing.T, ms *store.MemoryStore, code, name, price, change string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ms.UpsertFund(ctx, &model.Fund{Code: code, Name: name, CreatedAt: time.Now().UTC()}))
	q := model.Quote{Code: code, Name: name, Price: d(price), ChangeRate: d(change), At: time.Now().UTC()}
	require.NoError(t, ms.UpdateFundQuote(ctx, q))
}

func createPosition(t *testing.T, e *testEnv, code, shares, cost, group string) model.Position {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/positions", portfolio.CreatePositionRequest{
		FundCode:  code,
		Shares:    d(shares),
		CostPrice: d(cost),
		GroupName: group,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Position
	decode(t, w, &p)
	return p
}

// --- Funds ---

func TestAddFund_NormalizesCodeAndPrices(t *testing.T) {
	e := newTestEnv(t)
	e.fr.quotes["161725"] = model.Quote{Code: "161725", Name: "招商中证白酒", Price: d("1.2"), ChangeRate: d("0.01")}

	w := e.do(t, "POST", "/api/v1/funds", portfolio.AddFundRequest{Code: " sz161725 "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var f model.Fund
	decode(t, w, &f)
	assert.Equal(t, "161725", f.Code)
	assert.Equal(t, "招商中证白酒", f.Name, "unnamed fund takes the feed's name")
	assert.True(t, f.CurrentPrice.Equal(d("1.2")), "price = %s", f.CurrentPrice)
}

func TestAddFund_FeedFailureStillSubscribes(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/funds", portfolio.AddFundRequest{Code: "000001", Name: "华夏成长"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var f model.Fund
	decode(t, w, &f)
	assert.True(t, f.LastUpdated.IsZero(), "unpriced fund should have zero last_updated")
}

func TestAddFund_InvalidCode(t *testing.T) {
	e := newTestEnv(t)
	for _, code := range []string{"", "12345", "ABCDEF"} {
		w := e.do(t, "POST", "/api/v1/funds", portfolio.AddFundRequest{Code: code})
		assert.Equal(t, http.StatusBadRequest, w.Code, "code %q", code)
	}
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/api/v1/funds", "{not json").Code)
}

func TestGetFund_NotFound(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/v1/funds/999999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/api/v1/funds/nope", nil).Code)
}

func TestUpdateFund_RenameSurvivesRefresh(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "华夏成长", "1", "0")

	w := e.do(t, "PUT", "/api/v1/funds/000001", portfolio.UpdateFundRequest{Name: " 我的成长 "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var f model.Fund
	decode(t, w, &f)
	assert.Equal(t, "我的成长", f.Name)
	assert.True(t, f.CurrentPrice.Equal(d("1")), "rename keeps the price")

	e.fr.quotes["000001"] = model.Quote{Code: "000001", Name: "华夏成长", Price: d("1.1"), ChangeRate: d("0.1")}
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/api/v1/refresh", nil).Code)

	got, err := e.ms.GetFund(context.Background(), "000001")
	require.NoError(t, err)
	assert.Equal(t, "我的成长", got.Name, "feed name must not overwrite a rename")
	assert.True(t, got.CurrentPrice.Equal(d("1.1")))
}

func TestUpdateFund_Validation(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")

	assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/api/v1/funds/000001", portfolio.UpdateFundRequest{Name: "  "}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/api/v1/funds/000001", "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/api/v1/funds/nope", portfolio.UpdateFundRequest{Name: "x"}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "PUT", "/api/v1/funds/123456", portfolio.UpdateFundRequest{Name: "x"}).Code)

	_, err := e.ms.GetFund(context.Background(), "123456")
	assert.ErrorIs(t, err, store.ErrNotFound, "rename must not subscribe")
}

func TestGetFundEstimate_LiveQuoteNotStored(t *testing.T) {
	e := newTestEnv(t)
	e.pf.Set(model.Quote{Code: "161725", Name: "招商中证白酒", NAV: d("1.4"), Estimate: d("1.5"), Price: d("1.5"), ChangeRate: d("0.02")})

	w := e.do(t, "GET", "/api/v1/funds/sz161725/estimate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp portfolio.EstimateResponse
	decode(t, w, &resp)
	assert.Equal(t, "161725", resp.Quote.Code)
	assert.True(t, resp.Quote.Price.Equal(d("1.5")))
	assert.False(t, resp.Quote.At.IsZero())
	assert.Nil(t, resp.Position, "no shares, no hypothetical lot")

	_, err := e.ms.GetFund(context.Background(), "161725")
	assert.ErrorIs(t, err, store.ErrNotFound, "estimate must not subscribe")
	history, err := e.ms.GetEstimateHistory(context.Background(), "161725", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetFundEstimate_WhatIf(t *testing.T) {
	e := newTestEnv(t)
	e.pf.Set(model.Quote{Code: "000001", Price: d("1.5"), ChangeRate: d("0.02")})

	w := e.do(t, "GET", "/api/v1/funds/000001/estimate?shares=1000&cost_price=1.2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp portfolio.EstimateResponse
	decode(t, w, &resp)
	require.NotNil(t, resp.Position)
	assert.True(t, resp.Position.Value.Equal(d("1500")), "value = %s", resp.Position.Value)
	assert.True(t, resp.Position.Gain.Equal(d("300")), "gain = %s", resp.Position.Gain)
	assert.True(t, resp.Position.GainRate.Equal(d("0.25")), "gain_rate = %s", resp.Position.GainRate)
}

func TestGetFundEstimate_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.pf.Set(model.Quote{Code: "000001", Price: d("1.5")})
	e.pf.Fail("000002", fmt.Errorf("%w: status 502", feed.ErrBadResponse))

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/funds/999999/estimate", http.StatusNotFound},
		{"/api/v1/funds/000002/estimate", http.StatusBadGateway},
		{"/api/v1/funds/nope/estimate", http.StatusBadRequest},
		{"/api/v1/funds/000001/estimate?shares=-1", http.StatusBadRequest},
		{"/api/v1/funds/000001/estimate?shares=abc", http.StatusBadRequest},
		{"/api/v1/funds/000001/estimate?cost_price=1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.do(t, "GET", tt.path, nil).Code, tt.path)
	}
}

func TestGetFundEstimate_NoFeed(t *testing.T) {
	svc, err := portfolio.NewService(store.NewMemoryStore(), model.Settings{RefreshInterval: 60, LogLevel: "info"}, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/funds/000001/estimate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteFund_HeldIsConflict(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	p := createPosition(t, e, "000001", "100", "1", "")

	require.Equal(t, http.StatusConflict, e.do(t, "DELETE", "/api/v1/funds/000001", nil).Code)
	require.Equal(t, http.StatusNoContent, e.do(t, "DELETE", "/api/v1/positions/"+p.ID, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, "DELETE", "/api/v1/funds/000001", nil).Code)
}

func TestFundHistory(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, e.ms.InsertEstimate(ctx, model.EstimatePoint{
			FundCode:   "000001",
			Price:      decimal.NewFromInt(int64(i)),
			RecordedAt: time.Now().UTC(),
		}))
	}

	w := e.do(t, "GET", "/api/v1/funds/000001/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var points []model.EstimatePoint
	decode(t, w, &points)
	require.Len(t, points, 2, "latest 2 points")
	assert.True(t, points[1].Price.Equal(d("3")), "oldest first")

	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/api/v1/funds/000001/history?limit=0", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/v1/funds/123456/history", nil).Code)
}

// --- Positions ---

func TestCreatePosition_SubscribesUnknownFund(t *testing.T) {
	e := newTestEnv(t)
	e.fr.quotes["110011"] = model.Quote{Code: "110011", Name: "易方达中小盘", Price: d("4"), ChangeRate: d("0")}

	p := createPosition(t, e, "110011", "100", "3.5", " 消费 ")
	assert.Equal(t, "消费", p.GroupName)

	f, err := e.ms.GetFund(context.Background(), "110011")
	require.NoError(t, err, "fund should be subscribed")
	assert.True(t, f.CurrentPrice.Equal(d("4")), "fund should be priced, got %s", f.CurrentPrice)
}

func TestCreatePosition_Validation(t *testing.T) {
	e := newTestEnv(t)
	cases := []portfolio.CreatePositionRequest{
		{FundCode: "bad", Shares: d("1"), CostPrice: d("1")},
		{FundCode: "000001", Shares: d("-1"), CostPrice: d("1")},
		{FundCode: "000001", Shares: d("1"), CostPrice: d("-0.01")},
	}
	for _, req := range cases {
		assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/api/v1/positions", req).Code, "%+v", req)
	}
}

func TestCreatePosition_DuplicateFundGroup(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	createPosition(t, e, "000001", "100", "1", "科技")

	w := e.do(t, "POST", "/api/v1/positions", portfolio.CreatePositionRequest{
		FundCode: "000001", Shares: d("5"), CostPrice: d("1"), GroupName: "科技",
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	// Same fund, other group is fine.
	createPosition(t, e, "000001", "5", "1", "医疗")
}

func TestUpdatePosition_Partial(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	p := createPosition(t, e, "000001", "100", "1.1", "科技")

	shares := d("150")
	w := e.do(t, "PUT", "/api/v1/positions/"+p.ID, portfolio.UpdatePositionRequest{Shares: &shares})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got model.Position
	decode(t, w, &got)
	assert.True(t, got.Shares.Equal(d("150")))
	assert.True(t, got.CostPrice.Equal(d("1.1")))
	assert.Equal(t, "科技", got.GroupName)

	neg := d("-1")
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, "PUT", "/api/v1/positions/"+p.ID, portfolio.UpdatePositionRequest{CostPrice: &neg}).Code)
	assert.Equal(t, http.StatusNotFound,
		e.do(t, "PUT", "/api/v1/positions/missing", portfolio.UpdatePositionRequest{Shares: &shares}).Code)
}

func TestGetPosition_Valued(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1.5", "0.02")
	p := createPosition(t, e, "000001", "1000", "1.2", "")

	w := e.do(t, "GET", "/api/v1/positions/"+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vp model.ValuedPosition
	decode(t, w, &vp)
	assert.True(t, vp.Value.Equal(d("1500")), "value = %s", vp.Value)
	assert.True(t, vp.Gain.Equal(d("300")), "gain = %s", vp.Gain)
	assert.False(t, vp.Stale, "freshly priced fund should not be stale")
	assert.NotNil(t, vp.PriceAgeSeconds)

	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/v1/positions/missing", nil).Code)
}

// --- Portfolio ---

func TestGetPortfolio(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1.5", "0.02")
	seedPricedFund(t, e.ms, "000002", "b", "2", "-0.01")
	createPosition(t, e, "000001", "1000", "1.2", "科技")
	createPosition(t, e, "000002", "500", "2.5", "")

	w := e.do(t, "GET", "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report model.Report
	decode(t, w, &report)
	assert.Equal(t, 60, report.RefreshInterval)
	assert.Equal(t, 2, report.Summary.PositionCount)
	assert.True(t, report.Summary.Value.Equal(d("2500")), "value = %s", report.Summary.Value)
	assert.True(t, report.Summary.Cost.Equal(d("2450")), "cost = %s", report.Summary.Cost)
	assert.True(t, report.Summary.Gain.Equal(d("50")), "gain = %s", report.Summary.Gain)

	require.Len(t, report.Groups, 2)
	assert.Equal(t, "科技", report.Groups[0].GroupName)
	assert.Equal(t, "", report.Groups[1].GroupName, "ungrouped last")
	assert.True(t, report.Positions[0].Weight.Equal(d("0.6")), "weight = %s", report.Positions[0].Weight)
	assert.Empty(t, report.StaleFunds)
}

func TestGetPortfolio_Empty(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report model.Report
	decode(t, w, &report)
	assert.True(t, report.Summary.Value.IsZero())
	assert.Zero(t, report.Summary.PositionCount)
}

func TestGetPortfolioGroups_ByFund(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	createPosition(t, e, "000001", "100", "1", "科技")
	createPosition(t, e, "000001", "300", "1", "医疗")

	w := e.do(t, "GET", "/api/v1/portfolio/groups?by=fund", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var groups []model.GroupSummary
	decode(t, w, &groups)
	require.Len(t, groups, 1)
	assert.Equal(t, "000001", groups[0].GroupName)
	assert.Equal(t, 2, groups[0].PositionCount)
	assert.True(t, groups[0].Value.Equal(d("400")), "value = %s", groups[0].Value)

	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/api/v1/portfolio/groups?by=color", nil).Code)
}

// --- Groups ---

func TestGroups_Lifecycle(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/groups", portfolio.GroupRequest{Name: "科技"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var g model.Group
	decode(t, w, &g)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, model.DefaultGroupColor, g.Color)

	assert.Equal(t, http.StatusConflict, e.do(t, "POST", "/api/v1/groups", portfolio.GroupRequest{Name: "科技"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/api/v1/groups", portfolio.GroupRequest{Name: "x", Color: "red"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/api/v1/groups", portfolio.GroupRequest{Name: "  "}).Code)

	w = e.do(t, "PUT", "/api/v1/groups/"+g.ID, portfolio.GroupRequest{Name: "科技", Color: "#ff0000", SortOrder: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Group
	decode(t, w, &updated)
	assert.Equal(t, "#ff0000", updated.Color)
	assert.Equal(t, 3, updated.SortOrder)
	assert.False(t, updated.CreatedAt.IsZero())

	assert.Equal(t, http.StatusNoContent, e.do(t, "DELETE", "/api/v1/groups/"+g.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "DELETE", "/api/v1/groups/"+g.ID, nil).Code)
}

func TestDeleteGroup_PositionsKeepName(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")

	w := e.do(t, "POST", "/api/v1/groups", portfolio.GroupRequest{Name: "医疗", Color: "#00ff00"})
	var g model.Group
	decode(t, w, &g)
	createPosition(t, e, "000001", "100", "1", "医疗")

	var before model.Report
	decode(t, e.do(t, "GET", "/api/v1/portfolio", nil), &before)
	require.Len(t, before.Groups, 1)
	assert.Equal(t, "#00ff00", before.Groups[0].Color)

	require.Equal(t, http.StatusNoContent, e.do(t, "DELETE", "/api/v1/groups/"+g.ID, nil).Code)

	var after model.Report
	decode(t, e.do(t, "GET", "/api/v1/portfolio", nil), &after)
	require.Len(t, after.Groups, 1)
	assert.Equal(t, "医疗", after.Groups[0].GroupName, "orphaned group keeps its name")
	assert.Equal(t, "", after.Groups[0].Color, "orphaned group has no color")
}

// --- Settings and refresh ---

func TestUpdateSettings(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "PUT", "/api/v1/settings", map[string]any{"refresh_interval": 120, "log_level": "DEBUG"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s model.Settings
	decode(t, w, &s)
	assert.Equal(t, 120, s.RefreshInterval)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 120, e.fr.interval)
	assert.Equal(t, slog.LevelDebug, e.level.Level())

	stored, ok, err := e.ms.GetSettings(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "settings not persisted")
	assert.Equal(t, 120, stored.RefreshInterval)

	var report model.Report
	decode(t, e.do(t, "GET", "/api/v1/portfolio", nil), &report)
	assert.Equal(t, 120, report.RefreshInterval, "engine should use the new interval")
}

func TestUpdateSettings_RejectsOutOfRange(t *testing.T) {
	e := newTestEnv(t)

	for _, body := range []map[string]any{
		{"refresh_interval": 9},
		{"refresh_interval": 3601},
		{"log_level": "loud"},
	} {
		assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/api/v1/settings", body).Code, "%v", body)
	}

	got := e.svc.Settings()
	assert.Equal(t, 60, got.RefreshInterval, "rejected update must not change settings")
	assert.Equal(t, "info", got.LogLevel)
	assert.Zero(t, e.fr.interval, "refresher must not be touched")
}

func TestRefresh(t *testing.T) {
	e := newTestEnv(t)
	seedPricedFund(t, e.ms, "000001", "a", "1", "0")
	seedPricedFund(t, e.ms, "000002", "b", "1", "0")
	e.fr.quotes["000001"] = model.Quote{Code: "000001", Price: d("1.1"), ChangeRate: d("0.1")}

	w := e.do(t, "POST", "/api/v1/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res model.RefreshResult
	decode(t, w, &res)
	assert.Equal(t, 2, res.Funds)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"000002"}, res.Failed)
}

func TestRefresh_NotConfigured(t *testing.T) {
	svc, err := portfolio.NewService(store.NewMemoryStore(), model.Settings{RefreshInterval: 60, LogLevel: "info"}, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/refresh", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewService_InvalidSettings(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := portfolio.NewService(ms, model.Settings{RefreshInterval: 1, LogLevel: "info"}, nil)
	assert.Error(t, err, "interval 1")
	_, err = portfolio.NewService(ms, model.Settings{RefreshInterval: 60, LogLevel: "chatty"}, nil)
	assert.Error(t, err, "unknown level")
}
