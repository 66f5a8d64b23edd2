package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
)

const (
	DefaultBaseURL   = "https://fundgz.1234567.com.cn"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// shanghai is the feed's local time. China has no DST.
var shanghai = time.FixedZone("CST", 8*60*60)

// EastMoney fetches intraday NAV estimates from the Tiantian (EastMoney)
// estimate endpoint, one JSONP document per fund:
//
//	jsonpgz({"fundcode":"161725","name":"...","jzrq":"2024-02-29","dwjz":"1.2000",
//	         "gsz":"1.2150","gszzl":"1.25","gztime":"2024-03-01 15:00"});
type EastMoney struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the EastMoney provider.
type Option func(*EastMoney)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) Option {
	return func(e *EastMoney) {
		e.client.SetBaseURL(baseURL)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(e *EastMoney) {
		e.client.SetTimeout(timeout)
	}
}

// WithRateLimit sets the request rate.
func WithRateLimit(requestsPerSecond int) Option {
	return func(e *EastMoney) {
		if requestsPerSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *EastMoney) {
		e.logger = logger
	}
}

// WithClock overrides the fetch timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *EastMoney) {
		e.now = now
	}
}

// NewEastMoney creates a provider with browser-like headers, which the
// endpoint requires.
func NewEastMoney(opts ...Option) *EastMoney {
	client := resty.New().
		SetBaseURL(DefaultBaseURL).
		SetTimeout(DefaultTimeout).
		SetHeaders(map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			"Referer":    "https://fund.eastmoney.com/",
			"Accept":     "*/*",
		})

	e := &EastMoney{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// estimate is the JSONP payload. Every field is a string on the wire.
type estimate struct {
	FundCode  string `json:"fundcode"`
	Name      string `json:"name"`
	NAVDate   string `json:"jzrq"`
	NAV       string `json:"dwjz"`
	Estimate  string `json:"gsz"`
	ChangePct string `json:"gszzl"`
	EstTime   string `json:"gztime"`
}

// Quote fetches the latest estimate for code.
func (e *EastMoney) Quote(ctx context.Context, code string) (model.Quote, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return model.Quote{}, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := e.client.R().
		SetContext(ctx).
		SetPathParam("code", code).
		SetQueryParam("rt", fmt.Sprint(start.UnixMilli())).
		Get("/js/{code}.js")
	elapsed := time.Since(start)
	if err != nil {
		e.logger.Error("estimate request failed", "fund", code, "elapsed", elapsed, "err", err)
		return model.Quote{}, fmt.Errorf("fetch estimate %s: %w", code, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFund, code)
	default:
		e.logger.Warn("estimate non-OK response", "fund", code, "status", resp.StatusCode(), "elapsed", elapsed)
		return model.Quote{}, fmt.Errorf("%w: status %d for fund %s", ErrBadResponse, resp.StatusCode(), code)
	}

	e.logger.Debug("estimate fetched", "fund", code, "elapsed", elapsed)
	return parseEstimate(code, resp.Body(), e.now())
}

// parseEstimate decodes a jsonpgz(...) body.
func parseEstimate(code string, body []byte, fetchedAt time.Time) (model.Quote, error) {
	start := bytes.IndexByte(body, '(')
	end := bytes.LastIndexByte(body, ')')
	if start < 0 || end < start {
		return model.Quote{}, fmt.Errorf("%w: fund %s: not a JSONP document", ErrBadResponse, code)
	}

	payload := bytes.TrimSpace(body[start+1 : end])
	if len(payload) == 0 {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFund, code)
	}

	var est estimate
	if err := json.Unmarshal(payload, &est); err != nil {
		return model.Quote{}, fmt.Errorf("%w: fund %s: %v", ErrBadResponse, code, err)
	}
	if est.FundCode != "" && est.FundCode != code {
		return model.Quote{}, fmt.Errorf("%w: asked for %s, got %s", ErrBadResponse, code, est.FundCode)
	}

	nav, err := optionalNonNegative("dwjz", est.NAV)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: fund %s: %v", ErrBadResponse, code, err)
	}
	gsz, err := optionalNonNegative("gsz", est.Estimate)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: fund %s: %v", ErrBadResponse, code, err)
	}
	changePct := decimal.Zero
	if est.ChangePct != "" {
		changePct, err = decimal.NewFromString(est.ChangePct)
		if err != nil {
			return model.Quote{}, fmt.Errorf("%w: fund %s: gszzl %q", ErrBadResponse, code, est.ChangePct)
		}
	}

	q := model.Quote{
		Code:       code,
		Name:       est.Name,
		NAV:        nav,
		NAVDate:    est.NAVDate,
		Estimate:   gsz,
		Price:      nav,
		ChangeRate: money.FromPercent(changePct),
		At:         fetchedAt,
	}
	if gsz.IsPositive() {
		q.Price = gsz
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", est.EstTime, shanghai); err == nil {
		q.EstimatedAt = t
	}
	return q, nil
}

func optionalNonNegative(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return money.ParseNonNegative(field, s)
}
