// Package feed fetches fund price quotes from external sources.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fundnet/fundtrack/internal/model"
)

var (
	// ErrUnknownFund is returned when the source has no data for a code.
	ErrUnknownFund = errors.New("feed: unknown fund")

	// ErrBadResponse is returned when the source answers with something
	// that cannot be parsed as a quote.
	ErrBadResponse = errors.New("feed: bad response")
)

// Provider returns the latest quote for a fund code.
type Provider interface {
	Quote(ctx context.Context, code string) (model.Quote, error)
}

// Static serves quotes from memory. Used in tests and for offline runs.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
	errs   map[string]error
	now    func() time.Time
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{
		quotes: make(map[string]model.Quote),
		errs:   make(map[string]error),
		now:    time.Now,
	}
}

// Set stores the quote returned for q.Code.
func (s *Static) Set(q model.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Code] = q
	delete(s.errs, q.Code)
}

// Fail makes every request for code return err.
func (s *Static) Fail(code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[code] = err
}

// Quote returns the stored quote stamped with the current time.
func (s *Static) Quote(ctx context.Context, code string) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.errs[code]; ok {
		return model.Quote{}, err
	}
	q, ok := s.quotes[code]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFund, code)
	}
	q.At = s.now()
	return q, nil
}
