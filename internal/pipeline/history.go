package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

// HistorySource replays a window of archived ticks. Archived synthetic ticks
// are dropped so the bridge can regenerate them deterministically.
type HistorySource struct {
	history     domrepo.PriceHistory
	symbol      string
	isBenchmark bool
	from, to    time.Time
}

func NewHistorySource(h domrepo.PriceHistory, symbol string, isBenchmark bool, from, to time.Time) *HistorySource {
	return &HistorySource{
		history:     h,
		symbol:      strings.ToUpper(symbol),
		isBenchmark: isBenchmark,
		from:        from,
		to:          to,
	}
}

func (s *HistorySource) Name() string { return "archive:" + s.symbol }

func (s *HistorySource) Load(ctx context.Context) ([]models.PriceTick, error) {
	ticks, err := s.history.Ticks(ctx, s.symbol, s.from, s.to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	out := ticks[:0]
	for _, t := range ticks {
		if t.Synthetic {
			continue
		}
		t.IsBenchmark = s.isBenchmark
		t.Source = "archive"
		out = append(out, t)
	}
	return out, nil
}
