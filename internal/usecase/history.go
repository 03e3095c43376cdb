package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

// ErrUnavailable is returned when the backing store is not configured.
var ErrUnavailable = errors.New("store not configured")

// HistoryUseCase answers read-only queries over the fill journal and the
// tick archive.
type HistoryUseCase struct {
	journal domrepo.FillJournal
	archive domrepo.TickArchive
}

// NewHistoryUseCase accepts nil for either store.
func NewHistoryUseCase(journal domrepo.FillJournal, archive domrepo.TickArchive) *HistoryUseCase {
	return &HistoryUseCase{journal: journal, archive: archive}
}

type GetFillsParams struct {
	Symbol string
	Limit  int
}

func (uc *HistoryUseCase) RecentFills(ctx context.Context, p GetFillsParams) ([]models.Fill, error) {
	if uc.journal == nil {
		return nil, fmt.Errorf("fills: %w", ErrUnavailable)
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	fills, err := uc.journal.RecentFills(ctx, strings.ToUpper(p.Symbol), p.Limit)
	if err != nil {
		return nil, fmt.Errorf("recent fills: %w", err)
	}
	return fills, nil
}

type GetTicksParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetTicksResult struct {
	Symbol string             `json:"symbol"`
	From   time.Time          `json:"from"`
	To     time.Time          `json:"to"`
	Count  int                `json:"count"`
	Ticks  []models.PriceTick `json:"ticks"`
}

func (uc *HistoryUseCase) Ticks(ctx context.Context, p GetTicksParams) (*GetTicksResult, error) {
	if uc.archive == nil {
		return nil, fmt.Errorf("ticks: %w", ErrUnavailable)
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	symbol := strings.ToUpper(p.Symbol)
	ticks, err := uc.archive.Query(ctx, symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	return &GetTicksResult{
		Symbol: symbol,
		From:   p.From,
		To:     p.To,
		Count:  len(ticks),
		Ticks:  ticks,
	}, nil
}
